package ops

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/stillframe/gifpipe/internal/fetch"
	"github.com/stillframe/gifpipe/internal/frames"
)

// ImageLoader loads an overlay asset from a source reference.
type ImageLoader interface {
	Load(ctx context.Context, source string) (image.Image, error)
}

// FileLoader loads overlay assets from the local filesystem.
type FileLoader struct{}

// Load opens and decodes the image at the given path.
func (FileLoader) Load(_ context.Context, source string) (image.Image, error) {
	return imaging.Open(source)
}

// HTTPLoader loads overlay assets from remote URLs through a Fetcher,
// inheriting its size cap and retry policy.
type HTTPLoader struct {
	Fetcher fetch.Fetcher
}

// Load downloads and decodes the image at the given URL.
func (l HTTPLoader) Load(ctx context.Context, source string) (image.Image, error) {
	res, err := l.Fetcher.Fetch(ctx, fetch.Source{URL: source})
	if err != nil {
		return nil, err
	}
	return imaging.Decode(bytes.NewReader(res.Buffer))
}

// Overlay composites a secondary image onto every frame at a fixed
// position, size, and opacity. The asset is loaded lazily on the first
// frame and cached for the rest of the invocation.
type Overlay struct {
	source   string
	loader   ImageLoader
	position image.Point
	width    int
	height   int
	opacity  float64

	img     image.Image
	loadErr error
}

// OverlayOption is a function that configures an Overlay.
type OverlayOption func(*Overlay)

// WithLoader sets the loader used to fetch the overlay asset.
func WithLoader(l ImageLoader) OverlayOption {
	return func(o *Overlay) {
		o.loader = l
	}
}

// WithPosition sets the top-left corner where the overlay is drawn.
func WithPosition(x, y int) OverlayOption {
	return func(o *Overlay) {
		o.position = image.Pt(x, y)
	}
}

// WithSize resizes the overlay asset to the given dimensions before
// compositing. Zero keeps the asset's natural size.
func WithSize(width, height int) OverlayOption {
	return func(o *Overlay) {
		o.width = width
		o.height = height
	}
}

// WithOpacity sets the overlay opacity in the range [0, 1].
func WithOpacity(a float64) OverlayOption {
	return func(o *Overlay) {
		o.opacity = a
	}
}

// NewOverlay creates an overlay operation for the given asset source.
// By default the asset is loaded from the local filesystem, drawn at the
// origin, at natural size, fully opaque.
func NewOverlay(source string, opts ...OverlayOption) *Overlay {
	o := &Overlay{
		source:  source,
		loader:  FileLoader{},
		opacity: 1,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Name identifies the operation.
func (o *Overlay) Name() string { return "overlay" }

// Apply composites the overlay asset onto the surface.
func (o *Overlay) Apply(ctx context.Context, s *frames.Surface, _ frames.Frame) error {
	img, err := o.image(ctx)
	if err != nil {
		return err
	}
	s.Replace(imaging.Overlay(s.RGBA(), img, o.position, o.opacity))
	return nil
}

// image returns the cached overlay asset, loading and resizing it on the
// first call. The error is cached too so a failed load is not repeated
// for every frame.
func (o *Overlay) image(ctx context.Context) (image.Image, error) {
	if o.img != nil || o.loadErr != nil {
		return o.img, o.loadErr
	}

	img, err := o.loader.Load(ctx, o.source)
	if err != nil {
		o.loadErr = fmt.Errorf("ops: load overlay %s: %w", o.source, err)
		return nil, o.loadErr
	}

	if o.width > 0 && o.height > 0 {
		img = imaging.Resize(img, o.width, o.height, imaging.Lanczos)
	}

	o.img = img
	return o.img, nil
}
