// Package frames decodes animated GIF payloads into full-canvas RGBA frames.
package frames

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/gif"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/matchers"
)

// Static errors for decode operations.
var (
	// ErrEmptyPayload is returned when the payload contains no bytes.
	ErrEmptyPayload = errors.New("frames: empty payload")
	// ErrNotGIF is returned when the payload magic bytes are not a GIF.
	ErrNotGIF = errors.New("frames: payload is not a GIF")
	// ErrNoFrames is returned when the animation contains no frames.
	ErrNoFrames = errors.New("frames: animation has no frames")
	// ErrInvalidSurfaceSize is returned when a surface is requested with non-positive dimensions.
	ErrInvalidSurfaceSize = errors.New("frames: surface dimensions must be positive")
)

// DecodeError is returned when a payload cannot be decoded into frames.
// Retrying a decode of the same bytes cannot succeed, so callers should
// treat it as permanent.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("frames: decode failed: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Metadata holds the canvas dimensions shared by all frames of an animation.
type Metadata struct {
	Width  int
	Height int
}

// Frame is one fully composited frame of an animation. Bitmap always covers
// the whole canvas; sub-image deltas from the container are already merged
// against prior canvas state according to their disposal policy.
type Frame struct {
	Index             int
	Bitmap            *image.RGBA
	DelayCentiseconds int
	Disposal          byte
}

// Duration returns the frame's display time in milliseconds.
func (f Frame) Duration() int {
	return f.DelayCentiseconds * 10
}

// Animation is a forward-only cursor over the composited frames of a decoded
// GIF. It holds at most one canvas plus one restore snapshot in memory;
// frames are composited on demand by Next.
type Animation struct {
	meta      Metadata
	loopCount int
	g         *gif.GIF
	index     int
	canvas    *image.RGBA
	previous  *image.RGBA
}

// Decode parses a GIF payload. The returned Animation yields frames in
// order through Next; the cursor cannot be restarted.
func Decode(buf []byte) (*Animation, error) {
	if len(buf) == 0 {
		return nil, &DecodeError{Err: ErrEmptyPayload}
	}

	kind, _ := filetype.Match(buf)
	if kind != matchers.TypeGif {
		return nil, &DecodeError{Err: fmt.Errorf("%w: detected %q", ErrNotGIF, kind.Extension)}
	}

	g, err := gif.DecodeAll(bytes.NewReader(buf))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if len(g.Image) == 0 {
		return nil, &DecodeError{Err: ErrNoFrames}
	}

	width, height := g.Config.Width, g.Config.Height
	if width <= 0 || height <= 0 {
		// Some encoders omit the logical screen size. Fall back to the
		// union of the frame rectangles.
		var union image.Rectangle
		for _, im := range g.Image {
			union = union.Union(im.Bounds())
		}
		width, height = union.Max.X, union.Max.Y
	}
	if width <= 0 || height <= 0 {
		return nil, &DecodeError{Err: ErrNoFrames}
	}

	return &Animation{
		meta:      Metadata{Width: width, Height: height},
		loopCount: g.LoopCount,
		g:         g,
		canvas:    image.NewRGBA(image.Rect(0, 0, width, height)),
	}, nil
}

// DecodeStill decodes only the first composited frame of a GIF payload.
func DecodeStill(buf []byte) (*image.RGBA, error) {
	anim, err := Decode(buf)
	if err != nil {
		return nil, err
	}
	frame, ok := anim.Next()
	if !ok {
		return nil, &DecodeError{Err: ErrNoFrames}
	}
	return frame.Bitmap, nil
}

// Metadata returns the canvas dimensions.
func (a *Animation) Metadata() Metadata {
	return a.meta
}

// Len returns the total number of frames in the animation.
func (a *Animation) Len() int {
	return len(a.g.Image)
}

// LoopCount reports the container's loop count: 0 means loop forever,
// -1 means play once.
func (a *Animation) LoopCount() int {
	return a.loopCount
}

// Next composites and returns the next frame. It returns false once the
// animation is exhausted. The returned bitmap is a copy; mutating it does
// not affect later frames.
func (a *Animation) Next() (Frame, bool) {
	if a.index >= len(a.g.Image) {
		return Frame{}, false
	}

	i := a.index
	src := a.g.Image[i]
	bounds := src.Bounds().Intersect(a.canvas.Bounds())

	var disposal byte
	if i < len(a.g.Disposal) {
		disposal = a.g.Disposal[i]
	}
	var delay int
	if i < len(a.g.Delay) {
		delay = a.g.Delay[i]
	}
	if delay < 0 {
		delay = 0
	}

	if disposal == gif.DisposalPrevious {
		a.previous = cloneRGBA(a.canvas)
	}

	draw.Draw(a.canvas, bounds, src, bounds.Min, draw.Over)

	frame := Frame{
		Index:             i,
		Bitmap:            cloneRGBA(a.canvas),
		DelayCentiseconds: delay,
		Disposal:          disposal,
	}

	// Prepare the canvas for the next frame according to this frame's
	// disposal policy. Unspecified and DisposalNone leave it untouched.
	switch disposal {
	case gif.DisposalBackground:
		draw.Draw(a.canvas, bounds, image.Transparent, image.Point{}, draw.Src)
	case gif.DisposalPrevious:
		if a.previous != nil {
			copy(a.canvas.Pix, a.previous.Pix)
			a.previous = nil
		}
	}

	a.index++
	return frame, true
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Rect)
	copy(dst.Pix, src.Pix)
	return dst
}
