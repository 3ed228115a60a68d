package frames

import (
	"image"
	"image/draw"
)

// Surface is a reusable drawing surface sized to one animation's canvas.
// It is mutated in place, one frame at a time, and must not be shared
// across goroutines.
type Surface struct {
	img *image.RGBA
}

// NewSurface allocates a surface with the given canvas dimensions.
func NewSurface(meta Metadata) (*Surface, error) {
	if meta.Width <= 0 || meta.Height <= 0 {
		return nil, ErrInvalidSurfaceSize
	}
	return &Surface{img: image.NewRGBA(image.Rect(0, 0, meta.Width, meta.Height))}, nil
}

// Bounds returns the surface rectangle.
func (s *Surface) Bounds() image.Rectangle {
	return s.img.Bounds()
}

// Clear resets every pixel to transparent.
func (s *Surface) Clear() {
	for i := range s.img.Pix {
		s.img.Pix[i] = 0
	}
}

// Paint copies a frame's bitmap onto the surface, replacing its content.
func (s *Surface) Paint(f Frame) {
	draw.Draw(s.img, s.img.Bounds(), f.Bitmap, f.Bitmap.Bounds().Min, draw.Src)
}

// Compose draws an image over the surface content at the given offset.
func (s *Surface) Compose(img image.Image, at image.Point) {
	bounds := img.Bounds()
	rect := image.Rect(at.X, at.Y, at.X+bounds.Dx(), at.Y+bounds.Dy())
	draw.Draw(s.img, rect, img, bounds.Min, draw.Over)
}

// Replace overwrites the whole surface with the given image, which must
// cover at least the surface bounds.
func (s *Surface) Replace(img image.Image) {
	draw.Draw(s.img, s.img.Bounds(), img, img.Bounds().Min, draw.Src)
}

// RGBA exposes the live pixel buffer. Callers may mutate it directly;
// the buffer stays owned by the surface.
func (s *Surface) RGBA() *image.RGBA {
	return s.img
}
