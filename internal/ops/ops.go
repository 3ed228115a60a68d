// Package ops provides the per-frame transformation capability.
// Operations mutate a shared drawing surface in place and are applied in
// caller-defined order, each seeing the cumulative effect of the ones
// before it.
package ops

import (
	"context"

	"github.com/disintegration/imaging"

	"github.com/stillframe/gifpipe/internal/frames"
)

// Operation transforms the current frame on the drawing surface.
type Operation interface {
	// Name identifies the operation in logs and request payloads.
	Name() string

	// Apply mutates the surface for the given frame. State that must
	// survive across frames lives on the operation instance, never on
	// the frame.
	Apply(ctx context.Context, s *frames.Surface, f frames.Frame) error
}

// Compile-time checks that all variants implement Operation.
var (
	_ Operation = (*Blur)(nil)
	_ Operation = (*Saturation)(nil)
	_ Operation = (*Overlay)(nil)
)

// Blur applies a Gaussian blur over the whole surface. A radius of zero
// or less leaves the surface untouched.
type Blur struct {
	Radius float64
}

// Name identifies the operation.
func (o *Blur) Name() string { return "blur" }

// Apply blurs the surface in place.
func (o *Blur) Apply(_ context.Context, s *frames.Surface, _ frames.Frame) error {
	if o.Radius <= 0 {
		return nil
	}
	s.Replace(imaging.Blur(s.RGBA(), o.Radius))
	return nil
}

// Saturation scales color saturation multiplicatively. A factor of 1
// leaves the surface untouched, 0 produces grayscale, 2 doubles it.
// The underlying adjustment clamps to the [0, 2] factor range, so values
// outside it behave like the nearest bound.
type Saturation struct {
	Factor float64
}

// Name identifies the operation.
func (o *Saturation) Name() string { return "saturation" }

// Apply adjusts the surface saturation in place.
func (o *Saturation) Apply(_ context.Context, s *frames.Surface, _ frames.Frame) error {
	if o.Factor == 1 {
		return nil
	}
	percentage := (o.Factor - 1) * 100
	s.Replace(imaging.AdjustSaturation(s.RGBA(), percentage))
	return nil
}
