// Package render rasterizes decoded animation frames to still-image files.
package render

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/stillframe/gifpipe/internal/frames"
	"github.com/stillframe/gifpipe/internal/ops"
)

// ProcessingError is returned when frame rasterization fails: surface
// allocation, an operation in the chain, or a disk write.
type ProcessingError struct {
	Err error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("render: processing failed: %v", e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// ProcessedFrame is one manifest entry: a rasterized frame file plus its
// timing. PresentationTimestampMs of frame i+1 always equals the sum of
// the durations of frames 0..i.
type ProcessedFrame struct {
	Index                   int
	PresentationTimestampMs int
	DurationMs              int
	Path                    string
}

// Manifest is the ordered processed-frame sequence handed to the encoder.
// Dir is the scoped directory holding the frame files; the renderer never
// removes it, cleanup belongs to the orchestrator.
type Manifest struct {
	Frames []ProcessedFrame
	Dir    string
}

// TotalDurationMs returns the summed display time of all frames.
func (m *Manifest) TotalDurationMs() int {
	total := 0
	for _, f := range m.Frames {
		total += f.DurationMs
	}
	return total
}

// Renderer drives one reusable drawing surface over a frame sequence,
// applying the operation chain and writing each result to disk.
type Renderer struct {
	defaultRoot string
	logger      *slog.Logger
}

// NewRenderer creates a renderer. defaultRoot is used when Process is
// called without an explicit root; empty falls back to the system temp
// directory.
func NewRenderer(defaultRoot string, logger *slog.Logger) *Renderer {
	if defaultRoot == "" {
		defaultRoot = os.TempDir()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{defaultRoot: defaultRoot, logger: logger}
}

// Process rasterizes every frame of the animation in order. For each
// frame it clears the surface, paints the frame bitmap, applies the
// operations in list order, and writes the result as a PNG into a
// freshly created scoped directory under tmpRoot.
func (r *Renderer) Process(ctx context.Context, anim *frames.Animation, operations []ops.Operation, tmpRoot string) (*Manifest, error) {
	surface, err := frames.NewSurface(anim.Metadata())
	if err != nil {
		return nil, &ProcessingError{Err: err}
	}

	if tmpRoot == "" {
		tmpRoot = r.defaultRoot
	}
	if err := os.MkdirAll(tmpRoot, 0o750); err != nil {
		return nil, &ProcessingError{Err: fmt.Errorf("create temp root: %w", err)}
	}
	dir := filepath.Join(tmpRoot, "frames-"+uuid.NewString())
	if err := os.Mkdir(dir, 0o750); err != nil {
		return nil, &ProcessingError{Err: fmt.Errorf("create frame dir: %w", err)}
	}

	manifest := &Manifest{Dir: dir}
	pts := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, &ProcessingError{Err: err}
		}

		frame, ok := anim.Next()
		if !ok {
			break
		}

		surface.Clear()
		surface.Paint(frame)

		for _, op := range operations {
			if err := op.Apply(ctx, surface, frame); err != nil {
				return nil, &ProcessingError{Err: fmt.Errorf("operation %s on frame %d: %w", op.Name(), frame.Index, err)}
			}
		}

		path := filepath.Join(dir, fmt.Sprintf("frame%06d.png", frame.Index))
		if err := writePNG(path, surface.RGBA()); err != nil {
			return nil, &ProcessingError{Err: err}
		}

		duration := frame.Duration()
		manifest.Frames = append(manifest.Frames, ProcessedFrame{
			Index:                   frame.Index,
			PresentationTimestampMs: pts,
			DurationMs:              duration,
			Path:                    path,
		})
		pts += duration
	}

	if len(manifest.Frames) == 0 {
		return nil, &ProcessingError{Err: frames.ErrNoFrames}
	}

	r.logger.Debug("frames rasterized",
		slog.Int("frames", len(manifest.Frames)),
		slog.Int("duration_ms", pts),
		slog.String("dir", dir),
	)

	return manifest, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path) // #nosec G304 - path is built from our own scoped directory
	if err != nil {
		return fmt.Errorf("create frame file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close frame file: %w", err)
	}
	return nil
}
