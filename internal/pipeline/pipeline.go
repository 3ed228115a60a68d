// Package pipeline orchestrates the conversion of a remote animated GIF
// into a video file. It drives fetch, decode, process, and encode in
// strict sequence and applies the still-image fallback policy when a
// stage fails.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/stillframe/gifpipe/internal/encode"
	"github.com/stillframe/gifpipe/internal/fetch"
	"github.com/stillframe/gifpipe/internal/frames"
	"github.com/stillframe/gifpipe/internal/ops"
	"github.com/stillframe/gifpipe/internal/render"
)

// Stage identifies one phase of a conversion run.
type Stage string

const (
	// StageFetching downloads the source payload.
	StageFetching Stage = "fetching"
	// StageDecoding parses the payload into composited frames.
	StageDecoding Stage = "decoding"
	// StageProcessing rasterizes frames through the operation chain.
	StageProcessing Stage = "processing"
	// StageEncoding muxes the processed frames into a video.
	StageEncoding Stage = "encoding"
)

// StageError wraps a stage failure with the stage it happened in. It is
// returned only when the fallback is disabled or the fallback itself
// could not produce a still image.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: %s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the whole conversion could succeed.
// Download exhaustion is transient; decode, processing, and encoding
// failures are permanent for the same input.
func (e *StageError) Transient() bool {
	var de *fetch.DownloadError
	return errors.As(e.Err, &de)
}

// Options configures one conversion run. It is immutable for the run's
// lifetime.
type Options struct {
	// Source is the remote animated image to convert.
	Source fetch.Source
	// Operations is the per-frame transformation chain, applied in order.
	Operations []ops.Operation
	// Encoding is handed to the external encoder verbatim.
	Encoding encode.Config
	// StillFallback enables the degraded still-image output when any
	// stage fails. When false, stage failures propagate to the caller.
	StillFallback bool
}

// Diagnostics carries details about a finished run for logging and the
// API response. It never affects the success/fallback decision.
type Diagnostics struct {
	FrameCount      int
	TotalDurationMs int
	// LoopCount is the container's loop count: 0 means loop forever,
	// -1 means play once.
	LoopCount       int
	VideoDurationMs int64
	FailedStage     Stage
	Cause           string
	ETag            string
	LastModified    string
}

// Result is the outcome of a conversion run. Exactly one of OutputPath
// (video produced) or FallbackUsed (still image at StillPath) is set;
// a run that can set neither returns an error instead.
type Result struct {
	OutputPath   string
	StillPath    string
	FallbackUsed bool
	Diagnostics  Diagnostics
}

// Pipeline drives the conversion stages in order. Each Execute call owns
// its work directory and buffers, so separate invocations may run
// concurrently.
type Pipeline struct {
	fetcher  fetch.Fetcher
	renderer *render.Renderer
	encoder  encode.Encoder
	outRoot  string
	logger   *slog.Logger
}

// New creates a pipeline. outRoot is where work directories and final
// artifacts are created; empty falls back to the system temp directory.
func New(fetcher fetch.Fetcher, renderer *render.Renderer, encoder encode.Encoder, outRoot string, logger *slog.Logger) *Pipeline {
	if outRoot == "" {
		outRoot = os.TempDir()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		fetcher:  fetcher,
		renderer: renderer,
		encoder:  encoder,
		outRoot:  outRoot,
		logger:   logger,
	}
}

// Execute runs one conversion: fetch, decode, process, encode. The work
// directory holding the frame files is removed on every exit path; the
// final artifact (video or still) is written outside it and belongs to
// the caller afterwards.
func (p *Pipeline) Execute(ctx context.Context, opts Options) (Result, error) {
	runID := uuid.NewString()
	workDir := filepath.Join(p.outRoot, "work-"+runID)
	if err := os.MkdirAll(workDir, 0o750); err != nil {
		return Result{}, fmt.Errorf("pipeline: create work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			p.logger.Warn("work dir cleanup failed",
				slog.String("dir", workDir),
				slog.String("error", err.Error()),
			)
		}
	}()

	var diag Diagnostics

	p.logger.Debug("fetching source",
		slog.String("url", opts.Source.URL),
	)
	dl, err := p.fetcher.Fetch(ctx, opts.Source)
	if err != nil {
		return p.fail(opts, StageFetching, err, nil, diag)
	}
	diag.ETag = dl.ETag
	diag.LastModified = dl.LastModified
	payload := dl.Buffer

	anim, err := frames.Decode(payload)
	if err != nil {
		return p.fail(opts, StageDecoding, err, payload, diag)
	}
	diag.LoopCount = anim.LoopCount()

	manifest, err := p.renderer.Process(ctx, anim, opts.Operations, workDir)
	if err != nil {
		return p.fail(opts, StageProcessing, err, payload, diag)
	}
	diag.FrameCount = len(manifest.Frames)
	diag.TotalDurationMs = manifest.TotalDurationMs()

	outputPath := filepath.Join(p.outRoot, fmt.Sprintf("video-%s.%s", runID, containerExt(opts.Encoding.Format)))
	if err := p.encoder.Encode(ctx, manifest, opts.Encoding, outputPath); err != nil {
		return p.fail(opts, StageEncoding, err, payload, diag)
	}

	// The probed duration is informational only; a probe failure never
	// turns a produced video into a fallback.
	if d, err := p.encoder.ProbeDuration(ctx, outputPath); err == nil {
		diag.VideoDurationMs = d.Milliseconds()
	} else {
		p.logger.Debug("duration probe failed",
			slog.String("path", outputPath),
			slog.String("error", err.Error()),
		)
	}

	p.logger.Info("conversion succeeded",
		slog.String("url", opts.Source.URL),
		slog.String("output", outputPath),
		slog.Int("frames", diag.FrameCount),
		slog.Int("duration_ms", diag.TotalDurationMs),
	)

	return Result{OutputPath: outputPath, Diagnostics: diag}, nil
}

// fail applies the fallback policy for a stage failure. With the
// fallback disabled, the failure propagates wrapped in a StageError.
// Otherwise a still image is produced from the downloaded payload, or
// from a neutral placeholder when no decodable payload exists. The
// fallback does no cancellable work, so a tripped pipeline deadline
// cannot starve the degraded path.
func (p *Pipeline) fail(opts Options, stage Stage, cause error, payload []byte, diag Diagnostics) (Result, error) {
	stageErr := &StageError{Stage: stage, Err: cause}
	diag.FailedStage = stage
	diag.Cause = cause.Error()

	if !opts.StillFallback {
		return Result{}, stageErr
	}

	p.logger.Warn("stage failed, falling back to still image",
		slog.String("url", opts.Source.URL),
		slog.String("stage", string(stage)),
		slog.String("error", cause.Error()),
	)

	stillPath := filepath.Join(p.outRoot, fmt.Sprintf("still-%s.png", uuid.NewString()))
	if err := writePNG(stillPath, stillImage(payload)); err != nil {
		return Result{}, fmt.Errorf("pipeline: write fallback still: %w (after %w)", err, stageErr)
	}

	return Result{StillPath: stillPath, FallbackUsed: true, Diagnostics: diag}, nil
}

// stillImage returns the first composited frame of the payload, or a
// neutral placeholder when the payload is missing or undecodable.
func stillImage(payload []byte) image.Image {
	if len(payload) > 0 {
		if img, err := frames.DecodeStill(payload); err == nil {
			return img
		}
	}

	placeholder := image.NewRGBA(image.Rect(0, 0, 64, 64))
	gray := color.RGBA{R: 0x2f, G: 0x31, B: 0x36, A: 0xff}
	draw.Draw(placeholder, placeholder.Bounds(), image.NewUniform(gray), image.Point{}, draw.Src)
	return placeholder
}

// containerExt maps the configured container format to the output file
// extension.
func containerExt(format string) string {
	if format == "" {
		return "mp4"
	}
	return strings.ToLower(format)
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path) // #nosec G304 - path is built from our own output root
	if err != nil {
		return fmt.Errorf("create still file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode still: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close still file: %w", err)
	}
	return nil
}
