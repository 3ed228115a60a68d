package encode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/stillframe/gifpipe/internal/render"
)

// Static errors for encoding operations.
var (
	// ErrEmptyManifest is returned when the manifest contains no frames.
	ErrEmptyManifest = errors.New("encode: manifest has no frames")
	// ErrNoOutput is returned when the encoder exits cleanly but the output file is missing or empty.
	ErrNoOutput = errors.New("encode: encoder produced no output file")
	// ErrFFprobeExecution is returned when the ffprobe command fails.
	ErrFFprobeExecution = errors.New("encode: ffprobe execution failed")
)

// FFmpegEncoder implements Encoder using the ffmpeg CLI.
type FFmpegEncoder struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	// ffprobePath is the path to the ffprobe binary, expected next to a
	// custom ffmpeg binary.
	ffprobePath string
}

var _ Encoder = (*FFmpegEncoder)(nil)

// NewFFmpegEncoder creates a new FFmpegEncoder.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
// When ffmpegPath carries a directory, ffprobe is resolved from the same
// directory; otherwise it comes from PATH.
func NewFFmpegEncoder(ffmpegPath string) *FFmpegEncoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	ffprobePath := "ffprobe"
	if dir := filepath.Dir(ffmpegPath); dir != "." {
		ffprobePath = filepath.Join(dir, "ffprobe")
	}
	return &FFmpegEncoder{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// Encode muxes the manifest frames into a video using the concat demuxer,
// supplying each frame's display duration explicitly.
func (e *FFmpegEncoder) Encode(ctx context.Context, manifest *render.Manifest, cfg Config, outputPath string) error {
	if manifest == nil || len(manifest.Frames) == 0 {
		return ErrEmptyManifest
	}

	listFile, err := e.writeConcatScript(manifest)
	if err != nil {
		return fmt.Errorf("encode: write concat script: %w", err)
	}

	args := []string{
		"-y",           // Overwrite output file
		"-f", "concat", // Use concat demuxer
		"-safe", "0", // Allow absolute paths
		"-i", listFile, // Input frame list with durations
	}
	if cfg.Codec != "" {
		args = append(args, "-c:v", cfg.Codec)
	}
	if cfg.Preset != "" {
		args = append(args, "-preset", cfg.Preset)
	}
	if cfg.CRF > 0 {
		args = append(args, "-crf", strconv.Itoa(cfg.CRF))
	}
	if cfg.PixelFormat != "" {
		args = append(args, "-pix_fmt", cfg.PixelFormat)
	}
	args = append(args, cfg.ExtraFlags...)
	if cfg.Format != "" {
		args = append(args, "-f", cfg.Format)
	}
	args = append(args, outputPath)

	if err := e.runFFmpeg(ctx, args); err != nil {
		return err
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrNoOutput, outputPath)
	}

	return nil
}

// writeConcatScript writes the frame list in the concat demuxer format,
// one file entry with an explicit duration per frame. The final frame is
// repeated because the demuxer ignores the trailing duration otherwise.
// The script lives inside the manifest's scoped directory and is removed
// with it.
func (e *FFmpegEncoder) writeConcatScript(manifest *render.Manifest) (string, error) {
	f, err := os.CreateTemp(manifest.Dir, "concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("create list file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var lastPath string
	for _, frame := range manifest.Frames {
		absPath, err := filepath.Abs(frame.Path)
		if err != nil {
			return "", fmt.Errorf("get absolute path for %s: %w", frame.Path, err)
		}
		// Escape single quotes in path
		escaped := strings.ReplaceAll(absPath, "'", "'\\''")
		if _, err := fmt.Fprintf(f, "file '%s'\nduration %.3f\n", escaped, float64(frame.DurationMs)/1000); err != nil {
			return "", fmt.Errorf("write list entry: %w", err)
		}
		lastPath = escaped
	}

	if _, err := fmt.Fprintf(f, "file '%s'\n", lastPath); err != nil {
		return "", fmt.Errorf("write final list entry: %w", err)
	}

	return f.Name(), nil
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (e *FFmpegEncoder) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// Check if context was cancelled
		if ctx.Err() != nil {
			return fmt.Errorf("encode: ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// ProbeDuration returns the duration of a media file.
// It uses ffprobe to extract the duration metadata.
func (e *FFmpegEncoder) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	// #nosec G204 - path is provided by trusted internal code
	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("encode: ffprobe cancelled: %w", ctx.Err())
		}
		return 0, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	var seconds float64
	if _, err := fmt.Sscanf(strings.TrimSpace(stdout.String()), "%f", &seconds); err != nil {
		return 0, fmt.Errorf("encode: parse duration: %w", err)
	}

	return time.Duration(seconds * float64(time.Second)), nil
}
