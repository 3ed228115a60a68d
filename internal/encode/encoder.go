// Package encode invokes the external video encoder over a processed-frame
// manifest.
package encode

import (
	"context"
	"time"

	"github.com/stillframe/gifpipe/internal/render"
)

// Config is the pass-through configuration for the external encoder. The
// pipeline hands every field to the encoder verbatim and never interprets
// codec semantics.
type Config struct {
	// Format is the output container, e.g. "mp4" or "webm".
	Format string
	// Codec is the video codec, e.g. "libx264".
	Codec string
	// CRF is the constant rate factor. Values <= 0 omit the flag.
	CRF int
	// Preset is the encoder speed preset, e.g. "fast".
	Preset string
	// PixelFormat is the output pixel format, e.g. "yuv420p".
	PixelFormat string
	// ExtraFlags are appended to the encoder arguments verbatim, in order.
	ExtraFlags []string
}

// DefaultConfig returns an H.264 MP4 configuration that plays in browsers
// and chat clients. The pad filter keeps dimensions even as required by
// yuv420p, and faststart moves the index ahead of the media data.
func DefaultConfig() Config {
	return Config{
		Format:      "mp4",
		Codec:       "libx264",
		CRF:         23,
		Preset:      "fast",
		PixelFormat: "yuv420p",
		ExtraFlags: []string{
			"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
			"-movflags", "+faststart",
		},
	}
}

// Encoder turns a processed-frame manifest into a video file.
// Implementations should use ffmpeg or a similar tool.
type Encoder interface {
	// Encode muxes the manifest's frames, honoring each entry's duration,
	// into a video at outputPath. A missing or empty output file is an
	// error even when the encoder exits zero.
	Encode(ctx context.Context, manifest *render.Manifest, cfg Config, outputPath string) error

	// ProbeDuration reports the duration of an encoded media file.
	ProbeDuration(ctx context.Context, path string) (time.Duration, error)
}
