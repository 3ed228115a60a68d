// Package server provides the HTTP surface for the conversion service:
// handlers, middleware, routes, and DTOs separated from domain types.
package server

// OperationSpec describes one entry of the per-frame transformation
// chain in a conversion request. Type selects the variant; the other
// fields parameterize it.
type OperationSpec struct {
	// Type is the operation kind: "blur", "saturate", or "overlay".
	Type string `json:"type" validate:"required,oneof=blur saturate overlay"`
	// Radius is the blur radius in pixels. Zero is a no-op.
	Radius float64 `json:"radius,omitempty" validate:"omitempty,min=0,max=64"`
	// Factor is the saturation multiplier in [0, 2]. Nil defaults to 1
	// (no-op). The adjustment saturates at 2, so larger values are
	// rejected rather than silently clamped.
	Factor *float64 `json:"factor,omitempty" validate:"omitempty,min=0,max=2"`
	// Source is the overlay asset location (URL or local path).
	Source string `json:"source,omitempty" validate:"required_if=Type overlay"`
	// X and Y position the overlay's top-left corner.
	X int `json:"x,omitempty" validate:"omitempty,min=0"`
	Y int `json:"y,omitempty" validate:"omitempty,min=0"`
	// Width and Height resize the overlay asset. Zero keeps natural size.
	Width  int `json:"width,omitempty" validate:"omitempty,min=0,max=4096"`
	Height int `json:"height,omitempty" validate:"omitempty,min=0,max=4096"`
	// Opacity is the overlay alpha in [0, 1]. Nil defaults to 1.
	Opacity *float64 `json:"opacity,omitempty" validate:"omitempty,min=0,max=1"`
}

// EncodingSpec overrides parts of the default encoder configuration.
// Omitted fields keep their defaults.
type EncodingSpec struct {
	Format      string   `json:"format,omitempty" validate:"omitempty,oneof=mp4 webm mov"`
	Codec       string   `json:"codec,omitempty"`
	CRF         int      `json:"crf,omitempty" validate:"omitempty,min=0,max=63"`
	Preset      string   `json:"preset,omitempty"`
	PixelFormat string   `json:"pixel_format,omitempty"`
	ExtraFlags  []string `json:"extra_flags,omitempty"`
}

// CreateConversionRequest is the HTTP request body for starting a
// conversion.
type CreateConversionRequest struct {
	// URL is the remote animated image to convert.
	URL string `json:"url" validate:"required,url"`
	// Integrity is the optional expected hex SHA-256 digest of the payload.
	Integrity string `json:"integrity,omitempty" validate:"omitempty,len=64,hexadecimal"`
	// Headers are extra request headers sent when fetching the source.
	Headers map[string]string `json:"headers,omitempty"`
	// Operations is the ordered transformation chain.
	Operations []OperationSpec `json:"operations,omitempty" validate:"omitempty,dive"`
	// Encoding overrides the default encoder configuration.
	Encoding *EncodingSpec `json:"encoding,omitempty"`
	// StillFallback produces a still image instead of failing outright.
	StillFallback bool `json:"still_fallback"`
	// Publish uploads the finished artifact and returns its URL.
	Publish bool `json:"publish"`
}

// CreateConversionResponse is the HTTP response after accepting a
// conversion.
type CreateConversionResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// ConversionResponse is the HTTP response for conversion details.
type ConversionResponse struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// Status is the current job status.
	Status string `json:"status"`
	// Error contains the failure message if the job failed.
	Error string `json:"error,omitempty"`
	// FallbackUsed is true when a still image was produced instead of a video.
	FallbackUsed bool `json:"fallback_used"`
	// OutputURL is the published artifact URL (if publish=true and completed).
	OutputURL string `json:"output_url,omitempty"`
	// VideoBase64 is the base64-encoded video (if not published and completed).
	VideoBase64 string `json:"video_base64,omitempty"`
	// StillBase64 is the base64-encoded fallback still image.
	StillBase64 string `json:"still_base64,omitempty"`
	// FrameCount is the number of frames rasterized.
	FrameCount int `json:"frame_count,omitempty"`
	// DurationMs is the summed display time of all frames.
	DurationMs int `json:"duration_ms,omitempty"`
	// LoopCount is the source animation's loop count: 0 means loop
	// forever, -1 means play once.
	LoopCount int `json:"loop_count"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
