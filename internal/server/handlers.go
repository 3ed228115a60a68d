package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/stillframe/gifpipe/internal/encode"
	"github.com/stillframe/gifpipe/internal/fetch"
	"github.com/stillframe/gifpipe/internal/job"
	"github.com/stillframe/gifpipe/internal/ops"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service       *job.ConvertService
	validator     *validator.Validate
	overlayLoader ops.ImageLoader
	logger        *slog.Logger
	asyncRun      bool
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncRun enables or disables background execution. When disabled,
// CreateConversion only records the job and returns; tests use this to
// drive the run explicitly.
func WithAsyncRun(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.asyncRun = enabled
	}
}

// WithOverlayLoader sets the loader used for remote overlay assets.
func WithOverlayLoader(l ops.ImageLoader) HandlerOption {
	return func(h *Handlers) {
		h.overlayLoader = l
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.ConvertService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:   service,
		validator: validator.New(),
		logger:    logger,
		asyncRun:  true, // Default to enabled
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateConversion handles POST /conversions requests.
func (h *Handlers) CreateConversion(w http.ResponseWriter, r *http.Request) {
	var req CreateConversionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	operations, err := h.buildOperations(req.Operations)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_OPERATION")
		return
	}

	input := job.ConvertInput{
		Source: fetch.Source{
			URL:       req.URL,
			Headers:   req.Headers,
			Integrity: req.Integrity,
		},
		Operations:    operations,
		Encoding:      buildEncoding(req.Encoding),
		StillFallback: req.StillFallback,
		Publish:       req.Publish,
	}

	created, err := h.service.CreateJob(r.Context(), input)
	if err != nil {
		h.logger.Error("failed to create job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create conversion", "JOB_CREATION_FAILED")
		return
	}

	// Run the conversion in the background on a detached context so the
	// end of this request cannot cancel it.
	if h.asyncRun {
		go func(ctx context.Context, jobID string, inp job.ConvertInput) {
			if runErr := h.service.Run(ctx, jobID, inp); runErr != nil {
				h.logger.Error("background conversion failed",
					slog.String("job_id", jobID),
					slog.String("error", runErr.Error()),
				)
			}
		}(context.WithoutCancel(r.Context()), created.ID, input)
	}

	h.logger.Info("conversion accepted",
		slog.String("job_id", created.ID),
		slog.String("url", req.URL),
	)

	writeJSON(w, http.StatusAccepted, CreateConversionResponse{
		ID:     created.ID,
		Status: string(created.Status),
	})
}

// GetConversion handles GET /conversions/{id} requests.
func (h *Handlers) GetConversion(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "conversion ID is required", "MISSING_ID")
		return
	}

	found, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "conversion not found", "NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get conversion", "FETCH_FAILED")
		return
	}

	resp := ConversionResponse{
		ID:     found.ID,
		Status: string(found.Status),
		Error:  found.Error,
	}

	if found.Status == job.StatusCompleted && found.Result != nil {
		res := found.Result
		resp.FallbackUsed = res.FallbackUsed
		resp.FrameCount = res.FrameCount
		resp.DurationMs = res.TotalDurationMs
		resp.LoopCount = res.LoopCount

		switch {
		case res.PublishedURL != "":
			resp.OutputURL = res.PublishedURL
		case res.OutputPath != "":
			resp.VideoBase64 = h.encodeArtifact(jobID, res.OutputPath)
		case res.StillPath != "":
			resp.StillBase64 = h.encodeArtifact(jobID, res.StillPath)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// encodeArtifact reads an artifact and returns it base64-encoded. Read
// failures are logged and yield an empty string rather than failing the
// whole response.
func (h *Handlers) encodeArtifact(jobID, path string) string {
	data, err := os.ReadFile(path) // #nosec G304 - path was produced by the pipeline
	if err != nil {
		h.logger.Error("failed to read artifact",
			slog.String("job_id", jobID),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

// buildOperations maps request operation specs onto the concrete
// operation chain, preserving order.
func (h *Handlers) buildOperations(specs []OperationSpec) ([]ops.Operation, error) {
	operations := make([]ops.Operation, 0, len(specs))
	for i, spec := range specs {
		switch spec.Type {
		case "blur":
			operations = append(operations, &ops.Blur{Radius: spec.Radius})
		case "saturate":
			factor := 1.0
			if spec.Factor != nil {
				factor = *spec.Factor
			}
			operations = append(operations, &ops.Saturation{Factor: factor})
		case "overlay":
			overlayOpts := []ops.OverlayOption{ops.WithPosition(spec.X, spec.Y)}
			if spec.Width > 0 && spec.Height > 0 {
				overlayOpts = append(overlayOpts, ops.WithSize(spec.Width, spec.Height))
			}
			if spec.Opacity != nil {
				overlayOpts = append(overlayOpts, ops.WithOpacity(*spec.Opacity))
			}
			if h.overlayLoader != nil && isRemote(spec.Source) {
				overlayOpts = append(overlayOpts, ops.WithLoader(h.overlayLoader))
			}
			operations = append(operations, ops.NewOverlay(spec.Source, overlayOpts...))
		default:
			return nil, fmt.Errorf("operation %d: unknown type %q", i, spec.Type)
		}
	}
	return operations, nil
}

// buildEncoding applies request overrides on top of the default encoder
// configuration.
func buildEncoding(spec *EncodingSpec) encode.Config {
	cfg := encode.DefaultConfig()
	if spec == nil {
		return cfg
	}
	if spec.Format != "" {
		cfg.Format = spec.Format
	}
	if spec.Codec != "" {
		cfg.Codec = spec.Codec
	}
	if spec.CRF > 0 {
		cfg.CRF = spec.CRF
	}
	if spec.Preset != "" {
		cfg.Preset = spec.Preset
	}
	if spec.PixelFormat != "" {
		cfg.PixelFormat = spec.PixelFormat
	}
	if len(spec.ExtraFlags) > 0 {
		cfg.ExtraFlags = spec.ExtraFlags
	}
	return cfg
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
