package job

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/stillframe/gifpipe/internal/encode"
	"github.com/stillframe/gifpipe/internal/fetch"
	"github.com/stillframe/gifpipe/internal/ops"
	"github.com/stillframe/gifpipe/internal/pipeline"
	"github.com/stillframe/gifpipe/internal/storage"
)

// Converter runs one gif-to-video conversion. pipeline.Pipeline is the
// production implementation; tests substitute a stub.
type Converter interface {
	Execute(ctx context.Context, opts pipeline.Options) (pipeline.Result, error)
}

// ConvertInput contains everything needed to run one conversion.
type ConvertInput struct {
	// Source is the remote animated image to convert.
	Source fetch.Source
	// Operations is the per-frame transformation chain, in order.
	Operations []ops.Operation
	// Encoding is passed to the encoder verbatim.
	Encoding encode.Config
	// StillFallback enables the degraded still-image output.
	StillFallback bool
	// Publish uploads the finished artifact and records its URL.
	Publish bool
}

// ConvertService creates conversion jobs and runs the pipeline for them,
// recording the outcome in the repository.
type ConvertService struct {
	repo      Repository
	converter Converter
	store     storage.Storage
	timeout   time.Duration
	logger    *slog.Logger
}

// ServiceOption configures a ConvertService.
type ServiceOption func(*ConvertService)

// WithTimeout sets the overall deadline applied to each pipeline run.
// Zero disables the deadline.
func WithTimeout(d time.Duration) ServiceOption {
	return func(s *ConvertService) {
		s.timeout = d
	}
}

// NewConvertService creates a ConvertService.
func NewConvertService(repo Repository, converter Converter, store storage.Storage, logger *slog.Logger, opts ...ServiceOption) *ConvertService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ConvertService{
		repo:      repo,
		converter: converter,
		store:     store,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJob creates a job for the input and persists it in IN_QUEUE.
func (s *ConvertService) CreateJob(ctx context.Context, input ConvertInput) (*Job, error) {
	j := New(input.Source.URL, input.Publish)

	s.logger.Info("creating conversion job",
		slog.String("job_id", j.ID),
		slog.String("url", input.Source.URL),
		slog.Int("operations", len(input.Operations)),
		slog.Bool("still_fallback", input.StillFallback),
		slog.Bool("publish", input.Publish),
	)

	if err := s.repo.Save(ctx, j); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	return j, nil
}

// GetJob retrieves a job by ID.
func (s *ConvertService) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// Run executes the conversion for an existing job: transitions it to
// RUNNING, drives the pipeline under the configured deadline, optionally
// publishes the artifact, and records the terminal state.
func (s *ConvertService) Run(ctx context.Context, jobID string, input ConvertInput) error {
	j, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return err
	}

	if err := j.Start(); err != nil {
		return fmt.Errorf("job %s: %w", jobID, err)
	}
	if err := s.repo.Save(ctx, j); err != nil {
		return err
	}

	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, err := s.converter.Execute(runCtx, pipeline.Options{
		Source:        input.Source,
		Operations:    input.Operations,
		Encoding:      input.Encoding,
		StillFallback: input.StillFallback,
	})
	if err != nil {
		s.logger.Error("conversion failed",
			slog.String("job_id", jobID),
			slog.String("url", input.Source.URL),
			slog.String("error", err.Error()),
		)
		if ferr := j.Fail(err.Error()); ferr != nil {
			return ferr
		}
		if serr := s.repo.Save(ctx, j); serr != nil {
			return serr
		}
		return err
	}

	result := Result{
		OutputPath:      res.OutputPath,
		StillPath:       res.StillPath,
		FallbackUsed:    res.FallbackUsed,
		FrameCount:      res.Diagnostics.FrameCount,
		TotalDurationMs: res.Diagnostics.TotalDurationMs,
		LoopCount:       res.Diagnostics.LoopCount,
		VideoDurationMs: res.Diagnostics.VideoDurationMs,
	}

	// Publication is best-effort; a failed upload keeps the local
	// artifact and completes the job without a URL. Once published, the
	// local copy is redundant and gets removed.
	if input.Publish {
		if url, perr := s.publish(ctx, jobID, result); perr != nil {
			s.logger.Warn("artifact publication failed",
				slog.String("job_id", jobID),
				slog.String("error", perr.Error()),
			)
		} else {
			result.PublishedURL = url
			if cerr := s.store.Cleanup(ctx, artifactPaths(result)); cerr != nil {
				s.logger.Warn("local artifact cleanup failed",
					slog.String("job_id", jobID),
					slog.String("error", cerr.Error()),
				)
			}
		}
	}

	j.SetResult(result)
	if err := j.Complete(); err != nil {
		return err
	}
	if err := s.repo.Save(ctx, j); err != nil {
		return err
	}

	s.logger.Info("conversion job completed",
		slog.String("job_id", jobID),
		slog.Bool("fallback_used", result.FallbackUsed),
		slog.Int("frames", result.FrameCount),
	)

	return nil
}

// artifactPaths lists the local files a result produced.
func artifactPaths(res Result) []string {
	var paths []string
	if res.OutputPath != "" {
		paths = append(paths, res.OutputPath)
	}
	if res.StillPath != "" {
		paths = append(paths, res.StillPath)
	}
	return paths
}

// publish uploads the job's artifact and returns its public URL.
func (s *ConvertService) publish(ctx context.Context, jobID string, res Result) (string, error) {
	path := res.OutputPath
	if res.FallbackUsed {
		path = res.StillPath
	}
	if path == "" {
		return "", fmt.Errorf("job %s: no artifact to publish", jobID)
	}

	f, err := os.Open(path) // #nosec G304 - path was produced by the pipeline
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	key := "conversions/" + jobID + filepath.Ext(path)
	return s.store.Publish(ctx, key, f)
}
