// Package bootstrap wires the conversion service's dependencies.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/stillframe/gifpipe/internal/config"
	"github.com/stillframe/gifpipe/internal/encode"
	"github.com/stillframe/gifpipe/internal/fetch"
	"github.com/stillframe/gifpipe/internal/job"
	"github.com/stillframe/gifpipe/internal/ops"
	"github.com/stillframe/gifpipe/internal/pipeline"
	"github.com/stillframe/gifpipe/internal/render"
	"github.com/stillframe/gifpipe/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	ConvertService *job.ConvertService
	OverlayLoader  ops.ImageLoader
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	fetcher := fetch.NewHTTPFetcher(
		fetch.WithMaxBytes(cfg.MaxDownloadBytes),
		fetch.WithMaxRetries(cfg.FetchMaxRetries),
		fetch.WithBackoffUnit(cfg.FetchBackoff()),
		fetch.WithAttemptTimeout(cfg.FetchAttemptTimeout()),
		fetch.WithLogger(logger),
	)

	renderer := render.NewRenderer(cfg.TempDir, logger)
	encoder := encode.NewFFmpegEncoder(cfg.FFmpegPath)
	pipe := pipeline.New(fetcher, renderer, encoder, cfg.TempDir, logger)

	repo := job.NewMemoryRepository()
	svc := job.NewConvertService(repo, pipe, store, logger,
		job.WithTimeout(cfg.PipelineTimeout()),
	)

	return &Dependencies{
		ConvertService: svc,
		OverlayLoader:  ops.HTTPLoader{Fetcher: fetcher},
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 publication configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("artifact_root", localStore.Root()),
	)
	return localStore, nil
}
