// Package storage manages the local artifact directory for finished
// conversions and optional publication of artifacts to S3.
package storage

import (
	"context"
	"io"
)

// Storage is the artifact port: cleanup of local conversion outputs plus
// optional publication to a shared location.
type Storage interface {
	// Cleanup removes the given paths, directories included. It keeps
	// going past individual failures and returns them aggregated.
	Cleanup(ctx context.Context, paths []string) error

	// Publish uploads an artifact under the given key and returns its
	// public URL. Returns ErrPublishNotConfigured when no publisher is
	// configured.
	Publish(ctx context.Context, key string, data io.Reader) (url string, err error)
}
