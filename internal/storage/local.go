package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
)

// ErrPublishNotConfigured is returned when publication is attempted
// without a configured publisher.
var ErrPublishNotConfigured = errors.New("storage: publication is not configured")

// Compile-time check that LocalStorage implements Storage.
var _ Storage = (*LocalStorage)(nil)

// LocalStorage implements Storage on the local disk. It owns the
// artifact root directory and does not support publication unless
// wrapped by S3Storage.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates a LocalStorage rooted at root. If root is
// empty, a gifpipe directory under the system temp directory is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(root string) (*LocalStorage, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "gifpipe")
	}

	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("storage: create artifact root: %w", err)
	}

	return &LocalStorage{root: root}, nil
}

// Root returns the artifact root directory.
func (s *LocalStorage) Root() string {
	return s.root
}

// Cleanup removes the given paths, directories included. Failures are
// collected with multierr so one stubborn path never shields the rest.
// Missing paths are not an error.
func (s *LocalStorage) Cleanup(ctx context.Context, paths []string) error {
	var errs error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return multierr.Append(errs, fmt.Errorf("storage: context cancelled: %w", ctx.Err()))
		default:
		}

		if err := os.RemoveAll(p); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("storage: remove %s: %w", p, err))
		}
	}
	return errs
}

// Publish is not supported by LocalStorage and returns ErrPublishNotConfigured.
func (s *LocalStorage) Publish(_ context.Context, _ string, _ io.Reader) (string, error) {
	return "", ErrPublishNotConfigured
}
