package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLocalStorage(t *testing.T) {
	t.Run("creates directory if not exists", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "artifacts")

		store, err := NewLocalStorage(root)
		if err != nil {
			t.Fatalf("NewLocalStorage() error = %v", err)
		}

		if store.Root() != root {
			t.Errorf("Root() = %v, want %v", store.Root(), root)
		}

		info, err := os.Stat(root)
		if err != nil {
			t.Fatalf("directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected directory, got file")
		}
	})

	t.Run("uses default directory when empty", func(t *testing.T) {
		store, err := NewLocalStorage("")
		if err != nil {
			t.Fatalf("NewLocalStorage() error = %v", err)
		}
		if !strings.Contains(store.Root(), "gifpipe") {
			t.Errorf("expected default root under gifpipe, got %v", store.Root())
		}
	})
}

func TestLocalStorage_Cleanup(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}

	file := filepath.Join(store.Root(), "video.mp4")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	dir := filepath.Join(store.Root(), "work-abc")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "frame000000.png"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	// Missing paths are not an error; directories are removed recursively.
	err = store.Cleanup(context.Background(), []string{file, dir, filepath.Join(store.Root(), "never-existed")})
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}

	for _, p := range []string{file, dir} {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected %s to be removed, stat err = %v", p, err)
		}
	}
}

func TestLocalStorage_Cleanup_CancelledContext(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Cleanup(ctx, []string{"whatever"}); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestLocalStorage_Publish_NotConfigured(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}

	_, err = store.Publish(context.Background(), "conversions/x.mp4", bytes.NewReader(nil))
	if !errors.Is(err, ErrPublishNotConfigured) {
		t.Errorf("expected ErrPublishNotConfigured, got %v", err)
	}
}
