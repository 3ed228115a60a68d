package job

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryRepository_SaveAndFind(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	j := NewWithID("conv-1", "http://example.com/a.gif", false)
	if err := repo.Save(ctx, j); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	found, err := repo.FindByID(ctx, "conv-1")
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if found.ID != "conv-1" || found.SourceURL != j.SourceURL {
		t.Errorf("unexpected job %+v", found)
	}

	// The store must hand out clones, not the saved instance.
	if found == j {
		t.Error("expected FindByID to return a clone")
	}
	found.SourceURL = "mutated"
	again, err := repo.FindByID(ctx, "conv-1")
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if again.SourceURL == "mutated" {
		t.Error("mutation of a returned job leaked into the store")
	}
}

func TestMemoryRepository_FindMissing(t *testing.T) {
	repo := NewMemoryRepository()

	_, err := repo.FindByID(context.Background(), "nope")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryRepository_SaveOverwrites(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	j := NewWithID("conv-1", "http://example.com/a.gif", false)
	if err := repo.Save(ctx, j); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := j.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := repo.Save(ctx, j); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	found, err := repo.FindByID(ctx, "conv-1")
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if found.Status != StatusRunning {
		t.Errorf("expected RUNNING after overwrite, got %s", found.Status)
	}
}

func TestMemoryRepository_List(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := repo.Save(ctx, NewWithID(id, "http://example.com/a.gif", false)); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	jobs, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(jobs) != 3 {
		t.Errorf("expected 3 jobs, got %d", len(jobs))
	}
}

func TestMemoryRepository_Delete(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	if err := repo.Save(ctx, NewWithID("conv-1", "http://example.com/a.gif", false)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := repo.Delete(ctx, "conv-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.FindByID(ctx, "conv-1"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound after delete, got %v", err)
	}

	if err := repo.Delete(ctx, "conv-1"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound for double delete, got %v", err)
	}
}
