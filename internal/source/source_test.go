package source_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"stockpile/internal/queue"
	"stockpile/internal/services"
	"stockpile/internal/source"
)

func TestIsSupportedMedia(t *testing.T) {
	for _, name := range []string{"a.mp4", "B.MOV", "talk.wav", "x.webm"} {
		if !source.IsSupportedMedia(name) {
			t.Fatalf("expected %s supported", name)
		}
	}
	for _, name := range []string{"notes.txt", "a.mp4.partial", "noext"} {
		if source.IsSupportedMedia(name) {
			t.Fatalf("expected %s unsupported", name)
		}
	}
}

func TestLocalListSkipsHiddenAndUnsupported(t *testing.T) {
	input := t.TempDir()
	files := []string{"a.mp4", "notes.txt", ".hidden.mp4", "nested/b.wav", "c.mov.partial"}
	for _, name := range files {
		path := filepath.Join(input, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	local := source.NewLocal(input, t.TempDir())
	objects, err := local.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(objects) != 2 {
		t.Fatalf("expected 2 objects, got %#v", objects)
	}
	for _, obj := range objects {
		if obj.Size != 4 {
			t.Fatalf("unexpected size for %s: %d", obj.Ref, obj.Size)
		}
	}
}

func TestLocalFetchAndSize(t *testing.T) {
	input := t.TempDir()
	path := filepath.Join(input, "a.mp4")
	if err := os.WriteFile(path, []byte("12345"), 0o644); err != nil {
		t.Fatal(err)
	}
	local := source.NewLocal(input, t.TempDir())
	ctx := context.Background()

	got, err := local.Fetch(ctx, path, t.TempDir())
	if err != nil || got != path {
		t.Fatalf("Fetch = %q, %v", got, err)
	}
	size, err := local.Size(ctx, path)
	if err != nil || size != 5 {
		t.Fatalf("Size = %d, %v", size, err)
	}
	if _, err := local.Fetch(ctx, filepath.Join(input, "missing.mp4"), ""); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLocalStoreCopiesOutsideOutputRoot(t *testing.T) {
	output := t.TempDir()
	local := source.NewLocal(t.TempDir(), output)
	ctx := context.Background()

	project := filepath.Join(t.TempDir(), "broll_project_x")
	if err := os.MkdirAll(filepath.Join(project, "phrase"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(project, "phrase", "clip.mp4"), []byte("v"), 0o644); err != nil {
		t.Fatal(err)
	}

	link, err := local.Store(ctx, project, "broll_project_x")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if link != filepath.Join(output, "broll_project_x") {
		t.Fatalf("unexpected link %q", link)
	}
	if _, err := os.Stat(filepath.Join(link, "phrase", "clip.mp4")); err != nil {
		t.Fatalf("expected copied clip: %v", err)
	}

	// Already in place.
	again, err := local.Store(ctx, link, "broll_project_x")
	if err != nil || again != link {
		t.Fatalf("Store in place = %q, %v", again, err)
	}
}

func TestRegistry(t *testing.T) {
	local := source.NewLocal(t.TempDir(), t.TempDir())
	registry := source.NewRegistry(local)

	if !registry.Has(queue.SourceLocal) || registry.Has(queue.SourceCloudDrive) {
		t.Fatal("unexpected registry membership")
	}
	_, err := registry.Fetch(context.Background(), queue.SourceCloudDrive, "key.mp4", t.TempDir())
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}
