package source

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"stockpile/internal/queue"
	"stockpile/internal/services"
)

var supportedExtensions = []string{
	".mp4", ".avi", ".mov", ".mkv", ".wmv", ".flv", ".webm", ".m4v",
	".mp3", ".wav", ".flac", ".aac", ".ogg", ".m4a", ".wma",
}

// IsSupportedMedia reports whether path has a media extension the pipeline
// can transcribe.
func IsSupportedMedia(path string) bool {
	return slices.Contains(supportedExtensions, strings.ToLower(filepath.Ext(path)))
}

// SupportedExtensions lists accepted media extensions.
func SupportedExtensions() []string {
	return slices.Clone(supportedExtensions)
}

// Object is one input file visible to a source.
type Object struct {
	Ref     string
	Size    int64
	ModTime time.Time
}

// Source is the capability set every media location provides.
type Source interface {
	Kind() queue.Source
	// Size reports the current size of ref in bytes.
	Size(ctx context.Context, ref string) (int64, error)
	// List returns input files waiting in the source.
	List(ctx context.Context) ([]Object, error)
	// Fetch makes ref available on local disk under destDir and returns the path.
	Fetch(ctx context.Context, ref, destDir string) (string, error)
	// Store publishes localDir under name and returns a link to it.
	Store(ctx context.Context, localDir, name string) (string, error)
}

// Registry maps job sources to implementations.
type Registry struct {
	sources map[queue.Source]Source
}

// NewRegistry registers the provided sources by kind.
func NewRegistry(sources ...Source) *Registry {
	r := &Registry{sources: make(map[queue.Source]Source, len(sources))}
	for _, src := range sources {
		if src != nil {
			r.sources[src.Kind()] = src
		}
	}
	return r
}

// Get returns the source for kind.
func (r *Registry) Get(kind queue.Source) (Source, error) {
	if r != nil {
		if src, ok := r.sources[kind]; ok {
			return src, nil
		}
	}
	return nil, services.Wrap(services.ErrConfiguration, "", "source", fmt.Sprintf("no source registered for %q", kind), nil)
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind queue.Source) bool {
	_, err := r.Get(kind)
	return err == nil
}

// Fetch resolves ref through the source for kind.
func (r *Registry) Fetch(ctx context.Context, kind queue.Source, ref, destDir string) (string, error) {
	src, err := r.Get(kind)
	if err != nil {
		return "", err
	}
	return src.Fetch(ctx, ref, destDir)
}
