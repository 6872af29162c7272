package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"stockpile/internal/fileutil"
	"stockpile/internal/queue"
	"stockpile/internal/services"
)

// Local serves media from the input directory and publishes projects under
// the output directory.
type Local struct {
	inputDir  string
	outputDir string
}

// NewLocal constructs a filesystem source.
func NewLocal(inputDir, outputDir string) *Local {
	return &Local{inputDir: inputDir, outputDir: outputDir}
}

func (l *Local) Kind() queue.Source { return queue.SourceLocal }

func (l *Local) Size(_ context.Context, ref string) (int64, error) {
	info, err := os.Stat(ref)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, services.Wrap(services.ErrNotFound, "", "stat", ref, err)
		}
		return 0, services.Wrap(services.ErrTransient, "", "stat", ref, err)
	}
	if info.IsDir() {
		return 0, services.Wrap(services.ErrValidation, "", "stat", ref+" is a directory", nil)
	}
	return info.Size(), nil
}

// List walks the input directory for supported media, skipping hidden and
// partially copied files.
func (l *Local) List(ctx context.Context) ([]Object, error) {
	if strings.TrimSpace(l.inputDir) == "" {
		return nil, nil
	}
	var out []Object
	err := filepath.WalkDir(l.inputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == l.inputDir {
				return err
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := d.Name()
		if d.IsDir() {
			if path != l.inputDir && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || fileutil.IsPartial(name) || !IsSupportedMedia(name) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		out = append(out, Object{Ref: path, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", l.inputDir, err)
	}
	return out, nil
}

// Fetch returns ref unchanged once it is known to exist.
func (l *Local) Fetch(ctx context.Context, ref, _ string) (string, error) {
	if _, err := l.Size(ctx, ref); err != nil {
		return "", err
	}
	return ref, nil
}

// Store copies localDir to outputDir/name. A folder already at that location
// is returned as is.
func (l *Local) Store(ctx context.Context, localDir, name string) (string, error) {
	target := filepath.Join(l.outputDir, name)
	if filepath.Clean(localDir) == filepath.Clean(target) {
		return target, nil
	}
	err := filepath.WalkDir(localDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(localDir, path)
		if err != nil {
			return err
		}
		dst := filepath.Join(target, rel)
		if d.IsDir() {
			return os.MkdirAll(dst, 0o755)
		}
		return fileutil.CopyFile(path, dst)
	})
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "organized", "store", target, err)
	}
	return target, nil
}
