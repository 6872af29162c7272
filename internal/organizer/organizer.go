package organizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"stockpile/internal/fileutil"
	"stockpile/internal/logging"
	"stockpile/internal/queue"
	"stockpile/internal/services"
)

const (
	summaryFileName   = "PROJECT_SUMMARY.txt"
	maxFolderNameLen  = 50
	unnamedPhraseName = "unnamed_phrase"
)

var (
	invalidFolderChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	whitespaceRun      = regexp.MustCompile(`\s+`)
)

// Organizer moves downloads into per-phrase folders under the output root.
type Organizer struct {
	outputDir string
	logger    *slog.Logger
}

// Organized describes one clip in the finished project.
type Organized struct {
	Phrase string
	Path   string
	Score  int
	Title  string
}

// New constructs an Organizer rooted at outputDir.
func New(outputDir string, logger *slog.Logger) *Organizer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Organizer{
		outputDir: outputDir,
		logger:    logging.NewComponentLogger(logger, "organizer"),
	}
}

// ProjectName returns the deterministic folder name for job.
func ProjectName(job queue.Job) string {
	return fmt.Sprintf("broll_project_%s_%s", job.Label(), job.CreatedAt.UTC().Format("20060102_150405"))
}

// SanitizeFolderName makes phrase safe to use as a directory name.
func SanitizeFolderName(phrase string) string {
	name := invalidFolderChars.ReplaceAllString(phrase, "_")
	name = whitespaceRun.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return unnamedPhraseName
	}
	if runes := []rune(name); len(runes) > maxFolderNameLen {
		name = strings.TrimRight(string(runes[:maxFolderNameLen]), "._")
	}
	return name
}

// Organize builds the project folder for job and returns its path along with
// the clips it contains.
func (o *Organizer) Organize(ctx context.Context, job queue.Job) (string, []Organized, error) {
	logger := logging.WithContext(ctx, o.logger)
	projectDir := filepath.Join(o.outputDir, ProjectName(job))
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return "", nil, services.Wrap(services.ErrTransient, string(queue.StageOrganized), "create project", projectDir, err)
	}

	var organized []Organized
	for _, clip := range job.Downloads {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}
		folder := filepath.Join(projectDir, SanitizeFolderName(clip.Phrase))
		path, err := placeClip(folder, clip.LocalPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				logger.Warn("download missing; skipping",
					logging.String("path", clip.LocalPath),
					logging.String("phrase", clip.Phrase),
				)
				continue
			}
			return "", nil, services.Wrap(services.ErrTransient, string(queue.StageOrganized), "move clip", clip.LocalPath, err)
		}
		organized = append(organized, Organized{Phrase: clip.Phrase, Path: path, Score: clip.Score, Title: clip.Title})
	}
	if len(organized) == 0 {
		return "", nil, services.Wrap(services.ErrNotFound, string(queue.StageOrganized), "organize", "none of the downloaded clips exist", nil)
	}

	if err := writeSummary(projectDir, job, organized); err != nil {
		return "", nil, services.Wrap(services.ErrTransient, string(queue.StageOrganized), "write summary", projectDir, err)
	}
	logger.Info("project organized",
		logging.String("project", projectDir),
		logging.Int("clips", len(organized)),
	)
	return projectDir, organized, nil
}

// placeClip moves src into folder. A clip already inside folder, or moved
// there by an earlier run, is returned without moving.
func placeClip(folder, src string) (string, error) {
	if filepath.Dir(filepath.Clean(src)) == filepath.Clean(folder) {
		if _, err := os.Stat(src); err != nil {
			return "", err
		}
		return src, nil
	}
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			previous := filepath.Join(folder, filepath.Base(src))
			if _, statErr := os.Stat(previous); statErr == nil {
				return previous, nil
			}
		}
		return "", err
	}
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", err
	}
	dst, err := fileutil.UniquePath(folder, filepath.Base(src))
	if err != nil {
		return "", err
	}
	if err := fileutil.MoveFile(src, dst); err != nil {
		return "", err
	}
	return dst, nil
}
