package stage

import (
	"context"
	"path/filepath"

	"stockpile/internal/logging"
	"stockpile/internal/organizer"
	"stockpile/internal/queue"
	"stockpile/internal/retry"
	"stockpile/internal/services"
	"stockpile/internal/staging"
)

// DownloadExecutor fetches the selected videos into the job's staging area.
type DownloadExecutor struct {
	deps Deps
}

// NewDownloadExecutor constructs the download stage.
func NewDownloadExecutor(deps Deps) *DownloadExecutor {
	return &DownloadExecutor{deps: deps.normalized()}
}

func (e *DownloadExecutor) Stage() queue.Stage { return queue.StageDownloaded }

// DownloadDir returns where clips for phrase are staged.
func DownloadDir(stagingDir, jobID, phrase string) string {
	return filepath.Join(staging.JobDir(stagingDir, jobID), "downloads", organizer.SanitizeFolderName(phrase))
}

func (e *DownloadExecutor) Execute(ctx context.Context, job *queue.Job) (queue.StageOutput, error) {
	logger := logging.WithContext(ctx, e.deps.Logger)
	policy := e.deps.download()

	var (
		downloads []queue.ScoredVideo
		lastErr   error
	)
	for _, video := range job.Scored {
		dir := DownloadDir(e.deps.Config.Paths.StagingDir, job.ID, video.Phrase)
		path, err := retry.Execute(ctx, e.deps.Retry, policy, func(ctx context.Context) (string, error) {
			return e.deps.Download.DownloadVideo(ctx, video, dir)
		})
		if err != nil {
			if !skippable(ctx, err) {
				return queue.StageOutput{}, err
			}
			logger.Warn("download failed; skipping video",
				logging.String("video_id", video.VideoID),
				logging.String("phrase", video.Phrase),
				logging.Error(err),
			)
			lastErr = err
			continue
		}
		video.LocalPath = path
		downloads = append(downloads, video)
		logger.Info("video downloaded",
			logging.String("video_id", video.VideoID),
			logging.Int("score", video.Score),
			logging.String("path", path),
		)
	}

	if len(downloads) == 0 {
		return queue.StageOutput{}, services.Wrap(services.ErrNotFound, string(e.Stage()), "download", "no videos downloaded", lastErr)
	}
	logger.Info("downloads complete",
		logging.Int("selected", len(job.Scored)),
		logging.Int("downloaded", len(downloads)),
	)
	return queue.StageOutput{Downloads: downloads}, nil
}

func (e *DownloadExecutor) HealthCheck(context.Context) Health {
	if e.deps.Download == nil {
		return missing(e.Stage(), "downloader")
	}
	return ready(e.Stage())
}
