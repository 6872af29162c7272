package stage_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stockpile/internal/notifications"
	"stockpile/internal/queue"
	"stockpile/internal/retry"
	"stockpile/internal/services"
	"stockpile/internal/stage"
	"stockpile/internal/testsupport"
)

func newJob(t *testing.T, dir, name string) *queue.Job {
	t.Helper()
	path := filepath.Join(dir, name)
	testsupport.WriteFile(t, path, 128)
	return &queue.Job{
		ID:        "0123456789abcdef",
		FilePath:  path,
		Source:    queue.SourceLocal,
		Status:    queue.StatusProcessing,
		Stage:     queue.StageDetected,
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestNewPipelineCoversEveryStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	pipeline, err := stage.NewPipeline(testsupport.NewCollaborators().Deps(cfg))
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	for _, s := range queue.Stages()[1:] {
		exec, ok := pipeline.For(s)
		if !ok || exec.Stage() != s {
			t.Fatalf("missing executor for %s", s)
		}
	}
	for _, h := range pipeline.HealthChecks(context.Background()) {
		if !h.Ready {
			t.Fatalf("stage %s unhealthy: %s", h.Stage, h.Detail)
		}
	}
}

func TestPipelineValidateReportsGap(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	deps := testsupport.NewCollaborators().Deps(cfg)
	p := stage.NewPipelineOf(stage.NewTranscribeExecutor(deps), stage.NewPhraseExecutor(deps))
	err := p.Validate()
	if err == nil || !strings.Contains(err.Error(), string(queue.StageSearched)) {
		t.Fatalf("expected gap at searched, got %v", err)
	}
}

func TestTranscribeRejectsUnsupportedMedia(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	c := testsupport.NewCollaborators()
	job := newJob(t, cfg.Paths.InputDir, "notes.txt")

	_, err := stage.NewTranscribeExecutor(c.Deps(cfg)).Execute(context.Background(), job)
	if !errors.Is(err, services.ErrUnsupportedMedia) {
		t.Fatalf("expected ErrUnsupportedMedia, got %v", err)
	}
	if c.Transcriber.Calls() != 0 {
		t.Fatalf("transcriber should not run for unsupported media")
	}
}

func TestTranscribeEmptyTranscriptIsFatal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	c := testsupport.NewCollaborators()
	c.Transcriber.Text = "   "
	job := newJob(t, cfg.Paths.InputDir, "talk.mp4")

	_, err := stage.NewTranscribeExecutor(c.Deps(cfg)).Execute(context.Background(), job)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestTranscribeRetriesTransientFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	c := testsupport.NewCollaborators()
	c.Transcriber.Fail(services.ErrExternalTool, services.ErrTransient)
	job := newJob(t, cfg.Paths.InputDir, "talk.mp4")

	out, err := stage.NewTranscribeExecutor(c.Deps(cfg)).Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Transcript != c.Transcriber.Text || c.Transcriber.Calls() != 3 {
		t.Fatalf("transcript %q after %d calls", out.Transcript, c.Transcriber.Calls())
	}
}

func TestTranscribeMissingLocalFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	c := testsupport.NewCollaborators()
	job := newJob(t, cfg.Paths.InputDir, "talk.mp4")
	if err := os.Remove(job.FilePath); err != nil {
		t.Fatal(err)
	}
	if _, err := stage.NewTranscribeExecutor(c.Deps(cfg)).Execute(context.Background(), job); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPhrasesAreDeduplicated(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	c := testsupport.NewCollaborators()
	c.Phrases.Phrases = []string{" Berlin  Wall ", "berlin wall", "", "CRT monitor"}
	job := newJob(t, cfg.Paths.InputDir, "talk.mp4")
	job.Transcript = "text"

	out, err := stage.NewPhraseExecutor(c.Deps(cfg)).Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(out.SearchPhrases) != 2 || out.SearchPhrases[0] != "Berlin Wall" {
		t.Fatalf("unexpected phrases %#v", out.SearchPhrases)
	}

	c.Phrases.Phrases = []string{" ", ""}
	if _, err := stage.NewPhraseExecutor(c.Deps(cfg)).Execute(context.Background(), job); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation for no phrases, got %v", err)
	}
}

func TestSearchDropsLongVideos(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Search.MaxDurationSeconds = 60
	c := testsupport.NewCollaborators()
	c.Searcher.DurationSeconds = 61
	job := newJob(t, cfg.Paths.InputDir, "talk.mp4")
	job.SearchPhrases = []string{"a", "b"}

	_, err := stage.NewSearchExecutor(c.Deps(cfg)).Execute(context.Background(), job)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound when every candidate is too long, got %v", err)
	}

	c.Searcher.DurationSeconds = 60
	out, err := stage.NewSearchExecutor(c.Deps(cfg)).Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(out.Candidates) != 6 || out.Candidates[3].Phrase != "b" {
		t.Fatalf("unexpected candidates %+v", out.Candidates)
	}
}

func TestSearchFatalErrorStopsImmediately(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	c := testsupport.NewCollaborators()
	c.Searcher.Fail(services.Wrap(services.ErrAuthentication, "searched", "search", "bad key", nil))
	job := newJob(t, cfg.Paths.InputDir, "talk.mp4")
	job.SearchPhrases = []string{"a", "b"}

	_, err := stage.NewSearchExecutor(c.Deps(cfg)).Execute(context.Background(), job)
	if !errors.Is(err, services.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
	if c.Searcher.Calls() != 1 {
		t.Fatalf("expected exactly one search call, got %d", c.Searcher.Calls())
	}
}

func TestSearchSkipsExhaustedPhrase(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Retry.API.MaxAttempts = 2
	c := testsupport.NewCollaborators()
	c.Searcher.Fail(services.ErrNetwork, services.ErrNetwork)
	job := newJob(t, cfg.Paths.InputDir, "talk.mp4")
	job.SearchPhrases = []string{"a", "b"}

	out, err := stage.NewSearchExecutor(c.Deps(cfg)).Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, cand := range out.Candidates {
		if cand.Phrase != "b" {
			t.Fatalf("phrase a should have been skipped: %+v", cand)
		}
	}
}

func TestScoreKeepsTopPerPhrase(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Search.MinScore = 6
	cfg.Search.MaxVideosPerPhrase = 2
	c := testsupport.NewCollaborators()
	scores := map[string]int{"a-0": 7, "a-1": 9, "a-2": 8, "b-0": 5, "b-1": 10, "b-2": 3}
	c.Scorer.ScoreFor = func(cand queue.Candidate) int { return scores[cand.VideoID] }

	var candidates []queue.Candidate
	for _, id := range []string{"a-0", "a-1", "a-2", "b-0", "b-1", "b-2"} {
		candidates = append(candidates, queue.Candidate{Phrase: id[:1], VideoID: id, Title: id})
	}
	job := newJob(t, cfg.Paths.InputDir, "talk.mp4")
	job.Candidates = candidates

	out, err := stage.NewScoreExecutor(c.Deps(cfg)).Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var got []string
	for _, v := range out.Scored {
		got = append(got, v.VideoID)
	}
	if strings.Join(got, ",") != "b-1,a-1,a-2" {
		t.Fatalf("unexpected selection %v", got)
	}
}

func TestScoreClampsOutOfRangeScores(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Search.MinScore = 1
	c := testsupport.NewCollaborators()
	scores := map[string]int{"hi": 42, "lo": -3}
	c.Scorer.ScoreFor = func(cand queue.Candidate) int { return scores[cand.VideoID] }
	job := newJob(t, cfg.Paths.InputDir, "talk.mp4")
	job.Candidates = []queue.Candidate{
		{Phrase: "a", VideoID: "hi", Title: "hi"},
		{Phrase: "a", VideoID: "lo", Title: "lo"},
	}

	out, err := stage.NewScoreExecutor(c.Deps(cfg)).Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(out.Scored) != 2 {
		t.Fatalf("expected both candidates kept, got %+v", out.Scored)
	}
	if out.Scored[0].Score != queue.ScoreCeiling || out.Scored[1].Score != queue.ScoreFloor {
		t.Fatalf("scores not clamped: %d, %d", out.Scored[0].Score, out.Scored[1].Score)
	}
}

func TestScoreNoneAboveMinimumIsFatal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	c := testsupport.NewCollaborators()
	c.Scorer.ScoreFor = func(queue.Candidate) int { return 2 }
	job := newJob(t, cfg.Paths.InputDir, "talk.mp4")
	job.Candidates = []queue.Candidate{{Phrase: "a", VideoID: "x", Title: "x"}}

	_, err := stage.NewScoreExecutor(c.Deps(cfg)).Execute(context.Background(), job)
	if !services.IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestDownloadRecoversFromFlakes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Retry.Download.MaxAttempts = 3
	c := testsupport.NewCollaborators()
	c.Downloader.Fail(services.ErrNetwork, services.ErrNetwork)
	job := newJob(t, cfg.Paths.InputDir, "talk.mp4")
	job.Scored = []queue.ScoredVideo{{Candidate: queue.Candidate{Phrase: "city at night", VideoID: "v1", Title: "t"}, Score: 9}}

	out, err := stage.NewDownloadExecutor(c.Deps(cfg)).Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if c.Downloader.Calls() != 3 {
		t.Fatalf("expected 3 attempts, got %d", c.Downloader.Calls())
	}
	want := stage.DownloadDir(cfg.Paths.StagingDir, job.ID, "city at night")
	if len(out.Downloads) != 1 || filepath.Dir(out.Downloads[0].LocalPath) != want {
		t.Fatalf("unexpected downloads %+v", out.Downloads)
	}
	if filepath.Base(out.Downloads[0].LocalPath) != "score09_v1.mp4" {
		t.Fatalf("unexpected file name %s", out.Downloads[0].LocalPath)
	}
}

func TestDownloadSkipsFailedVideos(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Retry.Download.MaxAttempts = 1
	c := testsupport.NewCollaborators()
	c.Downloader.Fail(services.ErrNotFound)
	job := newJob(t, cfg.Paths.InputDir, "talk.mp4")
	job.Scored = []queue.ScoredVideo{
		{Candidate: queue.Candidate{Phrase: "a", VideoID: "gone"}, Score: 9},
		{Candidate: queue.Candidate{Phrase: "a", VideoID: "ok"}, Score: 8},
	}

	out, err := stage.NewDownloadExecutor(c.Deps(cfg)).Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(out.Downloads) != 1 || out.Downloads[0].VideoID != "ok" {
		t.Fatalf("unexpected downloads %+v", out.Downloads)
	}

	c.Downloader.Fail(services.ErrNotFound, services.ErrNotFound)
	if _, err := stage.NewDownloadExecutor(c.Deps(cfg)).Execute(context.Background(), job); !services.IsFatal(err) {
		t.Fatalf("expected fatal error when nothing downloads, got %v", err)
	}
}

func TestDownloadStopsOnConfigurationError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	c := testsupport.NewCollaborators()
	c.Downloader.Fail(services.ErrConfiguration)
	job := newJob(t, cfg.Paths.InputDir, "talk.mp4")
	job.Scored = []queue.ScoredVideo{
		{Candidate: queue.Candidate{Phrase: "a", VideoID: "one"}, Score: 9},
		{Candidate: queue.Candidate{Phrase: "a", VideoID: "two"}, Score: 8},
	}
	if _, err := stage.NewDownloadExecutor(c.Deps(cfg)).Execute(context.Background(), job); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if c.Downloader.Calls() != 1 {
		t.Fatalf("expected one call, got %d", c.Downloader.Calls())
	}
}

func TestOrganizeBuildsProject(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	c := testsupport.NewCollaborators()
	deps := c.Deps(cfg)
	job := newJob(t, cfg.Paths.InputDir, "talk.mp4")
	video := queue.ScoredVideo{Candidate: queue.Candidate{Phrase: "city at night", VideoID: "v1", Title: "t"}, Score: 9}
	path, err := c.Downloader.DownloadVideo(context.Background(), video, stage.DownloadDir(cfg.Paths.StagingDir, job.ID, video.Phrase))
	if err != nil {
		t.Fatal(err)
	}
	video.LocalPath = path
	job.Downloads = []queue.ScoredVideo{video}

	out, err := stage.NewOrganizeExecutor(deps).Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(out.OutputPath, cfg.Paths.OutputDir) || out.RemoteLink != "" {
		t.Fatalf("unexpected output %+v", out)
	}
	if _, err := os.Stat(filepath.Join(out.OutputPath, "city_at_night", "score09_v1.mp4")); err != nil {
		t.Fatalf("clip not organized: %v", err)
	}

	again, err := stage.NewOrganizeExecutor(deps).Execute(context.Background(), job)
	if err != nil || again.OutputPath != out.OutputPath {
		t.Fatalf("re-run = %+v, %v", again, err)
	}
}

func TestNotifyNeverFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Retry.Notify.MaxAttempts = 2
	c := testsupport.NewCollaborators()
	c.Notifier.Fail(services.ErrNetwork, services.ErrNetwork)
	deps := c.Deps(cfg)
	now := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	deps.Now = func() time.Time { return now }
	job := newJob(t, cfg.Paths.InputDir, "talk.mp4")
	job.OutputPath = "/out/project"

	out, err := stage.NewNotifyExecutor(deps).Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.NotifiedAt.Equal(now) {
		t.Fatalf("unexpected NotifiedAt %v", out.NotifiedAt)
	}
	sent := c.Notifier.Sent()
	if len(sent) != 2 || sent[0].Outcome != notifications.OutcomeCompleted {
		t.Fatalf("unexpected notifications %+v", sent)
	}
	if sent[0].Details.Elapsed != 5*time.Minute || sent[0].Details.OutputPath != "/out/project" {
		t.Fatalf("unexpected details %+v", sent[0].Details)
	}
}

func TestNotifyAttemptIsBoundedByStageTimeout(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.StageTimeout = 1
	cfg.Retry.Notify.MaxAttempts = 1
	c := testsupport.NewCollaborators()
	var attemptErr error
	c.Notifier.Before = func(ctx context.Context) error {
		<-ctx.Done()
		attemptErr = ctx.Err()
		return attemptErr
	}
	job := newJob(t, cfg.Paths.InputDir, "talk.mp4")

	start := time.Now()
	if _, err := stage.NewNotifyExecutor(c.Deps(cfg)).Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("notify attempt ran for %s", elapsed)
	}
	if !errors.Is(attemptErr, context.DeadlineExceeded) {
		t.Fatalf("expected attempt deadline, got %v", attemptErr)
	}
}

func TestExecutorsHonourCancellation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	c := testsupport.NewCollaborators()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job := newJob(t, cfg.Paths.InputDir, "talk.mp4")
	job.Scored = []queue.ScoredVideo{{Candidate: queue.Candidate{Phrase: "a", VideoID: "x"}, Score: 9}}

	_, err := stage.NewDownloadExecutor(c.Deps(cfg)).Execute(ctx, job)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if retry.IsExhausted(err) {
		t.Fatalf("cancellation must not look like exhaustion")
	}
}
