package testsupport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"stockpile/internal/config"
	"stockpile/internal/logging"
	"stockpile/internal/notifications"
	"stockpile/internal/organizer"
	"stockpile/internal/queue"
	"stockpile/internal/retry"
	"stockpile/internal/source"
	"stockpile/internal/stage"
)

// Script hands out queued errors, one per call, then succeeds.
type Script struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

// Fail queues errs to be returned by the next calls.
func (s *Script) Fail(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, errs...)
}

// Calls reports how many times the collaborator was invoked.
func (s *Script) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Script) next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

// Hook runs before a fake returns; a non-nil error replaces the result.
type Hook func(ctx context.Context) error

func runHook(ctx context.Context, h Hook) error {
	if h == nil {
		return nil
	}
	return h(ctx)
}

// FakeTranscriber returns a fixed transcript.
type FakeTranscriber struct {
	Script
	Text   string
	Before Hook
}

func (f *FakeTranscriber) Transcribe(ctx context.Context, _ string) (string, error) {
	if err := runHook(ctx, f.Before); err != nil {
		return "", err
	}
	if err := f.next(); err != nil {
		return "", err
	}
	return f.Text, nil
}

// FakePhrases returns a fixed phrase list.
type FakePhrases struct {
	Script
	Phrases []string
}

func (f *FakePhrases) ExtractPhrases(context.Context, string) ([]string, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	return append([]string(nil), f.Phrases...), nil
}

// FakeSearcher returns PerPhrase candidates for every phrase.
type FakeSearcher struct {
	Script
	PerPhrase       int
	DurationSeconds int
}

func (f *FakeSearcher) SearchCandidates(_ context.Context, phrase string, maxResults int) ([]queue.Candidate, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	n := f.PerPhrase
	if n == 0 {
		n = 3
	}
	n = min(n, maxResults)
	slug := strings.ReplaceAll(strings.ToLower(phrase), " ", "-")
	out := make([]queue.Candidate, 0, n)
	for i := range n {
		id := fmt.Sprintf("%s-%d", slug, i)
		out = append(out, queue.Candidate{
			Phrase:          phrase,
			VideoID:         id,
			Title:           fmt.Sprintf("%s clip %d", phrase, i),
			SourceURL:       "https://video.test/watch?v=" + id,
			DurationSeconds: max(f.DurationSeconds, 30),
		})
	}
	return out, nil
}

// FakeScorer scores candidates with ScoreFor, defaulting to 8.
type FakeScorer struct {
	Script
	ScoreFor func(queue.Candidate) int
}

func (f *FakeScorer) ScoreCandidate(_ context.Context, c queue.Candidate) (int, error) {
	if err := f.next(); err != nil {
		return 0, err
	}
	if f.ScoreFor != nil {
		return f.ScoreFor(c), nil
	}
	return 8, nil
}

// FakeDownloader writes a small file per video.
type FakeDownloader struct {
	Script
	Before Hook
}

func (f *FakeDownloader) DownloadVideo(ctx context.Context, video queue.ScoredVideo, dir string) (string, error) {
	if err := runHook(ctx, f.Before); err != nil {
		return "", err
	}
	if err := f.next(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("score%02d_%s.mp4", video.Score, video.VideoID))
	if err := os.WriteFile(path, []byte("clip "+video.VideoID), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Notification is one recorded Notify call.
type Notification struct {
	Outcome notifications.Outcome
	Details notifications.Details
}

// FakeNotifier records notifications.
type FakeNotifier struct {
	Script
	Before Hook
	sentMu sync.Mutex
	sent   []Notification
}

func (f *FakeNotifier) Notify(ctx context.Context, outcome notifications.Outcome, details notifications.Details) error {
	f.sentMu.Lock()
	f.sent = append(f.sent, Notification{Outcome: outcome, Details: details})
	f.sentMu.Unlock()
	if err := runHook(ctx, f.Before); err != nil {
		return err
	}
	return f.next()
}

// Sent returns a copy of the recorded notifications.
func (f *FakeNotifier) Sent() []Notification {
	f.sentMu.Lock()
	defer f.sentMu.Unlock()
	return append([]Notification(nil), f.sent...)
}

// For returns the notifications recorded for jobID.
func (f *FakeNotifier) For(jobID string) []Notification {
	var out []Notification
	for _, n := range f.Sent() {
		if n.Details.JobID == jobID {
			out = append(out, n)
		}
	}
	return out
}

// Collaborators bundles fakes for every pipeline stage.
type Collaborators struct {
	Transcriber *FakeTranscriber
	Phrases     *FakePhrases
	Searcher    *FakeSearcher
	Scorer      *FakeScorer
	Downloader  *FakeDownloader
	Notifier    *FakeNotifier
}

// NewCollaborators returns fakes that drive a job to completion.
func NewCollaborators() *Collaborators {
	return &Collaborators{
		Transcriber: &FakeTranscriber{Text: "the wall came down in berlin"},
		Phrases:     &FakePhrases{Phrases: []string{"Berlin Wall falling", "crowd with hammers"}},
		Searcher:    &FakeSearcher{PerPhrase: 3},
		Scorer:      &FakeScorer{},
		Downloader:  &FakeDownloader{},
		Notifier:    &FakeNotifier{},
	}
}

// NoSleep is a retry sleep that returns immediately unless ctx is done.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// Deps wires c into stage dependencies backed by the real organizer and a
// local source rooted in cfg.
func (c *Collaborators) Deps(cfg *config.Config) stage.Deps {
	logger := logging.NewNop()
	local := source.NewLocal(cfg.Paths.InputDir, cfg.Paths.OutputDir)
	return stage.Deps{
		Config:     cfg,
		Retry:      retry.New(retry.WithSleep(NoSleep)),
		Policies:   retry.PresetsFromConfig(cfg.Retry),
		Logger:     logger,
		Fetcher:    source.NewRegistry(local),
		Transcribe: c.Transcriber,
		Phrases:    c.Phrases,
		Search:     c.Searcher,
		Score:      c.Scorer,
		Download:   c.Downloader,
		Organizer:  organizer.New(cfg.Paths.OutputDir, logger),
		Publisher:  organizer.NewPublisher(local, nil, logger),
		Notifier:   c.Notifier,
	}
}
