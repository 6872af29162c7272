package stage

import (
	"context"

	"stockpile/internal/notifications"
	"stockpile/internal/organizer"
	"stockpile/internal/queue"
)

// Transcriber turns a local media file into transcript text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// PhraseExtractor proposes stock-footage search phrases for a transcript.
type PhraseExtractor interface {
	ExtractPhrases(ctx context.Context, transcript string) ([]string, error)
}

// CandidateSearcher finds videos for a phrase.
type CandidateSearcher interface {
	SearchCandidates(ctx context.Context, phrase string, maxResults int) ([]queue.Candidate, error)
}

// CandidateScorer rates a candidate from 1 to 10.
type CandidateScorer interface {
	ScoreCandidate(ctx context.Context, candidate queue.Candidate) (int, error)
}

// VideoDownloader saves a selected video under dir and returns its path.
type VideoDownloader interface {
	DownloadVideo(ctx context.Context, video queue.ScoredVideo, dir string) (string, error)
}

// MediaFetcher makes a job's media available on local disk.
type MediaFetcher interface {
	Fetch(ctx context.Context, kind queue.Source, ref, destDir string) (string, error)
}

// ProjectOrganizer lays out downloads as a project folder.
type ProjectOrganizer interface {
	Organize(ctx context.Context, job queue.Job) (string, []organizer.Organized, error)
}

// Publisher makes an organized folder available to the user.
type Publisher interface {
	UploadAndOrganize(ctx context.Context, folder string) (string, error)
}

// Notifier is the notification sink for terminal outcomes.
type Notifier = notifications.Notifier
