package queue

import (
	"fmt"
	"strings"
	"time"
)

// Source identifies where a job's media lives.
type Source string

const (
	SourceLocal      Source = "local"
	SourceCloudDrive Source = "cloud_drive"
)

// ParseSource converts a string into a Source.
func ParseSource(value string) (Source, bool) {
	switch Source(strings.ToLower(strings.TrimSpace(value))) {
	case SourceLocal:
		return SourceLocal, true
	case SourceCloudDrive:
		return SourceCloudDrive, true
	default:
		return "", false
	}
}

// Status represents the lifecycle of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

// AllStatuses returns every status in display order.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// ParseStatus converts a string into a Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further stages run for the status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Stage is a step of the pipeline. A job's current stage is the last one
// whose output has been persisted.
type Stage string

const (
	StageDetected         Stage = "detected"
	StageTranscribed      Stage = "transcribed"
	StagePhrasesExtracted Stage = "phrases_extracted"
	StageSearched         Stage = "searched"
	StageScored           Stage = "scored"
	StageDownloaded       Stage = "downloaded"
	StageOrganized        Stage = "organized"
	StageNotified         Stage = "notified"
)

var stageOrder = []Stage{
	StageDetected,
	StageTranscribed,
	StagePhrasesExtracted,
	StageSearched,
	StageScored,
	StageDownloaded,
	StageOrganized,
	StageNotified,
}

// Stages returns the pipeline in execution order.
func Stages() []Stage {
	return append([]Stage(nil), stageOrder...)
}

// Index returns the stage position, or -1 for unknown stages.
func (s Stage) Index() int {
	for i, stage := range stageOrder {
		if stage == s {
			return i
		}
	}
	return -1
}

// Next returns the stage that follows s, or "" when s is the last stage.
func (s Stage) Next() Stage {
	idx := s.Index()
	if idx < 0 || idx == len(stageOrder)-1 {
		return ""
	}
	return stageOrder[idx+1]
}

// Candidate is a search hit for one phrase.
type Candidate struct {
	Phrase          string `json:"phrase"`
	VideoID         string `json:"video_id"`
	Title           string `json:"title"`
	SourceURL       string `json:"source_url"`
	DurationSeconds int    `json:"duration_seconds"`
	SizeBytes       int64  `json:"size_bytes,omitempty"`
	Description     string `json:"description,omitempty"`
}

// Relevance scores are whole numbers in [ScoreFloor, ScoreCeiling].
const (
	ScoreFloor   = 1
	ScoreCeiling = 10
)

// ClampScore pulls a scorer's answer into the persisted range.
func ClampScore(score int) int {
	return min(max(score, ScoreFloor), ScoreCeiling)
}

// ScoredVideo is a candidate the scorer kept; LocalPath is set once downloaded.
type ScoredVideo struct {
	Candidate
	Score     int    `json:"score"`
	LocalPath string `json:"local_path,omitempty"`
}

// Job is one media file moving through the pipeline.
type Job struct {
	ID            string
	Seq           int64
	FilePath      string
	Source        Source
	Status        Status
	Stage         Stage
	Transcript    string
	SearchPhrases []string
	Candidates    []Candidate
	Scored        []ScoredVideo
	Downloads     []ScoredVideo
	OutputPath    string
	RemoteLink    string
	NotifiedAt    *time.Time
	ErrorMessage  string
	ClaimToken    string
	Attempts      int
	LastHeartbeat *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// NextStage returns the first stage without persisted output.
func (j *Job) NextStage() Stage {
	if j == nil {
		return ""
	}
	return j.Stage.Next()
}

// Label returns a short identifier for logs and tables.
func (j *Job) Label() string {
	if j == nil {
		return ""
	}
	id := j.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}

// StageOutput carries what a stage executor produced. Only the fields
// belonging to the stage being persisted are written.
type StageOutput struct {
	Transcript    string
	SearchPhrases []string
	Candidates    []Candidate
	Scored        []ScoredVideo
	Downloads     []ScoredVideo
	OutputPath    string
	RemoteLink    string
	NotifiedAt    time.Time
}

func (o StageOutput) validateFor(stage Stage) error {
	empty := false
	switch stage {
	case StageTranscribed:
		empty = strings.TrimSpace(o.Transcript) == ""
	case StagePhrasesExtracted:
		empty = len(o.SearchPhrases) == 0
	case StageSearched:
		empty = len(o.Candidates) == 0
	case StageScored:
		empty = len(o.Scored) == 0
	case StageDownloaded:
		empty = len(o.Downloads) == 0
	case StageOrganized:
		empty = strings.TrimSpace(o.OutputPath) == ""
	case StageNotified:
	default:
		return fmt.Errorf("%w: stage %q has no output", ErrInvalidTransition, stage)
	}
	if empty {
		return fmt.Errorf("%w: empty output for stage %s", ErrInvalidTransition, stage)
	}
	return nil
}

// HealthSummary aggregates job counts by lifecycle.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Failed     int
	Completed  int
}

// DatabaseHealth reports diagnostics about the job database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	Migrations       []string
	TableExists      bool
	IntegrityCheck   bool
	TotalJobs        int
	Error            string
}
