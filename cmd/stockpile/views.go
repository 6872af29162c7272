package main

import (
	"path/filepath"
	"strconv"
	"time"

	"stockpile/internal/queue"
	"stockpile/internal/stage"
)

type jobView struct {
	ID            string              `json:"id"`
	FilePath      string              `json:"file_path"`
	Source        string              `json:"source"`
	Status        string              `json:"status"`
	Stage         string              `json:"stage"`
	Attempts      int                 `json:"attempts"`
	Error         string              `json:"error,omitempty"`
	SearchPhrases []string            `json:"search_phrases,omitempty"`
	Candidates    int                 `json:"candidates"`
	Scored        int                 `json:"scored"`
	Downloads     []queue.ScoredVideo `json:"downloads,omitempty"`
	OutputPath    string              `json:"output_path,omitempty"`
	RemoteLink    string              `json:"remote_link,omitempty"`
	CreatedAt     string              `json:"created_at"`
	UpdatedAt     string              `json:"updated_at"`
	CompletedAt   string              `json:"completed_at,omitempty"`
	NotifiedAt    string              `json:"notified_at,omitempty"`
	LastHeartbeat string              `json:"last_heartbeat,omitempty"`
}

func newJobView(job *queue.Job) jobView {
	return jobView{
		ID:            job.ID,
		FilePath:      job.FilePath,
		Source:        string(job.Source),
		Status:        string(job.Status),
		Stage:         string(job.Stage),
		Attempts:      job.Attempts,
		Error:         job.ErrorMessage,
		SearchPhrases: job.SearchPhrases,
		Candidates:    len(job.Candidates),
		Scored:        len(job.Scored),
		Downloads:     job.Downloads,
		OutputPath:    job.OutputPath,
		RemoteLink:    job.RemoteLink,
		CreatedAt:     formatTimestamp(&job.CreatedAt),
		UpdatedAt:     formatTimestamp(&job.UpdatedAt),
		CompletedAt:   formatTimestamp(job.CompletedAt),
		NotifiedAt:    formatTimestamp(job.NotifiedAt),
		LastHeartbeat: formatTimestamp(job.LastHeartbeat),
	}
}

func newJobViews(jobs []*queue.Job) []jobView {
	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, newJobView(job))
	}
	return views
}

type statusView struct {
	Daemon   daemonView     `json:"daemon"`
	Counts   map[string]int `json:"counts"`
	Database databaseView   `json:"database"`
	Staging  stagingView    `json:"staging"`
	Checks   []checkView    `json:"checks"`
	Stages   []stageView    `json:"stages"`
	Recent   []jobView      `json:"recent"`
}

type stagingView struct {
	Directories int   `json:"directories"`
	Bytes       int64 `json:"bytes"`
}

type databaseView struct {
	Path          string   `json:"path"`
	Exists        bool     `json:"exists"`
	Readable      bool     `json:"readable"`
	SchemaVersion int      `json:"schema_version"`
	Migrations    []string `json:"migrations,omitempty"`
	IntegrityOK   bool     `json:"integrity_ok"`
	TotalJobs     int      `json:"total_jobs"`
	Error         string   `json:"error,omitempty"`
}

func newDatabaseView(h queue.DatabaseHealth) databaseView {
	return databaseView{
		Path:          h.DBPath,
		Exists:        h.DatabaseExists,
		Readable:      h.DatabaseReadable,
		SchemaVersion: h.SchemaVersion,
		Migrations:    h.Migrations,
		IntegrityOK:   h.IntegrityCheck,
		TotalJobs:     h.TotalJobs,
		Error:         h.Error,
	}
}

type daemonView struct {
	Running bool `json:"running"`
	PID     int  `json:"pid,omitempty"`
}

type checkView struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Optional bool   `json:"optional,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

type stageView struct {
	Stage  string `json:"stage"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

func newStageViews(health []stage.Health) []stageView {
	views := make([]stageView, 0, len(health))
	for _, h := range health {
		views = append(views, stageView{Stage: string(h.Stage), Ready: h.Ready, Detail: h.Detail})
	}
	return views
}

func formatTimestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func jobRows(jobs []*queue.Job) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.Label(),
			filepath.Base(job.FilePath),
			string(job.Source),
			string(job.Status),
			string(job.Stage),
			strconv.Itoa(job.Attempts),
			job.UpdatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return rows
}

var jobColumns = []tableColumn{
	{Header: "ID"},
	{Header: "File"},
	{Header: "Source"},
	{Header: "Status"},
	{Header: "Stage"},
	{Header: "Attempts", Align: alignRight},
	{Header: "Updated"},
}
