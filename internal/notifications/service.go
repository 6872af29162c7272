package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"stockpile/internal/config"
	"stockpile/internal/services"
)

const userAgent = "stockpile/0.1.0"

// Outcome is the terminal result being announced.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// Details describes the job a notification is about.
type Details struct {
	JobID      string
	FilePath   string
	Stage      string
	OutputPath string
	RemoteLink string
	Phrases    int
	Downloads  int
	Error      string
	Elapsed    time.Duration
}

// Notifier announces terminal job outcomes.
type Notifier interface {
	Notify(ctx context.Context, outcome Outcome, details Details) error
}

// NewNotifier builds a notifier backed by ntfy when configured. When no ntfy
// topic is configured, a noop implementation is returned.
func NewNotifier(cfg *config.Config) Notifier {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return Noop{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyNotifier{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyNotifier struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyNotifier) Notify(ctx context.Context, outcome Outcome, details Details) error {
	return n.send(ctx, buildPayload(outcome, details))
}

func buildPayload(outcome Outcome, d Details) payload {
	name := filepath.Base(strings.TrimSpace(d.FilePath))
	if name == "." || name == "/" {
		name = "unknown file"
	}
	switch outcome {
	case OutcomeFailed:
		var b strings.Builder
		fmt.Fprintf(&b, "B-roll job failed: %s", name)
		if d.Stage != "" {
			fmt.Fprintf(&b, "\nStage: %s", StageLabel(d.Stage))
		}
		if msg := strings.TrimSpace(d.Error); msg != "" {
			fmt.Fprintf(&b, "\nError: %s", msg)
		}
		if d.JobID != "" {
			fmt.Fprintf(&b, "\nJob: %s", d.JobID)
		}
		return payload{
			title:    "Stockpile - Failed",
			message:  b.String(),
			tags:     []string{"stockpile", "job", "failed"},
			priority: "high",
		}
	default:
		var b strings.Builder
		fmt.Fprintf(&b, "B-roll ready: %s", name)
		fmt.Fprintf(&b, "\n%d clips across %d phrases", d.Downloads, d.Phrases)
		if d.RemoteLink != "" {
			fmt.Fprintf(&b, "\nLink: %s", d.RemoteLink)
		} else if d.OutputPath != "" {
			fmt.Fprintf(&b, "\nFolder: %s", d.OutputPath)
		}
		if d.Elapsed > 0 {
			fmt.Fprintf(&b, "\nTook %s", d.Elapsed.Round(time.Second))
		}
		return payload{
			title:   "Stockpile - Complete",
			message: b.String(),
			tags:    []string{"stockpile", "job", "completed"},
		}
	}
}

// StageLabel turns a stage name such as phrases_extracted into "Phrases Extracted".
func StageLabel(stage string) string {
	stage = strings.TrimSpace(strings.ReplaceAll(stage, "_", " "))
	return cases.Title(language.English).String(stage)
}

func (n *ntfyNotifier) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "notified", "build request", "", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrNetwork, "notified", "send ntfy", "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		marker := services.ErrTransient
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			marker = services.ErrValidation
		}
		return services.Wrap(marker, "notified", "send ntfy",
			fmt.Sprintf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Noop discards notifications.
type Noop struct{}

func (Noop) Notify(context.Context, Outcome, Details) error { return nil }
