package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"stockpile/internal/queue"
	"stockpile/internal/services"
)

const (
	// DefaultBinary is the yt-dlp executable name.
	DefaultBinary = "yt-dlp"
	// DefaultFormat prefers mp4 up to 1080p.
	DefaultFormat = "bv*[height<=1080][ext=mp4]+ba[ext=m4a]/b[height<=1080]/b"
	// MaxFileSize caps a single download.
	MaxFileSize = "100M"
	watchURL    = "https://www.youtube.com/watch?v="
)

// Config captures yt-dlp settings.
type Config struct {
	Binary string
	Format string
	// MaxDurationSeconds skips longer videos; zero disables the cap.
	MaxDurationSeconds int
}

// CommandRunner executes name with args and returns stdout. Errors should
// include a stderr excerpt.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Client wraps the yt-dlp binary.
type Client struct {
	cfg    Config
	runner CommandRunner
}

// New constructs a client. A nil runner uses os/exec.
func New(cfg Config, runner CommandRunner) *Client {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = DefaultBinary
	}
	if strings.TrimSpace(cfg.Format) == "" {
		cfg.Format = DefaultFormat
	}
	if runner == nil {
		runner = execRunner
	}
	return &Client{cfg: cfg, runner: runner}
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = "..." + msg[len(msg)-512:]
		}
		return out, fmt.Errorf("%w: %s", err, msg)
	}
	return out, nil
}

type searchEntry struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	WebpageURL  string  `json:"webpage_url"`
	Duration    float64 `json:"duration"`
	Filesize    int64   `json:"filesize"`
	FilesizeApx int64   `json:"filesize_approx"`
	Description string  `json:"description"`
}

// SearchCandidates returns up to maxResults search hits for phrase.
func (c *Client) SearchCandidates(ctx context.Context, phrase string, maxResults int) ([]queue.Candidate, error) {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return nil, services.Wrap(services.ErrValidation, string(queue.StageSearched), "yt-dlp search", "phrase required", nil)
	}
	if maxResults <= 0 {
		maxResults = 1
	}
	args := []string{
		"--dump-json",
		"--skip-download",
		"--no-warnings",
		"--ignore-errors",
		fmt.Sprintf("ytsearch%d:%s", maxResults, phrase),
	}
	out, runErr := c.runner(ctx, c.cfg.Binary, args...)
	candidates := parseSearchOutput(out, phrase)
	if runErr != nil && len(candidates) == 0 {
		return nil, c.classify(ctx, "yt-dlp search", runErr)
	}
	return candidates, nil
}

func parseSearchOutput(out []byte, phrase string) []queue.Candidate {
	var candidates []queue.Candidate
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var entry searchEntry
		if err := json.Unmarshal(line, &entry); err != nil || entry.ID == "" {
			continue
		}
		if _, dup := seen[entry.ID]; dup {
			continue
		}
		seen[entry.ID] = struct{}{}
		link := entry.WebpageURL
		if link == "" {
			link = watchURL + entry.ID
		}
		size := entry.Filesize
		if size == 0 {
			size = entry.FilesizeApx
		}
		title := strings.TrimSpace(entry.Title)
		if title == "" {
			title = "Unknown Title"
		}
		candidates = append(candidates, queue.Candidate{
			Phrase:          phrase,
			VideoID:         entry.ID,
			Title:           title,
			SourceURL:       link,
			DurationSeconds: int(entry.Duration),
			SizeBytes:       size,
			Description:     entry.Description,
		})
	}
	return candidates
}

// OutputTemplate returns the yt-dlp output template for a video with score.
func OutputTemplate(dir string, score int) string {
	return filepath.Join(dir, fmt.Sprintf("score%02d_%%(title).80B.%%(ext)s", score))
}

// DownloadVideo fetches video into dir and returns the final file path.
func (c *Client) DownloadVideo(ctx context.Context, video queue.ScoredVideo, dir string) (string, error) {
	if strings.TrimSpace(video.SourceURL) == "" {
		return "", services.Wrap(services.ErrValidation, string(queue.StageDownloaded), "yt-dlp download", "source url required", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", services.Wrap(services.ErrTransient, string(queue.StageDownloaded), "yt-dlp download", "ensure download dir", err)
	}
	args := []string{
		"--no-playlist",
		"--no-warnings",
		"--no-progress",
		"--format", c.cfg.Format,
		"--merge-output-format", "mp4",
		"--max-filesize", MaxFileSize,
		"--output", OutputTemplate(dir, video.Score),
		"--print", "after_move:filepath",
		"--no-simulate",
	}
	if c.cfg.MaxDurationSeconds > 0 {
		args = append(args, "--match-filter", "duration <= "+strconv.Itoa(c.cfg.MaxDurationSeconds))
	}
	args = append(args, video.SourceURL)

	out, err := c.runner(ctx, c.cfg.Binary, args...)
	if err != nil {
		return "", c.classify(ctx, "yt-dlp download", err)
	}
	path := lastLine(out)
	if path == "" {
		return "", services.Wrap(services.ErrValidation, string(queue.StageDownloaded), "yt-dlp download",
			"nothing downloaded for "+video.VideoID+" (filtered by duration or size)", nil)
	}
	if _, err := os.Stat(path); err != nil {
		return "", services.Wrap(services.ErrExternalTool, string(queue.StageDownloaded), "yt-dlp download", "reported file missing", err)
	}
	return path, nil
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

func (c *Client) classify(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	if errors.Is(err, exec.ErrNotFound) {
		return services.Wrap(services.ErrConfiguration, "", op, c.cfg.Binary+" not found on PATH", err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "http error 429"), strings.Contains(msg, "too many requests"):
		return services.Wrap(services.ErrRateLimited, "", op, "rate limited", err)
	case strings.Contains(msg, "private video"),
		strings.Contains(msg, "video unavailable"),
		strings.Contains(msg, "has been removed"),
		strings.Contains(msg, "sign in to confirm your age"):
		return services.Wrap(services.ErrNotFound, "", op, "video unavailable", err)
	case strings.Contains(msg, "unable to download"),
		strings.Contains(msg, "connection"),
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "network"):
		return services.Wrap(services.ErrNetwork, "", op, "network failure", err)
	default:
		return services.Wrap(services.ErrExternalTool, "", op, "yt-dlp failed", err)
	}
}
