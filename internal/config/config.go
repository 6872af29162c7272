package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	InputDir     string `toml:"input_dir"`
	OutputDir    string `toml:"output_dir" validate:"required"`
	StagingDir   string `toml:"staging_dir" validate:"required"`
	LogDir       string `toml:"log_dir" validate:"required"`
	DatabasePath string `toml:"database_path"`
}

// Workflow controls the orchestrator and ingestion timing.
type Workflow struct {
	MaxConcurrentJobs  int `toml:"max_concurrent_jobs" validate:"min=1,max=64"`
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
	ShutdownGrace      int `toml:"shutdown_grace"`
	StageTimeout       int `toml:"stage_timeout"`
	StabilityDebounce  int `toml:"stability_debounce" validate:"min=0"`
	MinFreeSpaceGiB    int `toml:"min_free_space_gib" validate:"min=0"`
}

// Search controls candidate discovery and selection.
type Search struct {
	MaxResultsPerPhrase int `toml:"max_results_per_phrase" validate:"min=1,max=100"`
	MaxVideosPerPhrase  int `toml:"max_videos_per_phrase" validate:"min=1"`
	MaxDurationSeconds  int `toml:"max_duration_seconds" validate:"min=0"`
	MinScore            int `toml:"min_score" validate:"min=1,max=10"`
}

// Transcription configures the WhisperX runner.
type Transcription struct {
	Model       string `toml:"model" validate:"required"`
	Language    string `toml:"language"`
	CUDAEnabled bool   `toml:"cuda_enabled"`
	Runner      string `toml:"runner" validate:"required"`
}

// LLM configures the chat-completions endpoint used for phrases and scoring.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url" validate:"required,url"`
	Model          string `toml:"model" validate:"required"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Downloader configures yt-dlp.
type Downloader struct {
	Binary string `toml:"binary" validate:"required"`
	Format string `toml:"format"`
}

// CloudDrive configures the S3-compatible bucket used as an input and output source.
type CloudDrive struct {
	Enabled         bool   `toml:"enabled"`
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UsePathStyle    bool   `toml:"use_path_style"`
	WatchInput      bool   `toml:"watch_input"`
	InputPrefix     string `toml:"input_prefix"`
	UploadOutput    bool   `toml:"upload_output"`
	OutputPrefix    string `toml:"output_prefix"`
	PublicURL       string `toml:"public_url"`
	PollInterval    int    `toml:"poll_interval"`
}

// Notifications configures ntfy delivery. NtfyTopic is the full topic URL.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic" validate:"omitempty,url"`
	RequestTimeout int    `toml:"request_timeout"`
}

// RetryPolicy is the TOML shape of a retry.Policy.
type RetryPolicy struct {
	MaxAttempts int     `toml:"max_attempts" validate:"min=1"`
	BaseDelayMS int     `toml:"base_delay_ms" validate:"min=0"`
	Multiplier  float64 `toml:"multiplier" validate:"gte=1"`
	MaxDelayMS  int     `toml:"max_delay_ms" validate:"gtefield=BaseDelayMS"`
	Jitter      float64 `toml:"jitter" validate:"gte=0,lte=1"`
}

// BaseDelay returns the configured base delay.
func (p RetryPolicy) BaseDelay() time.Duration {
	return time.Duration(p.BaseDelayMS) * time.Millisecond
}

// MaxDelay returns the configured delay ceiling.
func (p RetryPolicy) MaxDelay() time.Duration {
	return time.Duration(p.MaxDelayMS) * time.Millisecond
}

// Retry groups the per-concern retry presets.
type Retry struct {
	API      RetryPolicy `toml:"api"`
	File     RetryPolicy `toml:"file"`
	Download RetryPolicy `toml:"download"`
	Notify   RetryPolicy `toml:"notify"`
}

// Logging configures log output.
type Logging struct {
	Format string `toml:"format" validate:"oneof=console json"`
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
}

// Metrics configures the Prometheus endpoint. An empty bind disables it.
type Metrics struct {
	Bind string `toml:"bind"`
	Path string `toml:"path"`
}

// Config encapsulates all configuration values for stockpile.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Workflow      Workflow      `toml:"workflow"`
	Search        Search        `toml:"search"`
	Transcription Transcription `toml:"transcription"`
	LLM           LLM           `toml:"llm"`
	Downloader    Downloader    `toml:"downloader"`
	CloudDrive    CloudDrive    `toml:"cloud_drive"`
	Notifications Notifications `toml:"notifications"`
	Retry         Retry         `toml:"retry"`
	Logging       Logging       `toml:"logging"`
	Metrics       Metrics       `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if err := loadDotEnv(filepath.Dir(resolvedPath)); err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("stockpile.toml")
	if err != nil {
		return "", false, err
	}

	for _, candidate := range []string{defaultPath, projectPath} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true, nil
		}
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.OutputDir, c.Paths.StagingDir, c.Paths.LogDir}
	if c.Paths.InputDir != "" {
		dirs = append(dirs, c.Paths.InputDir)
	}
	if c.Paths.DatabasePath != "" {
		dirs = append(dirs, filepath.Dir(c.Paths.DatabasePath))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabaseFile returns the SQLite path, defaulting to the log directory's sibling.
func (c *Config) DatabaseFile() string {
	if strings.TrimSpace(c.Paths.DatabasePath) != "" {
		return c.Paths.DatabasePath
	}
	return filepath.Join(filepath.Dir(c.Paths.LogDir), defaultDatabaseName)
}

// LockPath returns the daemon lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "stockpile.lock")
}

// PIDPath returns the daemon PID file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.LogDir, "stockpile.pid")
}

// CloudInputEnabled reports whether the cloud drive is watched for new media.
func (c *Config) CloudInputEnabled() bool {
	return c.CloudDrive.Enabled && c.CloudDrive.WatchInput
}

// CloudOutputEnabled reports whether organized projects are uploaded.
func (c *Config) CloudOutputEnabled() bool {
	return c.CloudDrive.Enabled && c.CloudDrive.UploadOutput
}

// PollInterval returns the queue poll interval.
func (w Workflow) PollInterval() time.Duration {
	return seconds(w.QueuePollInterval)
}

// ErrorRetry returns the pause after a failed claim attempt.
func (w Workflow) ErrorRetry() time.Duration {
	return seconds(w.ErrorRetryInterval)
}

// Heartbeat returns the heartbeat period for in-flight jobs.
func (w Workflow) Heartbeat() time.Duration {
	return seconds(w.HeartbeatInterval)
}

// HeartbeatExpiry returns how old a heartbeat may get before the job is reclaimed.
func (w Workflow) HeartbeatExpiry() time.Duration {
	return seconds(w.HeartbeatTimeout)
}

// Grace returns the shutdown grace period for in-flight jobs.
func (w Workflow) Grace() time.Duration {
	return seconds(w.ShutdownGrace)
}

// AttemptTimeout returns the maximum duration of a single stage attempt.
func (w Workflow) AttemptTimeout() time.Duration {
	return seconds(w.StageTimeout)
}

// Debounce returns the ingestion stability window.
func (w Workflow) Debounce() time.Duration {
	return seconds(w.StabilityDebounce)
}

func seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
