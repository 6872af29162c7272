package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"stockpile/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LLM_API_KEY", "OPENROUTER_API_KEY", "NTFY_TOPIC",
		"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "AWS_REGION", "AWS_DEFAULT_REGION",
		"STOCKPILE_INPUT_DIR", "LOCAL_INPUT_FOLDER", "STOCKPILE_OUTPUT_DIR", "LOCAL_OUTPUT_FOLDER",
		"STOCKPILE_BUCKET",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	clearEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantStaging := filepath.Join(tempHome, ".local", "share", "stockpile", "staging")
	if cfg.Paths.StagingDir != wantStaging {
		t.Fatalf("unexpected staging dir: got %q want %q", cfg.Paths.StagingDir, wantStaging)
	}
	if cfg.Paths.InputDir != filepath.Join(tempHome, "stockpile", "input") {
		t.Fatalf("unexpected input dir: %q", cfg.Paths.InputDir)
	}
	if got := cfg.DatabaseFile(); got != filepath.Join(tempHome, ".local", "share", "stockpile", "stockpile.db") {
		t.Fatalf("unexpected database file: %q", got)
	}
	if cfg.Workflow.MaxConcurrentJobs != 3 {
		t.Fatalf("expected 3 concurrent jobs by default, got %d", cfg.Workflow.MaxConcurrentJobs)
	}
	if cfg.Search.MinScore != 6 || cfg.Search.MaxVideosPerPhrase != 3 || cfg.Search.MaxDurationSeconds != 600 {
		t.Fatalf("unexpected search defaults: %+v", cfg.Search)
	}
	if cfg.Retry.API.MaxAttempts != 5 || cfg.Retry.API.MaxDelay() != 120*time.Second {
		t.Fatalf("unexpected api retry preset: %+v", cfg.Retry.API)
	}
	if cfg.CloudDrive.Enabled {
		t.Fatal("expected cloud drive disabled by default")
	}
	if err := cfg.ValidatePipeline(); err == nil {
		t.Fatal("expected pipeline validation to require an llm api key")
	}
}

func TestLoadCustomPath(t *testing.T) {
	clearEnv(t)
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "stockpile.toml")

	type payload struct {
		Paths struct {
			InputDir string `toml:"input_dir"`
		} `toml:"paths"`
		Workflow struct {
			MaxConcurrentJobs int `toml:"max_concurrent_jobs"`
			HeartbeatInterval int `toml:"heartbeat_interval"`
			HeartbeatTimeout  int `toml:"heartbeat_timeout"`
		} `toml:"workflow"`
		LLM struct {
			APIKey string `toml:"api_key"`
		} `toml:"llm"`
		Retry struct {
			Download struct {
				MaxAttempts int `toml:"max_attempts"`
			} `toml:"download"`
		} `toml:"retry"`
	}
	custom := payload{}
	custom.Paths.InputDir = filepath.Join(tempDir, "drop")
	custom.Workflow.MaxConcurrentJobs = 5
	custom.Workflow.HeartbeatInterval = 20
	custom.Workflow.HeartbeatTimeout = 200
	custom.LLM.APIKey = "abc123"
	custom.Retry.Download.MaxAttempts = 7
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Paths.InputDir != filepath.Join(tempDir, "drop") {
		t.Fatalf("unexpected input dir %q", cfg.Paths.InputDir)
	}
	if cfg.Workflow.MaxConcurrentJobs != 5 {
		t.Fatalf("expected 5 concurrent jobs, got %d", cfg.Workflow.MaxConcurrentJobs)
	}
	if cfg.Workflow.Heartbeat() != 20*time.Second {
		t.Fatalf("expected heartbeat 20s, got %s", cfg.Workflow.Heartbeat())
	}
	if cfg.LLM.APIKey != "abc123" {
		t.Fatalf("expected LLM key from file, got %q", cfg.LLM.APIKey)
	}
	if cfg.Retry.Download.MaxAttempts != 7 {
		t.Fatalf("expected download retry override, got %d", cfg.Retry.Download.MaxAttempts)
	}
	if cfg.Retry.Download.Multiplier != 2 {
		t.Fatalf("expected untouched retry fields to keep defaults, got %v", cfg.Retry.Download.Multiplier)
	}
	if err := cfg.ValidatePipeline(); err != nil {
		t.Fatalf("ValidatePipeline: %v", err)
	}
}

func TestEnvVarOverridesConfigFileForSecrets(t *testing.T) {
	clearEnv(t)
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "stockpile.toml")
	contents := `
[llm]
api_key = "file-key"

[notifications]
ntfy_topic = "https://ntfy.example.com/file"
`
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("LLM_API_KEY", "env-key")
	t.Setenv("NTFY_TOPIC", "https://ntfy.example.com/env")
	t.Setenv("AWS_ACCESS_KEY_ID", "env-access")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "env-secret")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("expected LLM key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.Notifications.NtfyTopic != "https://ntfy.example.com/env" {
		t.Errorf("expected ntfy topic from env, got %q", cfg.Notifications.NtfyTopic)
	}
	if cfg.CloudDrive.AccessKeyID != "env-access" || cfg.CloudDrive.SecretAccessKey != "env-secret" {
		t.Errorf("expected AWS credentials from env, got %q/%q", cfg.CloudDrive.AccessKeyID, cfg.CloudDrive.SecretAccessKey)
	}
}

func TestLoadReadsDotEnvBesideConfig(t *testing.T) {
	clearEnv(t)
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "stockpile.toml")
	if err := os.WriteFile(configPath, []byte("[llm]\nmodel = \"test-model\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tempDir, ".env"), []byte("LLM_API_KEY=dotenv-key\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tempDir, ".env.local"), []byte("LLM_API_KEY=local-key\n"), 0o644); err != nil {
		t.Fatalf("write .env.local: %v", err)
	}
	// godotenv writes straight to the process env; restore it when done.
	t.Setenv("LLM_API_KEY", "")
	os.Unsetenv("LLM_API_KEY")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.LLM.APIKey != "local-key" {
		t.Fatalf("expected .env.local to win, got %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.Model != "test-model" {
		t.Fatalf("unexpected model %q", cfg.LLM.Model)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "your_llm_api_key_here") {
		t.Fatalf("sample config missing placeholder LLM key: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if !strings.Contains(cfg.Paths.StagingDir, "stockpile") {
		t.Fatalf("expected staging dir to contain stockpile, got %q", cfg.Paths.StagingDir)
	}
	if cfg.Retry.Notify.MaxAttempts != 3 {
		t.Fatalf("expected notify retry preset in sample, got %+v", cfg.Retry.Notify)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero concurrency", func(c *config.Config) { c.Workflow.MaxConcurrentJobs = 0 }, "workflow.max_concurrent_jobs"},
		{"heartbeat order", func(c *config.Config) { c.Workflow.HeartbeatTimeout = c.Workflow.HeartbeatInterval }, "heartbeat_timeout must be greater"},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"retry multiplier", func(c *config.Config) { c.Retry.API.Multiplier = 0.5 }, "retry.api.multiplier"},
		{"retry attempts", func(c *config.Config) { c.Retry.File.MaxAttempts = 0 }, "retry.file.max_attempts"},
		{"jitter range", func(c *config.Config) { c.Retry.Download.Jitter = 1.5 }, "retry.download.jitter"},
		{"max below base", func(c *config.Config) { c.Retry.Notify.MaxDelayMS = 1 }, "retry.notify.max_delay_ms"},
		{"no input", func(c *config.Config) { c.Paths.InputDir = "" }, "no input configured"},
		{"cloud without bucket", func(c *config.Config) { c.CloudDrive.Enabled = true }, "cloud_drive.bucket"},
		{"half credentials", func(c *config.Config) {
			c.CloudDrive.Enabled = true
			c.CloudDrive.Bucket = "media"
			c.CloudDrive.AccessKeyID = "id"
		}, "set together"},
		{"stage timeout", func(c *config.Config) { c.Workflow.StageTimeout = 0 }, "workflow.stage_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in %q", tt.want, err.Error())
			}
		})
	}
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.InputDir = filepath.Join(base, "in")
	cfg.Paths.OutputDir = filepath.Join(base, "out")
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.DatabasePath = filepath.Join(base, "db", "jobs.db")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{"in", "out", "staging", "logs", "db"} {
		if info, err := os.Stat(filepath.Join(base, dir)); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
}
