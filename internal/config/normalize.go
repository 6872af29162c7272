package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLLM()
	c.normalizeCloudDrive()
	c.normalizeNotifications()
	c.normalizeLogging()
	c.Transcription.Model = strings.TrimSpace(c.Transcription.Model)
	c.Transcription.Language = strings.ToLower(strings.TrimSpace(c.Transcription.Language))
	c.Downloader.Binary = strings.TrimSpace(c.Downloader.Binary)
	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
	if c.Metrics.Path = strings.TrimSpace(c.Metrics.Path); c.Metrics.Path == "" {
		c.Metrics.Path = defaultMetricsPath
	}
	return nil
}

func (c *Config) normalizePaths() error {
	if c.Paths.InputDir == "" {
		c.Paths.InputDir = lookupEnv("STOCKPILE_INPUT_DIR", "LOCAL_INPUT_FOLDER")
	}
	if value := lookupEnv("STOCKPILE_OUTPUT_DIR", "LOCAL_OUTPUT_FOLDER"); value != "" {
		c.Paths.OutputDir = value
	}

	fields := []struct {
		key   string
		value *string
	}{
		{"paths.input_dir", &c.Paths.InputDir},
		{"paths.output_dir", &c.Paths.OutputDir},
		{"paths.staging_dir", &c.Paths.StagingDir},
		{"paths.log_dir", &c.Paths.LogDir},
		{"paths.database_path", &c.Paths.DatabasePath},
	}
	for _, field := range fields {
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.key, err)
		}
		*field.value = expanded
	}
	return nil
}

// Secrets from the environment win over the file so a checked-in config can
// stay credential free.
func (c *Config) normalizeLLM() {
	if value := lookupEnv("LLM_API_KEY", "OPENROUTER_API_KEY"); value != "" {
		c.LLM.APIKey = value
	}
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL); c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	if c.LLM.Model = strings.TrimSpace(c.LLM.Model); c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
}

func (c *Config) normalizeCloudDrive() {
	cd := &c.CloudDrive
	if value := lookupEnv("AWS_ACCESS_KEY_ID"); value != "" {
		cd.AccessKeyID = value
	}
	if value := lookupEnv("AWS_SECRET_ACCESS_KEY"); value != "" {
		cd.SecretAccessKey = value
	}
	if cd.Region == "" {
		cd.Region = lookupEnv("AWS_REGION", "AWS_DEFAULT_REGION")
	}
	if cd.Bucket == "" {
		cd.Bucket = lookupEnv("STOCKPILE_BUCKET")
	}
	cd.Bucket = strings.TrimSpace(cd.Bucket)
	cd.Endpoint = strings.TrimRight(strings.TrimSpace(cd.Endpoint), "/")
	cd.PublicURL = strings.TrimRight(strings.TrimSpace(cd.PublicURL), "/")
	cd.InputPrefix = normalizePrefix(cd.InputPrefix)
	cd.OutputPrefix = normalizePrefix(cd.OutputPrefix)
	if cd.Region = strings.TrimSpace(cd.Region); cd.Region == "" {
		cd.Region = defaultCloudRegion
	}
}

func (c *Config) normalizeNotifications() {
	if value := lookupEnv("NTFY_TOPIC"); value != "" {
		c.Notifications.NtfyTopic = value
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	switch c.Logging.Level {
	case "":
		c.Logging.Level = defaultLogLevel
	case "warning":
		c.Logging.Level = "warn"
	}
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// lookupEnv returns the first non-empty value among keys.
func lookupEnv(keys ...string) string {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
