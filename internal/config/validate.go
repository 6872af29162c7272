package config

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("toml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTags(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateSources(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

// ValidatePipeline checks settings needed only when jobs are processed, so
// read-only commands such as status work without credentials.
func (c *Config) ValidatePipeline() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("llm.api_key is required. Set LLM_API_KEY env var or edit %s (create with 'stockpile config init')", defaultPath)
	}
	return nil
}

func (c *Config) validateTags() error {
	err := structValidator.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("validate config: %w", err)
	}
	first := verrs[0]
	field := strings.TrimPrefix(first.Namespace(), "Config.")
	switch first.Tag() {
	case "required":
		return fmt.Errorf("%s must be set", field)
	case "oneof":
		return fmt.Errorf("%s must be one of: %s", field, strings.ReplaceAll(first.Param(), " ", ", "))
	case "url":
		return fmt.Errorf("%s must be a valid URL", field)
	case "min", "gte":
		return fmt.Errorf("%s must be at least %s", field, first.Param())
	case "max", "lte":
		return fmt.Errorf("%s must be at most %s", field, first.Param())
	case "gtefield":
		return fmt.Errorf("%s must not be smaller than %s", field, first.Param())
	default:
		return fmt.Errorf("%s failed %s validation", field, first.Tag())
	}
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.heartbeat_interval":   c.Workflow.HeartbeatInterval,
		"workflow.heartbeat_timeout":    c.Workflow.HeartbeatTimeout,
		"workflow.shutdown_grace":       c.Workflow.ShutdownGrace,
		"workflow.stage_timeout":        c.Workflow.StageTimeout,
		"llm.timeout_seconds":           c.LLM.TimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateSources() error {
	if c.Paths.InputDir == "" && !c.CloudInputEnabled() {
		return errors.New("no input configured: set paths.input_dir or enable cloud_drive.watch_input")
	}
	if !c.CloudDrive.Enabled {
		return nil
	}
	if c.CloudDrive.Bucket == "" {
		return errors.New("cloud_drive.bucket must be set when cloud_drive.enabled is true")
	}
	if c.CloudDrive.WatchInput && c.CloudDrive.PollInterval <= 0 {
		return errors.New("cloud_drive.poll_interval must be positive")
	}
	if (c.CloudDrive.AccessKeyID == "") != (c.CloudDrive.SecretAccessKey == "") {
		return errors.New("cloud_drive.access_key_id and cloud_drive.secret_access_key must be set together")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic != "" && c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
