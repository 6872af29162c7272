package whisperx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"stockpile/internal/services"
)

// Service runs WhisperX transcriptions.
type Service struct {
	cfg           Config
	workDir       string
	commandRunner func(ctx context.Context, name string, args ...string) error
}

// NewService creates a WhisperX service writing scratch output under workDir.
func NewService(cfg Config, workDir string) *Service {
	if cfg.Runner == "" {
		cfg.Runner = UVXCommand
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Service{cfg: cfg, workDir: workDir}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	s.commandRunner = runner
}

// Model returns the configured model name for logging.
func (s *Service) Model() string {
	return s.cfg.Model
}

func (s *Service) run(ctx context.Context, name string, args ...string) error {
	if s.commandRunner != nil {
		return s.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec

	// Torch 2.6 changed torch.load default to weights_only=true, breaking WhisperX/pyannote.
	if os.Getenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD") == "" {
		cmd.Env = append(os.Environ(), "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1")
	}

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, tail(strings.TrimSpace(string(output)), 512))
	}
	return nil
}

// Transcribe returns the transcript text of the media file at source.
func (s *Service) Transcribe(ctx context.Context, source string) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", services.Wrap(services.ErrValidation, "transcribed", "whisperx", "source path required", nil)
	}
	if err := os.MkdirAll(s.workDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrTransient, "transcribed", "whisperx", "ensure work dir", err)
	}
	outputDir, err := os.MkdirTemp(s.workDir, "whisperx-")
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "transcribed", "whisperx", "create output dir", err)
	}
	defer os.RemoveAll(outputDir)

	if err := s.run(ctx, s.cfg.Runner, s.buildArgs(source, outputDir)...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("whisperx: %w", ctxErr)
		}
		if errors.Is(err, exec.ErrNotFound) {
			return "", services.Wrap(services.ErrConfiguration, "transcribed", "whisperx", s.cfg.Runner+" not found on PATH", err)
		}
		return "", services.Wrap(services.ErrExternalTool, "transcribed", "whisperx", "run failed", err)
	}

	baseName := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	if text, err := loadTranscriptText(filepath.Join(outputDir, baseName+".json")); err == nil && text != "" {
		return text, nil
	}
	data, err := os.ReadFile(filepath.Join(outputDir, baseName+".txt"))
	if err != nil {
		return "", services.Wrap(services.ErrExternalTool, "transcribed", "whisperx", "no transcript output produced", err)
	}
	return strings.Join(strings.Fields(string(data)), " "), nil
}

func (s *Service) buildArgs(source, outputDir string) []string {
	args := make([]string, 0, 24)
	if s.cfg.CUDAEnabled {
		args = append(args,
			"--index-url", CUDAIndexURL,
			"--extra-index-url", PypiIndexURL,
		)
	} else {
		args = append(args, "--index-url", PypiIndexURL)
	}

	args = append(args,
		"whisperx",
		source,
		"--model", s.cfg.Model,
		"--batch_size", BatchSize,
		"--output_dir", outputDir,
		"--output_format", OutputFormat,
		"--segment_resolution", SegmentResolution,
		"--vad_method", VADMethod,
	)
	if lang := strings.ToLower(strings.TrimSpace(s.cfg.Language)); lang != "" {
		args = append(args, "--language", lang)
	}
	if s.cfg.CUDAEnabled {
		args = append(args, "--device", CUDADevice)
	} else {
		args = append(args, "--device", CPUDevice, "--compute_type", CPUComputeType)
	}
	return args
}

// Segment represents a transcribed segment from WhisperX JSON output.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type whisperXPayload struct {
	Segments []Segment `json:"segments"`
}

// LoadSegments loads segments from a WhisperX JSON file.
func LoadSegments(jsonPath string) ([]Segment, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, err
	}
	var payload whisperXPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse whisperx json: %w", err)
	}
	return payload.Segments, nil
}

func loadTranscriptText(jsonPath string) (string, error) {
	segments, err := LoadSegments(jsonPath)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
