package preflight

import (
	"fmt"
	"os/exec"
	"strings"

	"stockpile/internal/config"
)

// Requirement defines an external command the pipeline shells out to.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Requirements lists the commands cfg needs.
func Requirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{
			Name:        "yt-dlp",
			Command:     cfg.Downloader.Binary,
			Description: "Required for clip search and download",
		},
		{
			Name:        "WhisperX runner",
			Command:     cfg.Transcription.Runner,
			Description: "Required for transcription",
		},
		{
			Name:        "FFmpeg",
			Command:     "ffmpeg",
			Description: "Used by yt-dlp to merge audio and video streams",
			Optional:    true,
		},
	}
}

// CheckBinaries resolves each requirement on PATH.
func CheckBinaries(requirements []Requirement) []Result {
	results := make([]Result, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		result := Result{Name: req.Name, Optional: req.Optional}
		switch resolved, err := exec.LookPath(cmd); {
		case cmd == "":
			result.Detail = "command not configured"
		case err != nil:
			result.Detail = fmt.Sprintf("binary %q not found (%s)", cmd, strings.ToLower(req.Description))
		default:
			result.Passed = true
			result.Detail = resolved
		}
		results = append(results, result)
	}
	return results
}
