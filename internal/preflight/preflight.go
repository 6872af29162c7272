package preflight

import (
	"context"
	"strings"

	"stockpile/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// Options toggles the slower checks.
type Options struct {
	// CheckLLM issues a live request against the chat-completions endpoint.
	CheckLLM bool
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, opts Options) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir))
	results = append(results, CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir))
	if strings.TrimSpace(cfg.Paths.InputDir) != "" {
		results = append(results, CheckDirectoryAccess("Input directory", cfg.Paths.InputDir))
	}
	if cfg.Workflow.MinFreeSpaceGiB > 0 {
		results = append(results, CheckFreeSpace("Staging free space", cfg.Paths.StagingDir, uint64(cfg.Workflow.MinFreeSpaceGiB)))
	}
	results = append(results, CheckBinaries(Requirements(cfg))...)

	switch {
	case strings.TrimSpace(cfg.LLM.APIKey) == "":
		results = append(results, Result{Name: "LLM", Detail: "API key missing"})
	case opts.CheckLLM:
		results = append(results, CheckLLM(ctx, "LLM", cfg.LLM))
	}

	if strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
		results = append(results, Result{Name: "Notifications", Optional: true, Detail: "ntfy topic not configured"})
	} else {
		results = append(results, Result{Name: "Notifications", Passed: true, Detail: cfg.Notifications.NtfyTopic})
	}
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			out = append(out, r)
		}
	}
	return out
}
