package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"stockpile/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckFreeSpace("space", dir, 0); !result.Passed {
		t.Fatalf("expected pass with no minimum, got %s", result.Detail)
	}
	if result := CheckFreeSpace("space", dir, 1<<24); result.Passed {
		t.Fatalf("expected failure for a 16 PiB requirement, got %s", result.Detail)
	}
	if result := CheckFreeSpace("space", filepath.Join(dir, "missing"), 1); result.Passed {
		t.Fatal("expected failure for missing path")
	}
}

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	if err := os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	results := CheckBinaries([]Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary", Description: "Needed"},
		{Name: "Blank"},
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Passed || results[0].Detail != present {
		t.Fatalf("expected present binary to resolve, got %#v", results[0])
	}
	if results[1].Passed || !strings.Contains(results[1].Detail, "clearly-not-present-binary") {
		t.Fatalf("expected missing binary failure, got %#v", results[1])
	}
	if results[2].Passed || results[2].Detail != "command not configured" {
		t.Fatalf("expected unconfigured command failure, got %#v", results[2])
	}
}

func TestCheckLLM(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"ok\":true}"}}]}`))
	}))
	defer srv.Close()

	cfg := config.LLM{APIKey: "good-key", BaseURL: srv.URL, Model: "test-model"}
	if result := CheckLLM(context.Background(), "LLM", cfg); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	cfg.APIKey = "bad-key"
	if result := CheckLLM(context.Background(), "LLM", cfg); result.Passed {
		t.Fatal("expected failure for bad key")
	}
	cfg.APIKey = ""
	if result := CheckLLM(context.Background(), "LLM", cfg); result.Passed || result.Detail != "API key missing" {
		t.Fatalf("expected missing key failure, got %#v", result)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil, Options{}); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_ReportsMissingPieces(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StagingDir = t.TempDir()
	cfg.Paths.OutputDir = t.TempDir()
	cfg.Paths.InputDir = ""
	cfg.Workflow.MinFreeSpaceGiB = 0
	cfg.Downloader.Binary = "clearly-not-present-yt-dlp"
	cfg.LLM.APIKey = ""
	cfg.Notifications.NtfyTopic = ""

	results := RunAll(context.Background(), &cfg, Options{})
	byName := map[string]Result{}
	for _, r := range results {
		byName[r.Name] = r
	}
	if !byName["Staging directory"].Passed || !byName["Output directory"].Passed {
		t.Fatalf("directory checks failed: %+v", results)
	}
	if _, ok := byName["Input directory"]; ok {
		t.Fatal("input directory checked although not configured")
	}
	if byName["yt-dlp"].Passed || byName["LLM"].Passed {
		t.Fatalf("expected yt-dlp and LLM failures: %+v", results)
	}

	failed := Failed(results)
	for _, r := range failed {
		if r.Name == "Notifications" || r.Name == "FFmpeg" {
			t.Fatalf("optional check %q counted as failure", r.Name)
		}
	}
	if len(failed) < 2 {
		t.Fatalf("expected at least two required failures, got %+v", failed)
	}
}
