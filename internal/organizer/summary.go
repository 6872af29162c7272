package organizer

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"stockpile/internal/queue"
)

func writeSummary(projectDir string, job queue.Job, clips []Organized) error {
	title := cases.Title(language.English)

	var b strings.Builder
	b.WriteString("B-ROLL PROJECT SUMMARY\n")
	b.WriteString(strings.Repeat("=", 50) + "\n\n")
	fmt.Fprintf(&b, "Job ID: %s\n", job.ID)
	fmt.Fprintf(&b, "Source: %s (%s)\n", filepath.Base(job.FilePath), job.Source)
	fmt.Fprintf(&b, "Created: %s\n", job.CreatedAt.UTC().Format(time.DateTime))
	fmt.Fprintf(&b, "Project Directory: %s\n\n", filepath.Base(projectDir))
	b.WriteString("ORGANIZED FILES BY SEARCH PHRASE:\n")
	b.WriteString(strings.Repeat("-", 40) + "\n\n")

	var order []string
	byPhrase := make(map[string][]Organized)
	for _, clip := range clips {
		if _, ok := byPhrase[clip.Phrase]; !ok {
			order = append(order, clip.Phrase)
		}
		byPhrase[clip.Phrase] = append(byPhrase[clip.Phrase], clip)
	}
	for _, phrase := range order {
		entries := byPhrase[phrase]
		fmt.Fprintf(&b, "%s  ('%s')\n", title.String(phrase), phrase)
		fmt.Fprintf(&b, "Files (%d):\n", len(entries))
		for _, clip := range entries {
			fmt.Fprintf(&b, "  - %s (score %d, %s MB)\n", filepath.Base(clip.Path), clip.Score, sizeMB(clip.Path))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "TOTAL FILES: %d\n", len(clips))
	fmt.Fprintf(&b, "TOTAL PROJECT SIZE: %s MB\n", dirSizeMB(projectDir))

	return os.WriteFile(filepath.Join(projectDir, summaryFileName), []byte(b.String()), 0o644)
}

func sizeMB(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "unknown"
	}
	return fmt.Sprintf("%.1f", float64(info.Size())/(1024*1024))
}

func dirSizeMB(dir string) string {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || d.Name() == summaryFileName {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return "unknown"
	}
	return fmt.Sprintf("%.1f", float64(total)/(1024*1024))
}
