package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// loadDotEnv reads .env files beside the config file and in the working
// directory. Variables already present in the environment are kept; a
// .env.local file overrides everything loaded before it.
func loadDotEnv(configDir string) error {
	var base []string
	var local []string
	seen := map[string]struct{}{}
	for _, dir := range []string{configDir, "."} {
		if dir == "" {
			continue
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		if path := filepath.Join(abs, ".env"); fileExists(path) {
			base = append(base, path)
		}
		if path := filepath.Join(abs, ".env.local"); fileExists(path) {
			local = append(local, path)
		}
	}
	if len(base) > 0 {
		if err := godotenv.Load(base...); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	}
	if len(local) > 0 {
		if err := godotenv.Overload(local...); err != nil {
			return fmt.Errorf("load local env file: %w", err)
		}
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
