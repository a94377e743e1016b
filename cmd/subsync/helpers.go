package main

import (
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"

	"subsync/internal/config"
)

func cacheDBPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.CacheDir, "subtitles.db")
}

func stdoutIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// cacheKeyLanguages resolves the language pair used as the cache key for a
// command invocation: explicit flags win over configured defaults.
func cacheKeyLanguages(cfg *config.Config, language, target string) (string, string) {
	source := language
	if source == "" {
		source = cfg.Generation.Language
	}
	if source == "" {
		source = "auto"
	}
	if target == "" {
		target = cfg.Generation.TargetLanguage
	}
	return source, target
}
