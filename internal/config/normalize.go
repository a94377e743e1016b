package config

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/language"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeService(); err != nil {
		return err
	}
	if err := c.normalizeGeneration(); err != nil {
		return err
	}
	c.normalizeTracking()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		c.Paths.CacheDir = defaultCacheDir
	}
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ExportDir) == "" {
		c.Paths.ExportDir = defaultExportDir
	}
	if c.Paths.ExportDir, err = expandPath(c.Paths.ExportDir); err != nil {
		return fmt.Errorf("paths.export_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeService() error {
	c.Service.BaseURL = strings.TrimRight(strings.TrimSpace(c.Service.BaseURL), "/")
	if c.Service.BaseURL == "" {
		c.Service.BaseURL = defaultServiceBaseURL
	}
	c.Service.APIKey = strings.TrimSpace(c.Service.APIKey)
	if c.Service.APIKey == "" {
		c.Service.APIKey = strings.TrimSpace(os.Getenv("SUBSYNC_API_KEY"))
	}
	if c.Service.TimeoutSeconds <= 0 {
		c.Service.TimeoutSeconds = defaultServiceTimeout
	}
	return nil
}

func (c *Config) normalizeGeneration() error {
	c.Generation.Engine = strings.ToLower(strings.TrimSpace(c.Generation.Engine))
	if c.Generation.Engine == "" {
		c.Generation.Engine = defaultEngine
	}
	var err error
	if c.Generation.Language, err = normalizeLanguage(c.Generation.Language, true); err != nil {
		return fmt.Errorf("generation.language: %w", err)
	}
	if c.Generation.TargetLanguage, err = normalizeLanguage(c.Generation.TargetLanguage, false); err != nil {
		return fmt.Errorf("generation.target_language: %w", err)
	}
	c.Generation.EngineAPIKey = strings.TrimSpace(c.Generation.EngineAPIKey)
	c.Generation.EngineBaseURL = strings.TrimSpace(c.Generation.EngineBaseURL)
	c.Generation.Model = strings.TrimSpace(c.Generation.Model)
	return nil
}

// normalizeLanguage canonicalizes a BCP 47 tag to its base language.
// "auto" is preserved when allowAuto is set; empty values stay empty.
func normalizeLanguage(value string, allowAuto bool) (string, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		if allowAuto {
			return defaultLanguage, nil
		}
		return "", nil
	}
	if value == "auto" {
		if allowAuto {
			return value, nil
		}
		return "", fmt.Errorf("%q is not a valid target language", value)
	}
	tag, err := language.Parse(value)
	if err != nil {
		return "", fmt.Errorf("parse language tag %q: %w", value, err)
	}
	base, _ := tag.Base()
	return base.String(), nil
}

func (c *Config) normalizeTracking() {
	if c.Tracking.PollIntervalMillis <= 0 {
		c.Tracking.PollIntervalMillis = defaultPollIntervalMillis
	}
	if c.Tracking.MaxPollAttempts <= 0 {
		c.Tracking.MaxPollAttempts = defaultMaxPollAttempts
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Display.MinRedrawMs < 0 {
		c.Display.MinRedrawMs = 0
	}
}
