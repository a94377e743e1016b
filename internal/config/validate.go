package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Engine profile names accepted in generation.engine.
const (
	EngineLocal          = "local"
	EngineGroqLike       = "groq_like"
	EngineCloudProvider  = "cloud_provider"
	EngineBrowserBuiltin = "browser_builtin"
)

var knownEngines = map[string]struct{}{
	EngineLocal:          {},
	EngineGroqLike:       {},
	EngineCloudProvider:  {},
	EngineBrowserBuiltin: {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateService(); err != nil {
		return err
	}
	if err := c.validateGeneration(); err != nil {
		return err
	}
	if err := c.validateTracking(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateService() error {
	parsed, err := url.Parse(c.Service.BaseURL)
	if err != nil {
		return fmt.Errorf("service.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("service.base_url must be an http(s) URL, got %q", c.Service.BaseURL)
	}
	if parsed.Host == "" {
		return errors.New("service.base_url must include a host")
	}
	return nil
}

func (c *Config) validateGeneration() error {
	if _, ok := knownEngines[c.Generation.Engine]; !ok {
		return fmt.Errorf("generation.engine must be one of local, groq_like, cloud_provider, browser_builtin; got %q", c.Generation.Engine)
	}
	switch c.Generation.Engine {
	case EngineGroqLike, EngineCloudProvider:
		if c.Generation.EngineAPIKey == "" {
			return fmt.Errorf("generation.engine_api_key is required for the %s engine", c.Generation.Engine)
		}
	}
	if c.Generation.Engine == EngineCloudProvider && strings.TrimSpace(c.Generation.EngineBaseURL) == "" {
		return errors.New("generation.engine_base_url is required for the cloud_provider engine")
	}
	return nil
}

func (c *Config) validateTracking() error {
	if c.Tracking.PollIntervalMillis < 100 {
		return fmt.Errorf("tracking.poll_interval_ms must be at least 100, got %d", c.Tracking.PollIntervalMillis)
	}
	if c.Tracking.MaxPollAttempts < 1 {
		return fmt.Errorf("tracking.max_poll_attempts must be positive, got %d", c.Tracking.MaxPollAttempts)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error; got %q", c.Logging.Level)
	}
	return nil
}
