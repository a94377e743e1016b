package main

import (
	"log/slog"
	"strings"
	"sync"

	"subsync/internal/cache"
	"subsync/internal/config"
	"subsync/internal/logging"
	"subsync/internal/track"
	"subsync/internal/transcribe"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() *slog.Logger {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.logger = logging.NewNop()
			return
		}
		logger, err := logging.New(logging.Options{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
		})
		if err != nil {
			c.logger = logging.NewNop()
			return
		}
		c.logger = logger
	})
	return c.logger
}

func (c *commandContext) serviceClient() (*transcribe.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return transcribe.NewClient(cfg.Service.BaseURL, cfg.Service.APIKey, cfg.ServiceTimeout(), c.ensureLogger()), nil
}

func (c *commandContext) tracker(client *transcribe.Client) (*track.Tracker, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	tracker := track.New(client, track.Options{
		Interval:    cfg.PollInterval(),
		MaxAttempts: cfg.Tracking.MaxPollAttempts,
		Logger:      c.ensureLogger(),
	})
	if cfg.Tracking.StreamEnabled {
		tracker = tracker.WithStream(track.NewWSDialer(cfg.Service.BaseURL, cfg.Service.APIKey, cfg.ServiceTimeout()))
	}
	return tracker, nil
}

func (c *commandContext) openCache() (*cache.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return cache.Open(cacheDBPath(cfg))
}
