package config

import "time"

const (
	defaultCacheDir           = "~/.local/share/subsync/cache"
	defaultLogDir             = "~/.local/share/subsync/logs"
	defaultExportDir          = "~/.local/share/subsync/exports"
	defaultAPIBind            = "127.0.0.1:8972"
	defaultServiceBaseURL     = "http://127.0.0.1:8000"
	defaultServiceTimeout     = 30
	defaultEngine             = "local"
	defaultLanguage           = "auto"
	defaultPollIntervalMillis = 500
	defaultMaxPollAttempts    = 3600
	defaultMinRedrawMillis    = 50
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			CacheDir:  defaultCacheDir,
			LogDir:    defaultLogDir,
			ExportDir: defaultExportDir,
			APIBind:   defaultAPIBind,
		},
		Service: Service{
			BaseURL:        defaultServiceBaseURL,
			TimeoutSeconds: defaultServiceTimeout,
		},
		Generation: Generation{
			Engine:   defaultEngine,
			Language: defaultLanguage,
		},
		Tracking: Tracking{
			PollIntervalMillis: defaultPollIntervalMillis,
			MaxPollAttempts:    defaultMaxPollAttempts,
			StreamEnabled:      true,
		},
		Display: Display{
			Visible:     true,
			MinRedrawMs: defaultMinRedrawMillis,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

// PollInterval returns the tracking poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Tracking.PollIntervalMillis) * time.Millisecond
}

// MinRedraw returns the display redraw coalescing window as a duration.
func (c *Config) MinRedraw() time.Duration {
	return time.Duration(c.Display.MinRedrawMs) * time.Millisecond
}

// ServiceTimeout returns the per-request service timeout as a duration.
func (c *Config) ServiceTimeout() time.Duration {
	return time.Duration(c.Service.TimeoutSeconds) * time.Second
}
