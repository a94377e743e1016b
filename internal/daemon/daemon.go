package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"subsync/internal/cache"
	"subsync/internal/config"
	"subsync/internal/ident"
	"subsync/internal/logging"
	"subsync/internal/pipeline"
	"subsync/internal/subtitle"
	"subsync/internal/track"
	"subsync/internal/transcribe"
)

// Daemon coordinates the generation pipeline behind the HTTP API and
// enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	segments *subtitle.Store
	cache    *cache.Store
	client   *transcribe.Client
	orch     *pipeline.Orchestrator
	hub      *eventHub
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Pipeline     pipeline.Snapshot
	CacheDBPath  string
	LockFilePath string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	client := transcribe.NewClient(cfg.Service.BaseURL, cfg.Service.APIKey, cfg.ServiceTimeout(), logger)

	tracker := track.New(client, track.Options{
		Interval:    cfg.PollInterval(),
		MaxAttempts: cfg.Tracking.MaxPollAttempts,
		Logger:      logger,
	})
	if cfg.Tracking.StreamEnabled {
		tracker = tracker.WithStream(track.NewWSDialer(cfg.Service.BaseURL, cfg.Service.APIKey, cfg.ServiceTimeout()))
	}

	cacheStore, err := cache.Open(filepath.Join(cfg.Paths.CacheDir, "subtitles.db"))
	if err != nil {
		return nil, fmt.Errorf("open subtitle cache: %w", err)
	}

	segments := subtitle.NewStore()
	hub := newEventHub()
	orch := pipeline.New(client, tracker, segments, pipeline.Options{
		Prober:    client,
		Persister: cacheStore,
		OnUpdate:  hub.broadcast,
		Logger:    logger,
	})

	lockPath := filepath.Join(cfg.Paths.LogDir, "subsyncd.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		segments: segments,
		cache:    cacheStore,
		client:   client,
		orch:     orch,
		hub:      hub,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock and brings up the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another subsync daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	if err := d.api.start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		d.cancel = nil
		return err
	}

	d.running.Store(true)
	d.logger.Info("subsync daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop shuts down the API, cancels active tracking, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.orch.Cancel()
	d.hub.closeAll()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("subsync daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.cache != nil {
		return d.cache.Close()
	}
	return nil
}

// Status reports runtime information.
func (d *Daemon) Status() Status {
	return Status{
		Running:      d.running.Load(),
		Pipeline:     d.orch.Status(),
		CacheDBPath:  d.cache.Path(),
		LockFilePath: d.lockPath,
	}
}

// Addr returns the API listen address once started, empty otherwise.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

type generateResult struct {
	JobID   string
	Cached  bool
	Phase   pipeline.Phase
	MediaID string
}

// generate resolves the media reference, prefers cached results, and
// otherwise submits a job. Request languages override configured defaults.
func (d *Daemon) generate(ctx context.Context, media, language, target string) (generateResult, error) {
	ref, err := ident.Parse(media)
	if err != nil {
		return generateResult{}, err
	}
	settings, err := transcribe.SettingsFromConfig(d.cfg)
	if err != nil {
		return generateResult{}, err
	}
	if strings.TrimSpace(language) != "" {
		settings.Language = language
	}
	if strings.TrimSpace(target) != "" {
		settings.TargetLanguage = target
	}

	if entry, err := d.cache.Get(ctx, ref.ID, settings.Language, settings.TargetLanguage); err == nil {
		if err := d.orch.LoadResult(ctx, ref, settings, entry.Segments, entry.DetectedLang); err == nil {
			snap := d.orch.Status()
			return generateResult{Cached: true, Phase: snap.Phase, MediaID: ref.ID}, nil
		}
	}

	cached, err := d.orch.GenerateOrCached(ctx, ref, settings)
	if err != nil {
		return generateResult{}, err
	}
	snap := d.orch.Status()
	return generateResult{JobID: snap.JobID, Cached: cached, Phase: snap.Phase, MediaID: ref.ID}, nil
}
