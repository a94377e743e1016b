package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bep/debounce"

	"subsync/internal/ident"
	"subsync/internal/logging"
	"subsync/internal/subtitle"
	"subsync/internal/track"
	"subsync/internal/transcribe"
)

// Phase is the orchestrator's lifecycle state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhaseRunning    Phase = "running"
	PhaseReady      Phase = "ready"
	PhaseError      Phase = "error"
)

// Submitter starts remote jobs. *transcribe.Client satisfies it.
type Submitter interface {
	Submit(ctx context.Context, ref ident.MediaRef, settings transcribe.Settings) (string, error)
	Upload(ctx context.Context, ref ident.MediaRef, settings transcribe.Settings) (string, error)
}

// Tracker drives a submitted job to a terminal state.
type Tracker interface {
	Track(ctx context.Context, jobID string) <-chan track.Event
}

// CacheProber checks for an already-computed result before submitting.
// *transcribe.Client satisfies it.
type CacheProber interface {
	CachedSubtitles(ctx context.Context, mediaID string) (*transcribe.CacheRecord, error)
}

// PersistRequest carries a completed result to the cache collaborator.
type PersistRequest struct {
	MediaID          string
	SourceLanguage   string
	TargetLanguage   string
	DetectedLanguage string
	Segments         []subtitle.Segment
}

// Persister stores completed results. Persistence failures are logged and
// never fail the generation.
type Persister interface {
	Persist(ctx context.Context, req PersistRequest) error
}

// Snapshot is a point-in-time view of the orchestrator.
type Snapshot struct {
	Phase            Phase
	MediaID          string
	JobID            string
	Progress         int
	Message          string
	DetectedLanguage string
	Err              error
}

// Options tunes orchestrator construction.
type Options struct {
	// Prober enables the skip-ahead cache probe in GenerateOrCached.
	Prober CacheProber
	// Persister receives completed results. Optional.
	Persister Persister
	// OnUpdate observes snapshots. Non-terminal progress updates are
	// coalesced by NotifyInterval; phase transitions are delivered
	// immediately. Optional.
	OnUpdate func(Snapshot)
	// NotifyInterval bounds the progress notification rate. Defaults to
	// 150ms.
	NotifyInterval time.Duration
	Logger         *slog.Logger
}

// Orchestrator runs one generation at a time against one segment store.
type Orchestrator struct {
	submitter Submitter
	tracker   Tracker
	store     *subtitle.Store
	prober    CacheProber
	persister Persister
	onUpdate  func(Snapshot)
	coalesce  func(func())
	logger    *slog.Logger

	mu       sync.Mutex
	phase    Phase
	mediaID  string
	jobID    string
	progress int
	message  string
	detected string
	lastErr  error
	source   string
	target   string
	cancel   context.CancelFunc
	// seq invalidates callbacks from superseded jobs
	seq int
}

// New wires an orchestrator. The store is the single shared resource with
// the playback path; the orchestrator only ever replaces it wholesale.
func New(submitter Submitter, tracker Tracker, store *subtitle.Store, opts Options) *Orchestrator {
	interval := opts.NotifyInterval
	if interval <= 0 {
		interval = 150 * time.Millisecond
	}
	return &Orchestrator{
		submitter: submitter,
		tracker:   tracker,
		store:     store,
		prober:    opts.Prober,
		persister: opts.Persister,
		onUpdate:  opts.OnUpdate,
		coalesce:  debounce.New(interval),
		logger:    logging.NewComponentLogger(opts.Logger, "pipeline"),
		phase:     PhaseIdle,
	}
}

// Status returns the current snapshot.
func (o *Orchestrator) Status() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Generate submits a job for the media reference and tracks it in the
// background. It returns once the job is running (or has failed to start).
// A second call for the same media while one is in flight fails with
// ErrAlreadyInProgress; a call for a different media cancels the old
// tracking first. Terminal outcomes are observable via Status and
// OnUpdate.
func (o *Orchestrator) Generate(ctx context.Context, ref ident.MediaRef, settings transcribe.Settings) error {
	// Settings problems are caller mistakes, not generation failures; they
	// reject before any state transition.
	if err := settings.Validate(); err != nil {
		return err
	}

	o.mu.Lock()
	if o.phase == PhaseSubmitting || o.phase == PhaseRunning {
		if o.mediaID == ref.ID {
			o.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrAlreadyInProgress, ref.ID)
		}
		// New media identity supersedes the active job.
		o.cancelLocked()
	}
	o.seq++
	gen := o.seq
	o.phase = PhaseSubmitting
	o.mediaID = ref.ID
	o.jobID = ""
	o.progress = 0
	o.message = ""
	o.detected = ""
	o.lastErr = nil
	o.source = settings.Language
	o.target = settings.TargetLanguage
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap)

	jobID, err := o.submit(ctx, ref, settings)
	if err != nil {
		reason := classifySubmitError(err)
		o.fail(gen, reason, reason.Error())
		return reason
	}

	o.mu.Lock()
	if o.seq != gen {
		// Superseded while the submission was in flight.
		o.mu.Unlock()
		return nil
	}
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.cancel = cancel
	o.phase = PhaseRunning
	o.jobID = jobID
	snap = o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap)

	o.logger.Info("generation running",
		logging.String(logging.FieldMediaID, ref.ID),
		logging.String(logging.FieldJobID, jobID),
	)

	events := o.tracker.Track(jobCtx, jobID)
	go o.consume(jobCtx, gen, events)
	return nil
}

// GenerateOrCached probes the service cache first and loads a hit directly
// into the store, skipping submission. Returns true when the cache served
// the result.
func (o *Orchestrator) GenerateOrCached(ctx context.Context, ref ident.MediaRef, settings transcribe.Settings) (bool, error) {
	if o.prober != nil && ref.Kind != ident.KindFile {
		record, err := o.prober.CachedSubtitles(ctx, ref.ID)
		switch {
		case err == nil && len(record.Subtitles) > 0:
			if err := o.loadCached(ctx, ref, settings, record); err != nil {
				return false, err
			}
			return true, nil
		case err != nil && !errors.Is(err, transcribe.ErrCacheMiss):
			o.logger.Debug("cache probe failed; submitting",
				logging.String(logging.FieldMediaID, ref.ID),
				logging.Error(err),
			)
		}
	}
	return false, o.Generate(ctx, ref, settings)
}

// Cancel stops the active tracking, if any, and returns to idle. Events
// arriving after cancellation are not acted on.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	o.cancelLocked()
	o.seq++
	if o.phase == PhaseSubmitting || o.phase == PhaseRunning {
		o.phase = PhaseIdle
		o.jobID = ""
	}
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap)
}

func (o *Orchestrator) submit(ctx context.Context, ref ident.MediaRef, settings transcribe.Settings) (string, error) {
	switch ref.Kind {
	case ident.KindRemote:
		return o.submitter.Submit(ctx, ref, settings)
	case ident.KindFile:
		return o.submitter.Upload(ctx, ref, settings)
	default:
		return "", fmt.Errorf("%w: cannot generate for a %s reference", ident.ErrInvalidReference, ref.Kind)
	}
}

func (o *Orchestrator) consume(ctx context.Context, gen int, events <-chan track.Event) {
	var terminal *track.Event
	for event := range events {
		if event.Terminal() {
			terminal = &event
			break
		}
		o.observeProgress(gen, event)
	}

	if terminal == nil {
		// Cancelled: the channel closed without a terminal event.
		o.mu.Lock()
		if o.seq == gen && (o.phase == PhaseRunning || o.phase == PhaseSubmitting) {
			o.phase = PhaseIdle
			o.jobID = ""
		}
		o.mu.Unlock()
		return
	}

	switch terminal.State {
	case transcribe.StateCompleted:
		o.complete(ctx, gen, *terminal)
	case transcribe.StateTimedOut:
		o.fail(gen, ErrTimedOut, terminal.Message)
	default:
		reason := errors.New(terminal.Message)
		if terminal.Message == "" {
			reason = errors.New("generation failed")
		}
		o.fail(gen, reason, terminal.Message)
	}
}

func (o *Orchestrator) observeProgress(gen int, event track.Event) {
	o.mu.Lock()
	if o.seq != gen {
		o.mu.Unlock()
		return
	}
	o.progress = event.Progress
	o.message = event.Message
	if event.DetectedLanguage != "" {
		o.detected = event.DetectedLanguage
	}
	o.mu.Unlock()

	if o.onUpdate == nil {
		return
	}
	// A snapshot captured here goes stale before the debounce fires and
	// could land after a terminal notification. Re-read at fire time;
	// terminal phases notify directly.
	o.coalesce(func() {
		snap := o.Status()
		if snap.Phase != PhaseSubmitting && snap.Phase != PhaseRunning {
			return
		}
		o.onUpdate(snap)
	})
}

// complete validates and publishes a successful result. An empty result or
// a malformed segment list is a failure; the previous store contents stay
// untouched in both cases.
func (o *Orchestrator) complete(ctx context.Context, gen int, event track.Event) {
	if len(event.Segments) == 0 {
		o.fail(gen, ErrNoContentRecognized, "")
		return
	}
	if err := o.store.Replace(event.Segments); err != nil {
		o.fail(gen, err, "")
		return
	}

	o.mu.Lock()
	if o.seq != gen {
		o.mu.Unlock()
		return
	}
	if event.DetectedLanguage != "" {
		o.detected = event.DetectedLanguage
	}
	req := PersistRequest{
		MediaID:          o.mediaID,
		SourceLanguage:   o.source,
		TargetLanguage:   o.target,
		DetectedLanguage: o.detected,
		Segments:         event.Segments,
	}
	o.mu.Unlock()

	// Persist before publishing ready so a caller that tears down on ready
	// never races the cache write.
	o.persist(ctx, req)

	o.mu.Lock()
	if o.seq != gen {
		o.mu.Unlock()
		return
	}
	o.phase = PhaseReady
	o.progress = 100
	o.lastErr = nil
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap)

	o.logger.Info("generation ready",
		logging.String(logging.FieldMediaID, req.MediaID),
		logging.Int("segments", len(req.Segments)),
	)
}

func (o *Orchestrator) fail(gen int, reason error, message string) {
	o.mu.Lock()
	if o.seq != gen {
		o.mu.Unlock()
		return
	}
	o.phase = PhaseError
	o.lastErr = reason
	if message != "" {
		o.message = message
	}
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap)

	o.logger.Warn("generation failed",
		logging.String(logging.FieldMediaID, snap.MediaID),
		logging.String(logging.FieldJobID, snap.JobID),
		logging.Error(reason),
	)
}

func (o *Orchestrator) loadCached(ctx context.Context, ref ident.MediaRef, settings transcribe.Settings, record *transcribe.CacheRecord) error {
	return o.LoadResult(ctx, ref, settings, record.Subtitles, record.Language)
}

// LoadResult publishes an already-computed segment list as a ready state
// without submitting a job. Used for cache hits; the result still flows
// through validation and the persist signal.
func (o *Orchestrator) LoadResult(ctx context.Context, ref ident.MediaRef, settings transcribe.Settings, segments []subtitle.Segment, detected string) error {
	if len(segments) == 0 {
		return ErrNoContentRecognized
	}
	if err := o.store.Replace(segments); err != nil {
		return err
	}
	o.mu.Lock()
	o.cancelLocked()
	o.seq++
	o.phase = PhaseReady
	o.mediaID = ref.ID
	o.jobID = ""
	o.progress = 100
	o.message = "loaded from cache"
	o.detected = detected
	o.lastErr = nil
	o.source = settings.Language
	o.target = settings.TargetLanguage
	req := PersistRequest{
		MediaID:          ref.ID,
		SourceLanguage:   settings.Language,
		TargetLanguage:   settings.TargetLanguage,
		DetectedLanguage: detected,
		Segments:         segments,
	}
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap)
	o.persist(ctx, req)
	return nil
}

func (o *Orchestrator) persist(ctx context.Context, req PersistRequest) {
	if o.persister == nil {
		return
	}
	if err := o.persister.Persist(ctx, req); err != nil {
		o.logger.Warn("persist to cache failed",
			logging.String(logging.FieldMediaID, req.MediaID),
			logging.Error(err),
		)
	}
}

func (o *Orchestrator) cancelLocked() {
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	return Snapshot{
		Phase:            o.phase,
		MediaID:          o.mediaID,
		JobID:            o.jobID,
		Progress:         o.progress,
		Message:          o.message,
		DetectedLanguage: o.detected,
		Err:              o.lastErr,
	}
}

func (o *Orchestrator) notify(snap Snapshot) {
	if o.onUpdate == nil {
		return
	}
	o.onUpdate(snap)
}

// classifySubmitError keeps validation failures as-is and folds transport
// failures into ErrConnectionFailed.
func classifySubmitError(err error) error {
	var statusErr *transcribe.StatusError
	switch {
	case errors.Is(err, ident.ErrInvalidReference),
		errors.Is(err, transcribe.ErrProfileNotSubmittable),
		errors.As(err, &statusErr):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
}
