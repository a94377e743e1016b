package track

import (
	"context"
	"log/slog"
	"time"

	"subsync/internal/logging"
	"subsync/internal/transcribe"
)

// TaskSource fetches the current status of a job. *transcribe.Client
// satisfies it; tests substitute fakes.
type TaskSource interface {
	Task(ctx context.Context, jobID string) (transcribe.TaskStatus, error)
}

// Options configures a tracker.
type Options struct {
	// Interval between poll attempts. Defaults to 500ms.
	Interval time.Duration
	// MaxAttempts is the attempt ceiling before TimedOut. Defaults to 3600.
	// The ceiling counts attempts rather than comparing wall clocks so it
	// stays robust to system clock changes.
	MaxAttempts int
	Logger      *slog.Logger
}

// Tracker owns a job's lifecycle after submission and exposes it as one
// unified event stream, regardless of transport strategy.
type Tracker struct {
	source   TaskSource
	dialer   StreamDialer
	interval time.Duration
	max      int
	logger   *slog.Logger
}

// New constructs a polling-only tracker.
func New(source TaskSource, opts Options) *Tracker {
	interval := opts.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	max := opts.MaxAttempts
	if max <= 0 {
		max = 3600
	}
	return &Tracker{
		source:   source,
		interval: interval,
		max:      max,
		logger:   logging.NewComponentLogger(opts.Logger, "tracker"),
	}
}

// WithStream enables the push strategy. The tracker tries it first and
// falls back to polling transparently when it is unavailable or drops.
func (t *Tracker) WithStream(dialer StreamDialer) *Tracker {
	t.dialer = dialer
	return t
}

// Track consumes job updates until a terminal state, the attempt ceiling,
// or context cancellation. The returned channel delivers progress events in
// non-decreasing order, ends with exactly one terminal event, and is then
// closed. Cancelling the context closes the channel without a terminal
// event; no event is acted on after cancellation.
func (t *Tracker) Track(ctx context.Context, jobID string) <-chan Event {
	events := make(chan Event, 16)
	go t.run(ctx, jobID, events)
	return events
}

func (t *Tracker) run(ctx context.Context, jobID string, events chan<- Event) {
	defer close(events)

	logger := t.logger.With(logging.String(logging.FieldJobID, jobID))
	em := &emitter{ch: events, maxAttempts: t.max}

	if t.dialer != nil {
		if done := t.runStream(ctx, jobID, em, logger); done {
			return
		}
		if ctx.Err() != nil {
			return
		}
		logger.Debug("push stream unavailable; continuing with polling",
			logging.Int("attempts_used", em.attempts),
		)
	}

	t.runPoll(ctx, jobID, em, logger)
}

// runPoll is the pull strategy: fixed-interval status fetches up to the
// attempt ceiling. Individual failures are transient and absorbed.
func (t *Tracker) runPoll(ctx context.Context, jobID string, em *emitter, logger *slog.Logger) {
	for {
		if em.exhausted() {
			logger.Warn("attempt ceiling reached",
				logging.Int("attempts", em.attempts),
				logging.String(logging.FieldEventType, "track_timeout"),
			)
			em.timeout(ctx, "tracking timed out before the job finished")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(t.interval):
		}

		em.chargeAttempt()
		status, err := t.source.Task(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Debug("poll attempt failed", logging.Error(err), logging.Int("attempt", em.attempts))
			continue
		}

		if done := em.observe(ctx, status); done {
			return
		}
	}
}

// runStream is the push strategy. Returns true when tracking finished
// (terminal event delivered or context cancelled); false means the stream
// was unavailable or dropped and polling should take over.
func (t *Tracker) runStream(ctx context.Context, jobID string, em *emitter, logger *slog.Logger) bool {
	conn, err := t.dialer.Dial(ctx, jobID)
	if err != nil {
		logger.Debug("push stream dial failed", logging.Error(err))
		return false
	}
	defer conn.Close()

	// Unblock reads when the consumer cancels.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		if em.exhausted() {
			em.timeout(ctx, "tracking timed out before the job finished")
			return true
		}
		status, err := conn.ReadStatus()
		if err != nil {
			if ctx.Err() != nil {
				return true
			}
			logger.Debug("push stream dropped", logging.Error(err))
			return false
		}
		em.chargeAttempt()
		if done := em.observe(ctx, status); done {
			return true
		}
	}
}
