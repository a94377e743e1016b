package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"subsync/internal/logging"
	"subsync/internal/subtitle"
)

// State is the synchronizer's position relative to the segment timeline.
type State int

const (
	// StateIdle means no evaluation has happened yet or the store is empty.
	StateIdle State = iota
	// StateGap means the clock sits between segments.
	StateGap
	// StateActive means one segment covers the current timestamp.
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGap:
		return "gap"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Display receives show/hide side effects. Implementations must be cheap;
// they run on the clock-tick path.
type Display interface {
	Show(index int, segment subtitle.Segment)
	Hide()
}

// Clock is a readable playback position, owned by the host player.
type Clock interface {
	Now() float64
}

// Synchronizer drives a Display from clock ticks against a segment store.
// Computed state and visibility are independent: toggling visibility never
// changes what the state machine believes is on screen.
type Synchronizer struct {
	mu      sync.Mutex
	store   *subtitle.Store
	display Display
	logger  *slog.Logger

	state    State
	index    int
	visible  bool
	lastTime float64

	// version mirrors the bound store's Version; rebound marks a swap to a
	// different store, whose version counter is unrelated.
	version uint64
	rebound bool
	current subtitle.Segment
}

// NewSynchronizer binds a store and a display sink. The synchronizer
// starts visible and idle.
func NewSynchronizer(store *subtitle.Store, display Display, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		store:   store,
		display: display,
		logger:  logging.NewComponentLogger(logger, "playback"),
		state:   StateIdle,
		index:   subtitle.NotFound,
		visible: true,
		version: store.Version(),
	}
}

// Tick evaluates the timeline at t. Safe to call at high frequency; a tick
// that does not change state emits nothing.
func (s *Synchronizer) Tick(t float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTime = t
	s.evaluate(t)
}

// Seek is an explicit jump to t. The locator is direction-agnostic, so a
// seek evaluates exactly like a tick.
func (s *Synchronizer) Seek(t float64) {
	s.Tick(t)
}

// SetVisible gates show side effects. Re-enabling while a segment is
// active re-emits it immediately rather than waiting for the next tick.
func (s *Synchronizer) SetVisible(visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visible == visible {
		return
	}
	s.visible = visible
	if visible {
		if s.state == StateActive {
			s.show(s.index)
		}
		return
	}
	if s.state == StateActive {
		s.display.Hide()
	}
}

// Visible reports whether show side effects are being materialized.
func (s *Synchronizer) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

// Rebind swaps the segment store and re-evaluates at the current clock
// time immediately. Passing nil keeps the existing store; either way the
// re-evaluation happens now rather than on the next tick.
func (s *Synchronizer) Rebind(store *subtitle.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if store != nil && store != s.store {
		s.store = store
		s.rebound = true
	}
	s.logger.Debug("store rebound; re-evaluating",
		logging.Float64("position", s.lastTime),
		logging.Int("segments", s.store.Len()),
	)
	s.evaluate(s.lastTime)
}

// State returns the computed state and active index (NotFound unless
// active).
func (s *Synchronizer) State() (State, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.index
}

// Follow runs a tick loop against a clock until the context ends. It is a
// convenience for hosts without their own tick source.
func (s *Synchronizer) Follow(ctx context.Context, clock Clock, interval time.Duration) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(clock.Now())
		}
	}
}

// evaluate recomputes state at t and emits the transition side effect.
// Caller holds the lock.
func (s *Synchronizer) evaluate(t float64) {
	segments := s.store.Snapshot()
	version := s.store.Version()
	refreshed := s.rebound || version != s.version
	s.rebound = false
	s.version = version

	next := StateGap
	index := subtitle.NotFound
	if len(segments) == 0 {
		next = StateIdle
	} else if i := subtitle.Locate(segments, t); i != subtitle.NotFound {
		next = StateActive
		index = i
	}

	if next == s.state && index == s.index {
		// Position unchanged, but a rebind or replace can still change the
		// text under the active index. Re-show only when it did.
		if refreshed && next == StateActive && segments[index] != s.current {
			s.current = segments[index]
			if s.visible {
				s.display.Show(index, segments[index])
			}
		}
		return
	}

	prev := s.state
	s.state = next
	s.index = index

	switch {
	case next == StateActive:
		// Covers idle/gap -> active and active(i) -> active(j): a direct
		// show, never an intermediate hide.
		s.current = segments[index]
		if s.visible {
			s.display.Show(index, segments[index])
		}
	case prev == StateActive:
		if s.visible {
			s.display.Hide()
		}
	}
}

// show re-emits the active segment against a fresh snapshot. Caller holds
// the lock.
func (s *Synchronizer) show(index int) {
	segments := s.store.Snapshot()
	if index < 0 || index >= len(segments) {
		return
	}
	s.display.Show(index, segments[index])
}
