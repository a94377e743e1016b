package track

import (
	"context"

	"subsync/internal/subtitle"
	"subsync/internal/transcribe"
)

// Event is one observation of a job's lifecycle. Progress is clamped and
// non-decreasing across the events of one tracking session.
type Event struct {
	State            transcribe.State
	Progress         int
	Message          string
	Segments         []subtitle.Segment
	DetectedLanguage string
}

// Terminal reports whether this event ends the stream.
func (e Event) Terminal() bool {
	return e.State.Terminal()
}

// emitter serializes events onto the channel and enforces the stream
// contract shared by both strategies: monotonic progress, consecutive
// duplicate suppression, one terminal event, attempt accounting.
type emitter struct {
	ch          chan<- Event
	maxAttempts int

	attempts  int
	highWater int
	last      *Event
	terminal  bool
}

func (e *emitter) chargeAttempt() {
	e.attempts++
}

func (e *emitter) exhausted() bool {
	return e.attempts >= e.maxAttempts
}

// observe normalizes a raw task status and emits it. Returns true once a
// terminal event has been delivered.
func (e *emitter) observe(ctx context.Context, status transcribe.TaskStatus) bool {
	if e.terminal {
		return true
	}

	progress := status.Progress
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	// Hold the last-seen maximum; flaky backends occasionally regress.
	if progress < e.highWater {
		progress = e.highWater
	}
	e.highWater = progress

	state := status.State()
	if state == transcribe.StateCompleted {
		progress = 100
		e.highWater = 100
	}

	event := Event{
		State:            state,
		Progress:         progress,
		Message:          status.Message,
		DetectedLanguage: status.DetectedLanguage,
	}
	if state == transcribe.StateCompleted {
		event.Segments = status.Subtitles
	}

	if !event.Terminal() && e.last != nil &&
		e.last.State == event.State && e.last.Progress == event.Progress && e.last.Message == event.Message {
		return false
	}

	return e.send(ctx, event)
}

// timeout emits the TimedOut terminal event.
func (e *emitter) timeout(ctx context.Context, message string) {
	if e.terminal {
		return
	}
	e.send(ctx, Event{
		State:    transcribe.StateTimedOut,
		Progress: e.highWater,
		Message:  message,
	})
}

func (e *emitter) send(ctx context.Context, event Event) bool {
	select {
	case e.ch <- event:
		e.last = &event
		if event.Terminal() {
			e.terminal = true
		}
		return e.terminal
	case <-ctx.Done():
		// Consumer cancelled; drop the event and stop delivering.
		e.terminal = true
		return true
	}
}
