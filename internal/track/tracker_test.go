package track

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"subsync/internal/subtitle"
	"subsync/internal/transcribe"
)

type scriptedSource struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (transcribe.TaskStatus, error)
}

func (s *scriptedSource) Task(_ context.Context, _ string) (transcribe.TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.fn(s.calls)
}

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func running(progress int, message string) (transcribe.TaskStatus, error) {
	return transcribe.TaskStatus{Status: "transcribing", Progress: progress, Message: message}, nil
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, event)
		case <-deadline:
			t.Fatalf("timed out waiting for events; got %d so far", len(out))
		}
	}
}

func fastOptions(maxAttempts int) Options {
	return Options{Interval: time.Millisecond, MaxAttempts: maxAttempts}
}

func TestPollTracksToCompletion(t *testing.T) {
	segments := []subtitle.Segment{{Start: 0, End: 2, Text: "hi"}}
	source := &scriptedSource{fn: func(call int) (transcribe.TaskStatus, error) {
		switch call {
		case 1:
			return transcribe.TaskStatus{Status: "pending", Progress: 0, Message: "queued"}, nil
		case 2:
			return running(50, "transcribing")
		default:
			return transcribe.TaskStatus{Status: "completed", Progress: 100, Subtitles: segments, DetectedLanguage: "en"}, nil
		}
	}}

	events := collect(t, New(source, fastOptions(100)).Track(context.Background(), "job"))
	if len(events) == 0 {
		t.Fatal("expected events")
	}
	last := events[len(events)-1]
	if last.State != transcribe.StateCompleted {
		t.Fatalf("expected completed terminal, got %+v", last)
	}
	if len(last.Segments) != 1 || last.DetectedLanguage != "en" {
		t.Fatalf("terminal event missing payload: %+v", last)
	}
	terminals := 0
	for _, e := range events {
		if e.Terminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", terminals)
	}
}

func TestProgressIsMonotonicAndClamped(t *testing.T) {
	script := []int{-5, 10, 10, 5, 20, 150}
	source := &scriptedSource{fn: func(call int) (transcribe.TaskStatus, error) {
		if call <= len(script) {
			return running(script[call-1], "working")
		}
		return transcribe.TaskStatus{Status: "completed", Progress: 100}, nil
	}}

	events := collect(t, New(source, fastOptions(100)).Track(context.Background(), "job"))
	prev := -1
	for _, e := range events {
		if e.Progress < prev {
			t.Fatalf("progress regressed: %d after %d", e.Progress, prev)
		}
		if e.Progress < 0 || e.Progress > 100 {
			t.Fatalf("progress out of range: %d", e.Progress)
		}
		prev = e.Progress
	}
}

func TestBackendRegressionIsHeldAtHighWater(t *testing.T) {
	// 40 polls reporting 10, then one reporting 5: the observed stream must
	// hold 10 and never drop.
	source := &scriptedSource{fn: func(call int) (transcribe.TaskStatus, error) {
		switch {
		case call <= 40:
			return running(10, "working")
		case call == 41:
			return running(5, "working")
		default:
			return transcribe.TaskStatus{Status: "completed", Progress: 100}, nil
		}
	}}

	events := collect(t, New(source, fastOptions(100)).Track(context.Background(), "job"))
	for _, e := range events {
		if !e.Terminal() && e.Progress != 10 && e.Progress != 0 {
			t.Fatalf("unexpected progress %d", e.Progress)
		}
		if e.Progress == 5 {
			t.Fatal("regressed progress leaked into the stream")
		}
	}
}

func TestTransientPollFailuresAreAbsorbed(t *testing.T) {
	source := &scriptedSource{fn: func(call int) (transcribe.TaskStatus, error) {
		if call%2 == 1 {
			return transcribe.TaskStatus{}, errors.New("connection reset")
		}
		if call < 6 {
			return running(call*10, "working")
		}
		return transcribe.TaskStatus{Status: "completed", Progress: 100}, nil
	}}

	events := collect(t, New(source, fastOptions(100)).Track(context.Background(), "job"))
	last := events[len(events)-1]
	if last.State != transcribe.StateCompleted {
		t.Fatalf("expected completion despite transient failures, got %+v", last)
	}
}

func TestAttemptCeilingRaisesTimedOutWithoutExtraAttempt(t *testing.T) {
	source := &scriptedSource{fn: func(int) (transcribe.TaskStatus, error) {
		return running(10, "working")
	}}

	events := collect(t, New(source, fastOptions(5)).Track(context.Background(), "job"))
	last := events[len(events)-1]
	if last.State != transcribe.StateTimedOut {
		t.Fatalf("expected timed_out terminal, got %+v", last)
	}
	if got := source.callCount(); got != 5 {
		t.Fatalf("expected exactly 5 attempts, got %d", got)
	}
	if last.Progress != 10 {
		t.Fatalf("timeout should carry the high-water progress, got %d", last.Progress)
	}
}

func TestFailureEmitsFailedTerminal(t *testing.T) {
	source := &scriptedSource{fn: func(int) (transcribe.TaskStatus, error) {
		return transcribe.TaskStatus{Status: "error", Message: "yt-dlp exited 1"}, nil
	}}

	events := collect(t, New(source, fastOptions(10)).Track(context.Background(), "job"))
	last := events[len(events)-1]
	if last.State != transcribe.StateFailed || last.Message != "yt-dlp exited 1" {
		t.Fatalf("unexpected terminal %+v", last)
	}
}

func TestCancellationClosesStreamWithoutTerminal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source := &scriptedSource{fn: func(call int) (transcribe.TaskStatus, error) {
		if call == 3 {
			cancel()
		}
		return running(call, "working")
	}}

	events := collect(t, New(source, fastOptions(1000)).Track(ctx, "job"))
	for _, e := range events {
		if e.Terminal() {
			t.Fatalf("cancelled tracking must not emit a terminal event, got %+v", e)
		}
	}
}

type fakeConn struct {
	statuses []transcribe.TaskStatus
	err      error
	idx      int
}

func (c *fakeConn) ReadStatus() (transcribe.TaskStatus, error) {
	if c.idx >= len(c.statuses) {
		if c.err != nil {
			return transcribe.TaskStatus{}, c.err
		}
		return transcribe.TaskStatus{}, io.EOF
	}
	status := c.statuses[c.idx]
	c.idx++
	return status, nil
}

func (c *fakeConn) Close() error { return nil }

type fakeDialer struct {
	conn    StreamConn
	dialErr error
}

func (d *fakeDialer) Dial(context.Context, string) (StreamConn, error) {
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.conn, nil
}

func TestStreamCompletesWithoutPolling(t *testing.T) {
	source := &scriptedSource{fn: func(int) (transcribe.TaskStatus, error) {
		t.Error("poll source should not be consulted when the stream completes")
		return transcribe.TaskStatus{}, errors.New("unexpected")
	}}
	dialer := &fakeDialer{conn: &fakeConn{statuses: []transcribe.TaskStatus{
		{Status: "transcribing", Progress: 40},
		{Status: "completed", Progress: 100},
	}}}

	events := collect(t, New(source, fastOptions(100)).WithStream(dialer).Track(context.Background(), "job"))
	last := events[len(events)-1]
	if last.State != transcribe.StateCompleted {
		t.Fatalf("expected completion via stream, got %+v", last)
	}
}

func TestStreamDialFailureFallsBackToPolling(t *testing.T) {
	source := &scriptedSource{fn: func(call int) (transcribe.TaskStatus, error) {
		if call == 1 {
			return running(30, "working")
		}
		return transcribe.TaskStatus{Status: "completed", Progress: 100}, nil
	}}
	dialer := &fakeDialer{dialErr: errors.New("connection refused")}

	events := collect(t, New(source, fastOptions(100)).WithStream(dialer).Track(context.Background(), "job"))
	last := events[len(events)-1]
	if last.State != transcribe.StateCompleted {
		t.Fatalf("expected completion via fallback polling, got %+v", last)
	}
}

func TestStreamDropMidFlightContinuesSeamlessly(t *testing.T) {
	source := &scriptedSource{fn: func(call int) (transcribe.TaskStatus, error) {
		if call == 1 {
			// Regression after the stream already reported 60.
			return running(20, "working")
		}
		return transcribe.TaskStatus{Status: "completed", Progress: 100}, nil
	}}
	dialer := &fakeDialer{conn: &fakeConn{
		statuses: []transcribe.TaskStatus{
			{Status: "downloading", Progress: 30},
			{Status: "transcribing", Progress: 60},
		},
		err: errors.New("unexpected close"),
	}}

	events := collect(t, New(source, fastOptions(100)).WithStream(dialer).Track(context.Background(), "job"))
	prev := -1
	terminals := 0
	for _, e := range events {
		if e.Progress < prev {
			t.Fatalf("fallback broke monotonic progress: %d after %d", e.Progress, prev)
		}
		prev = e.Progress
		if e.Terminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Fatalf("expected one terminal across strategies, got %d", terminals)
	}
	if events[len(events)-1].State != transcribe.StateCompleted {
		t.Fatalf("expected completed terminal, got %+v", events[len(events)-1])
	}
}

func TestStreamAttemptsCountTowardCeiling(t *testing.T) {
	dialer := &fakeDialer{conn: &fakeConn{statuses: []transcribe.TaskStatus{
		{Status: "downloading", Progress: 10},
		{Status: "downloading", Progress: 20},
		{Status: "downloading", Progress: 30},
	}}}
	// Ceiling of 3: consumed entirely by stream messages, so the tracker
	// times out instead of starting to poll.
	source := &scriptedSource{fn: func(int) (transcribe.TaskStatus, error) {
		t.Error("budget was exhausted by the stream; polling must not run")
		return transcribe.TaskStatus{}, errors.New("unexpected")
	}}

	events := collect(t, New(source, fastOptions(3)).WithStream(dialer).Track(context.Background(), "job"))
	last := events[len(events)-1]
	if last.State != transcribe.StateTimedOut {
		t.Fatalf("expected timed_out, got %+v", last)
	}
}
