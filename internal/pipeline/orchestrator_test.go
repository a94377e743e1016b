package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"subsync/internal/ident"
	"subsync/internal/subtitle"
	"subsync/internal/track"
	"subsync/internal/transcribe"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	submits int
	uploads int
	err     error
}

func (f *fakeSubmitter) Submit(_ context.Context, ref ident.MediaRef, _ transcribe.Settings) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.err != nil {
		return "", f.err
	}
	return "job-" + ref.ID, nil
}

func (f *fakeSubmitter) Upload(_ context.Context, ref ident.MediaRef, _ transcribe.Settings) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if f.err != nil {
		return "", f.err
	}
	return "upload-" + ref.ID, nil
}

func (f *fakeSubmitter) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

type trackSession struct {
	jobID  string
	ctx    context.Context
	events chan track.Event
}

type fakeTracker struct {
	mu       sync.Mutex
	sessions []*trackSession
}

func (f *fakeTracker) Track(ctx context.Context, jobID string) <-chan track.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	session := &trackSession{jobID: jobID, ctx: ctx, events: make(chan track.Event, 16)}
	f.sessions = append(f.sessions, session)
	return session.events
}

func (f *fakeTracker) session(t *testing.T, index int) *trackSession {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.sessions) > index {
			session := f.sessions[index]
			f.mu.Unlock()
			return session
		}
		f.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("tracker session %d never started", index)
	return nil
}

func (s *trackSession) finish(event track.Event) {
	s.events <- event
	close(s.events)
}

type fakePersister struct {
	mu       sync.Mutex
	requests []PersistRequest
}

func (f *fakePersister) Persist(_ context.Context, req PersistRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakePersister) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func waitPhase(t *testing.T, o *Orchestrator, want Phase) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var snap Snapshot
	for time.Now().Before(deadline) {
		snap = o.Status()
		if snap.Phase == want {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("phase never reached %s; last snapshot %+v", want, snap)
	return snap
}

func remoteRef(id string) ident.MediaRef {
	return ident.MediaRef{Kind: ident.KindRemote, ID: id, Source: "https://example.com/watch?v=" + id}
}

func localSettings() transcribe.Settings {
	return transcribe.Settings{Language: "auto", Profile: transcribe.LocalProfile{}}
}

func segmentsABC() []subtitle.Segment {
	return []subtitle.Segment{
		{Start: 0, End: 2, Text: "A"},
		{Start: 2, End: 5, Text: "B"},
		{Start: 7, End: 9, Text: "C"},
	}
}

func TestGenerateCompletesAndPersists(t *testing.T) {
	submitter := &fakeSubmitter{}
	tracker := &fakeTracker{}
	store := subtitle.NewStore()
	persister := &fakePersister{}
	o := New(submitter, tracker, store, Options{Persister: persister})

	if err := o.Generate(context.Background(), remoteRef("abc123xyz00"), localSettings()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if snap := o.Status(); snap.Phase != PhaseRunning {
		t.Fatalf("phase = %s, want running", snap.Phase)
	}

	session := tracker.session(t, 0)
	session.events <- track.Event{State: transcribe.StateRunning, Progress: 40, Message: "transcribing"}
	session.finish(track.Event{
		State:            transcribe.StateCompleted,
		Progress:         100,
		Segments:         segmentsABC(),
		DetectedLanguage: "en",
	})

	snap := waitPhase(t, o, PhaseReady)
	if snap.Progress != 100 || snap.DetectedLanguage != "en" {
		t.Fatalf("unexpected ready snapshot %+v", snap)
	}
	if store.Len() != 3 {
		t.Fatalf("store holds %d segments, want 3", store.Len())
	}
	deadline := time.Now().Add(time.Second)
	for persister.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if persister.count() != 1 {
		t.Fatal("completed result was not persisted")
	}
	persister.mu.Lock()
	req := persister.requests[0]
	persister.mu.Unlock()
	if req.MediaID != "abc123xyz00" || len(req.Segments) != 3 || req.DetectedLanguage != "en" {
		t.Fatalf("unexpected persist request %+v", req)
	}
}

func TestSingleFlightPerMediaIdentity(t *testing.T) {
	submitter := &fakeSubmitter{}
	tracker := &fakeTracker{}
	o := New(submitter, tracker, subtitle.NewStore(), Options{})

	if err := o.Generate(context.Background(), remoteRef("abc123xyz00"), localSettings()); err != nil {
		t.Fatalf("first generate: %v", err)
	}
	err := o.Generate(context.Background(), remoteRef("abc123xyz00"), localSettings())
	if !errors.Is(err, ErrAlreadyInProgress) {
		t.Fatalf("second generate = %v, want ErrAlreadyInProgress", err)
	}
	if submitter.submitCount() != 1 {
		t.Fatalf("submitter called %d times, want 1", submitter.submitCount())
	}
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	if len(tracker.sessions) != 1 {
		t.Fatalf("a second tracker was spawned")
	}
}

func TestNewMediaSupersedesActiveJob(t *testing.T) {
	submitter := &fakeSubmitter{}
	tracker := &fakeTracker{}
	o := New(submitter, tracker, subtitle.NewStore(), Options{})

	if err := o.Generate(context.Background(), remoteRef("firstvideo0"), localSettings()); err != nil {
		t.Fatalf("first generate: %v", err)
	}
	first := tracker.session(t, 0)

	if err := o.Generate(context.Background(), remoteRef("secondvideo"), localSettings()); err != nil {
		t.Fatalf("second generate: %v", err)
	}

	select {
	case <-first.ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("superseded tracking was not cancelled")
	}
	if snap := o.Status(); snap.MediaID != "secondvideo" || snap.Phase != PhaseRunning {
		t.Fatalf("unexpected snapshot after supersede: %+v", snap)
	}
}

func TestSubmitNetworkFailure(t *testing.T) {
	submitter := &fakeSubmitter{err: errors.New("dial tcp: connection refused")}
	tracker := &fakeTracker{}
	o := New(submitter, tracker, subtitle.NewStore(), Options{})

	err := o.Generate(context.Background(), remoteRef("abc123xyz00"), localSettings())
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("generate = %v, want ErrConnectionFailed", err)
	}
	snap := o.Status()
	if snap.Phase != PhaseError || !errors.Is(snap.Err, ErrConnectionFailed) {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	if len(tracker.sessions) != 0 {
		t.Fatal("tracker must not start after a failed submission")
	}
}

func TestFailurePreservesPriorStore(t *testing.T) {
	submitter := &fakeSubmitter{}
	tracker := &fakeTracker{}
	store := subtitle.NewStore()
	if err := store.Replace(segmentsABC()); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	o := New(submitter, tracker, store, Options{})

	if err := o.Generate(context.Background(), remoteRef("abc123xyz00"), localSettings()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	tracker.session(t, 0).finish(track.Event{State: transcribe.StateFailed, Message: "yt-dlp exited 1"})

	snap := waitPhase(t, o, PhaseError)
	if snap.Message != "yt-dlp exited 1" {
		t.Fatalf("error message = %q", snap.Message)
	}
	if store.Len() != 3 {
		t.Fatalf("failed generation clobbered the store: %d segments", store.Len())
	}
}

func TestTimedOutSetsReason(t *testing.T) {
	submitter := &fakeSubmitter{}
	tracker := &fakeTracker{}
	o := New(submitter, tracker, subtitle.NewStore(), Options{})

	if err := o.Generate(context.Background(), remoteRef("abc123xyz00"), localSettings()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	tracker.session(t, 0).finish(track.Event{State: transcribe.StateTimedOut, Progress: 10})

	snap := waitPhase(t, o, PhaseError)
	if !errors.Is(snap.Err, ErrTimedOut) {
		t.Fatalf("err = %v, want ErrTimedOut", snap.Err)
	}
}

func TestEmptyCompletionIsNoContentRecognized(t *testing.T) {
	submitter := &fakeSubmitter{}
	tracker := &fakeTracker{}
	store := subtitle.NewStore()
	if err := store.Replace(segmentsABC()); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	o := New(submitter, tracker, store, Options{})

	if err := o.Generate(context.Background(), remoteRef("abc123xyz00"), localSettings()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	tracker.session(t, 0).finish(track.Event{State: transcribe.StateCompleted, Progress: 100})

	snap := waitPhase(t, o, PhaseError)
	if !errors.Is(snap.Err, ErrNoContentRecognized) {
		t.Fatalf("err = %v, want ErrNoContentRecognized", snap.Err)
	}
	if store.Len() != 3 {
		t.Fatal("empty completion must leave the store untouched")
	}
}

func TestMalformedSegmentsAreRejected(t *testing.T) {
	submitter := &fakeSubmitter{}
	tracker := &fakeTracker{}
	store := subtitle.NewStore()
	if err := store.Replace(segmentsABC()); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	o := New(submitter, tracker, store, Options{})

	if err := o.Generate(context.Background(), remoteRef("abc123xyz00"), localSettings()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	tracker.session(t, 0).finish(track.Event{
		State:    transcribe.StateCompleted,
		Progress: 100,
		Segments: []subtitle.Segment{{Start: 5, End: 2, Text: "backwards"}},
	})

	snap := waitPhase(t, o, PhaseError)
	if !errors.Is(snap.Err, subtitle.ErrInvalidSegmentData) {
		t.Fatalf("err = %v, want ErrInvalidSegmentData", snap.Err)
	}
	if store.Len() != 3 {
		t.Fatal("malformed result must never partially load")
	}
}

func TestCancelReturnsToIdleWithoutTerminal(t *testing.T) {
	submitter := &fakeSubmitter{}
	tracker := &fakeTracker{}
	o := New(submitter, tracker, subtitle.NewStore(), Options{})

	if err := o.Generate(context.Background(), remoteRef("abc123xyz00"), localSettings()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	session := tracker.session(t, 0)
	o.Cancel()

	select {
	case <-session.ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not stop the tracker")
	}
	close(session.events)

	snap := waitPhase(t, o, PhaseIdle)
	if snap.Err != nil {
		t.Fatalf("cancelled job must not record an error, got %v", snap.Err)
	}
}

func TestNoProgressUpdateObservedAfterTerminal(t *testing.T) {
	submitter := &fakeSubmitter{}
	tracker := &fakeTracker{}

	var mu sync.Mutex
	var phases []Phase
	o := New(submitter, tracker, subtitle.NewStore(), Options{
		NotifyInterval: 20 * time.Millisecond,
		OnUpdate: func(snap Snapshot) {
			mu.Lock()
			phases = append(phases, snap.Phase)
			mu.Unlock()
		},
	})

	if err := o.Generate(context.Background(), remoteRef("abc123xyz00"), localSettings()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	session := tracker.session(t, 0)
	session.events <- track.Event{State: transcribe.StateRunning, Progress: 40, Message: "transcribing"}
	session.finish(track.Event{State: transcribe.StateCompleted, Progress: 100, Segments: segmentsABC()})
	waitPhase(t, o, PhaseReady)

	// Let any pending coalesced progress callback fire.
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	terminal := false
	for _, phase := range phases {
		if terminal && (phase == PhaseRunning || phase == PhaseSubmitting) {
			t.Fatalf("progress update observed after terminal: %v", phases)
		}
		if phase == PhaseReady || phase == PhaseError {
			terminal = true
		}
	}
	if !terminal {
		t.Fatalf("terminal phase never observed: %v", phases)
	}
}

func TestGenerateOrCachedSkipsSubmission(t *testing.T) {
	submitter := &fakeSubmitter{}
	tracker := &fakeTracker{}
	store := subtitle.NewStore()
	persister := &fakePersister{}
	prober := proberFunc(func(_ context.Context, mediaID string) (*transcribe.CacheRecord, error) {
		return &transcribe.CacheRecord{VideoID: mediaID, Language: "en", Subtitles: segmentsABC()}, nil
	})
	o := New(submitter, tracker, store, Options{Prober: prober, Persister: persister})

	hit, err := o.GenerateOrCached(context.Background(), remoteRef("abc123xyz00"), localSettings())
	if err != nil {
		t.Fatalf("generateOrCached: %v", err)
	}
	if !hit {
		t.Fatal("expected a cache hit")
	}
	if submitter.submitCount() != 0 {
		t.Fatal("cache hit must not submit")
	}
	if snap := o.Status(); snap.Phase != PhaseReady || store.Len() != 3 {
		t.Fatalf("cache hit did not publish: %+v, store=%d", snap, store.Len())
	}
}

func TestGenerateOrCachedFallsThroughOnMiss(t *testing.T) {
	submitter := &fakeSubmitter{}
	tracker := &fakeTracker{}
	prober := proberFunc(func(context.Context, string) (*transcribe.CacheRecord, error) {
		return nil, transcribe.ErrCacheMiss
	})
	o := New(submitter, tracker, subtitle.NewStore(), Options{Prober: prober})

	hit, err := o.GenerateOrCached(context.Background(), remoteRef("abc123xyz00"), localSettings())
	if err != nil {
		t.Fatalf("generateOrCached: %v", err)
	}
	if hit {
		t.Fatal("miss must not report a hit")
	}
	if submitter.submitCount() != 1 {
		t.Fatalf("miss must submit, got %d submissions", submitter.submitCount())
	}
}

func TestPlaylistReferenceIsRejected(t *testing.T) {
	submitter := &fakeSubmitter{}
	tracker := &fakeTracker{}
	o := New(submitter, tracker, subtitle.NewStore(), Options{})

	ref := ident.MediaRef{Kind: ident.KindPlaylist, ID: "PL123456789", Source: "https://example.com/playlist?list=PL123456789"}
	err := o.Generate(context.Background(), ref, localSettings())
	if !errors.Is(err, ident.ErrInvalidReference) {
		t.Fatalf("generate = %v, want ErrInvalidReference", err)
	}
}

type proberFunc func(ctx context.Context, mediaID string) (*transcribe.CacheRecord, error)

func (f proberFunc) CachedSubtitles(ctx context.Context, mediaID string) (*transcribe.CacheRecord, error) {
	return f(ctx, mediaID)
}
