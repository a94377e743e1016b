package pipeline

import "errors"

// Failure reasons surfaced through the orchestrator's error state. Wrapped
// with %w so callers can classify via errors.Is.
var (
	// ErrAlreadyInProgress rejects a second generation for a media identity
	// that already has one submitting or running.
	ErrAlreadyInProgress = errors.New("generation already in progress for this media")

	// ErrConnectionFailed reports a submission-time network failure. It is
	// surfaced immediately and never retried automatically.
	ErrConnectionFailed = errors.New("could not reach the transcription service")

	// ErrNoContentRecognized reports a completed job that produced zero
	// segments. Treated as a failure, never as a valid ready state.
	ErrNoContentRecognized = errors.New("no speech was recognized in the media")

	// ErrTimedOut reports that tracking hit its attempt ceiling before the
	// job reached a terminal state.
	ErrTimedOut = errors.New("generation timed out")
)
