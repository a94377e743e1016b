// Package pipeline orchestrates subtitle generation end to end: submit a
// job, track it to a terminal state, and publish the resulting segments.
//
// The orchestrator is a state machine over idle, submitting, running,
// ready, and error. It enforces single-flight per media identity, never
// retries a failed submission on its own, and guarantees that a failed or
// timed-out generation leaves a previously loaded segment store untouched.
// Successful results are pushed into the store and handed to a persister
// for caching.
package pipeline
