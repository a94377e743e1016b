// Package playback keeps the displayed subtitle in lockstep with a media
// clock. A Synchronizer consumes clock ticks and seeks, resolves the
// current timestamp against the active segment store, and drives a Display
// sink through show/hide transitions. Redundant renders are suppressed by
// only emitting on state changes; a visibility toggle gates emission
// without disturbing the computed state.
package playback
