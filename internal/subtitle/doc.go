// Package subtitle owns the segment data model: validation, the immutable
// store consulted on every playback tick, the binary-search time locator,
// and SRT export.
//
// The Store publishes complete snapshots through an atomic pointer swap so
// the high-frequency read path never takes a lock and never observes a
// partially replaced list. Treat this package as the single source of truth
// for segment ordering invariants.
package subtitle
