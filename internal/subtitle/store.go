package subtitle

import "sync/atomic"

// Store holds the segments for exactly one media identity. Reads are a
// single atomic pointer load; writers validate, copy, then publish, so an
// in-flight locate never observes a half-updated list.
type Store struct {
	snapshot atomic.Pointer[snapshot]
}

type snapshot struct {
	segments []Segment
	version  uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	s := &Store{}
	s.snapshot.Store(&snapshot{})
	return s
}

// Replace validates the segment list and atomically swaps it in. The input
// slice is copied; callers may reuse it afterwards.
func (s *Store) Replace(segments []Segment) error {
	if err := Validate(segments); err != nil {
		return err
	}
	current := s.snapshot.Load()
	next := &snapshot{
		segments: append([]Segment(nil), segments...),
		version:  current.version + 1,
	}
	s.snapshot.Store(next)
	return nil
}

// Snapshot returns the current immutable segment list. Callers must not
// mutate the returned slice.
func (s *Store) Snapshot() []Segment {
	return s.snapshot.Load().segments
}

// Version returns a counter incremented on every Replace or Clear, letting
// observers detect rebinds cheaply.
func (s *Store) Version() uint64 {
	return s.snapshot.Load().version
}

// Len returns the number of segments in the current snapshot.
func (s *Store) Len() int {
	return len(s.snapshot.Load().segments)
}

// Clear empties the store.
func (s *Store) Clear() {
	current := s.snapshot.Load()
	s.snapshot.Store(&snapshot{version: current.version + 1})
}
