package subtitle

import "testing"

func sampleSegments() []Segment {
	return []Segment{
		{Start: 0, End: 2, Text: "A"},
		{Start: 2, End: 5, Text: "B"},
		{Start: 7, End: 9, Text: "C"},
	}
}

func TestLocateResolvesTimestamps(t *testing.T) {
	segments := sampleSegments()

	cases := []struct {
		name string
		t    float64
		want int
	}{
		{"inside first", 1.5, 0},
		{"contiguous boundary belongs to later", 2.0, 1},
		{"inside second", 3.0, 1},
		{"gap", 6.0, NotFound},
		{"start of third", 7.0, 2},
		{"closed end of last", 9.0, 2},
		{"before all", -1.0, NotFound},
		{"after all", 9.5, NotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Locate(segments, tc.t); got != tc.want {
				t.Fatalf("Locate(%v) = %d, want %d", tc.t, got, tc.want)
			}
		})
	}
}

func TestLocateEmptyList(t *testing.T) {
	if got := Locate(nil, 1); got != NotFound {
		t.Fatalf("expected NotFound on empty list, got %d", got)
	}
}

func TestLocateNonContiguousEndBoundaryBelongsToSegment(t *testing.T) {
	segments := []Segment{
		{Start: 0, End: 2, Text: "A"},
		{Start: 5, End: 7, Text: "B"},
	}
	// End of a segment with a gap after it still belongs to the segment
	// (closed interval), not to the gap.
	if got := Locate(segments, 2.0); got != 0 {
		t.Fatalf("Locate(2.0) = %d, want 0", got)
	}
}

func TestLocateIsPureAcrossCallOrder(t *testing.T) {
	segments := sampleSegments()
	// Forward sweep, then arbitrary jumps; each timestamp must resolve
	// identically regardless of history.
	forward := make(map[float64]int)
	for _, ts := range []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9} {
		forward[ts] = Locate(segments, ts)
	}
	for _, ts := range []float64{9, 3, 6, 0, 8, 2, 5, 7, 1, 4} {
		if got := Locate(segments, ts); got != forward[ts] {
			t.Fatalf("Locate(%v) after seek = %d, want %d", ts, got, forward[ts])
		}
	}
}

func TestLocateLargeStore(t *testing.T) {
	segments := make([]Segment, 0, 10_000)
	for i := 0; i < 10_000; i++ {
		start := float64(i) * 2
		segments = append(segments, Segment{Start: start, End: start + 1.5, Text: "x"})
	}
	if got := Locate(segments, 4999*2+0.5); got != 4999 {
		t.Fatalf("unexpected index %d", got)
	}
	if got := Locate(segments, 4999*2+1.75); got != NotFound {
		t.Fatalf("expected gap, got %d", got)
	}
}
