package subtitle

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSegmentData reports a malformed segment list: unsorted,
// overlapping, or containing a segment with end <= start. Such lists are
// rejected wholesale and never partially loaded.
var ErrInvalidSegmentData = errors.New("invalid segment data")

// Segment is one time-bounded subtitle unit. Times are seconds from the
// start of the media item.
type Segment struct {
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Text        string  `json:"text"`
	Translation string  `json:"translation,omitempty"`
}

// IsGapMarker reports whether the segment is a deliberate silence marker
// that carries timing but no displayable text.
func (s Segment) IsGapMarker() bool {
	return strings.TrimSpace(s.Text) == ""
}

// Validate checks a segment list against the store invariants: non-negative
// times, end > start, ascending by start, and no overlap between neighbours.
func Validate(segments []Segment) error {
	for i, seg := range segments {
		if seg.Start < 0 {
			return fmt.Errorf("%w: segment %d has negative start %v", ErrInvalidSegmentData, i, seg.Start)
		}
		if seg.End <= seg.Start {
			return fmt.Errorf("%w: segment %d has end %v <= start %v", ErrInvalidSegmentData, i, seg.End, seg.Start)
		}
		if i > 0 && seg.Start < segments[i-1].End {
			return fmt.Errorf("%w: segment %d starts at %v before previous end %v", ErrInvalidSegmentData, i, seg.Start, segments[i-1].End)
		}
	}
	return nil
}
