package subtitle

// NotFound is returned by Locate when the timestamp falls in a gap or
// outside all segments.
const NotFound = -1

// Locate resolves a timestamp to the index of the segment whose closed
// interval [start, end] contains it, or NotFound. The segments must satisfy
// the store invariants (sorted by start, non-overlapping).
//
// The t < start branch is tested before t > end, so a timestamp sitting on
// a shared boundary of two contiguous segments resolves to the later one.
// The function is pure: identical results during forward playback, after a
// backward seek, or after an arbitrary jump.
func Locate(segments []Segment, t float64) int {
	lo, hi := 0, len(segments)-1
	for lo <= hi {
		mid := int(uint(lo+hi) >> 1)
		seg := segments[mid]
		switch {
		case t < seg.Start:
			hi = mid - 1
		case t > seg.End:
			lo = mid + 1
		default:
			// Contiguous boundary: end[mid] == start[mid+1] belongs to mid+1.
			if t == seg.End && mid+1 < len(segments) && segments[mid+1].Start == t {
				return mid + 1
			}
			return mid
		}
	}
	return NotFound
}
