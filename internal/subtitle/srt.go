package subtitle

import (
	"fmt"
	"io"
	"math"
	"strings"
)

// FormatTimestamp renders seconds as an SRT timestamp (HH:MM:SS,mmm).
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	millis := int64(math.Round(seconds * 1000))
	h := millis / 3_600_000
	millis -= h * 3_600_000
	m := millis / 60_000
	millis -= m * 60_000
	s := millis / 1000
	millis -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, millis)
}

// WriteSRT renders segments as sequential SRT blocks: ordinal index,
// timestamp line, text line, optional translation line, blank separator.
// Gap markers are skipped; their silence is implicit in the timeline.
func WriteSRT(w io.Writer, segments []Segment) error {
	ordinal := 0
	for _, seg := range segments {
		if seg.IsGapMarker() {
			continue
		}
		ordinal++
		var b strings.Builder
		fmt.Fprintf(&b, "%d\n", ordinal)
		fmt.Fprintf(&b, "%s --> %s\n", FormatTimestamp(seg.Start), FormatTimestamp(seg.End))
		b.WriteString(strings.TrimSpace(seg.Text))
		b.WriteByte('\n')
		if translation := strings.TrimSpace(seg.Translation); translation != "" {
			b.WriteString(translation)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
		if _, err := io.WriteString(w, b.String()); err != nil {
			return fmt.Errorf("write srt block %d: %w", ordinal, err)
		}
	}
	return nil
}

// ToSRT renders segments as a single SRT document string.
func ToSRT(segments []Segment) string {
	var b strings.Builder
	_ = WriteSRT(&b, segments)
	return b.String()
}
