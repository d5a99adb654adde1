package chat

import (
	"math"
	"strconv"
)

// MaxUnread caps every unread counter.
const MaxUnread = 99

// Cap clamps floor(n) into [0, MaxUnread].
func Cap(n float64) int {
	if math.IsNaN(n) || n <= 0 {
		return 0
	}
	f := math.Floor(n)
	if f >= MaxUnread {
		return MaxUnread
	}
	return int(f)
}

// FormatBadge returns nil when there is nothing to show, otherwise the capped
// count as a decimal string.
func FormatBadge(n float64) *string {
	c := Cap(n)
	if c == 0 {
		return nil
	}
	s := strconv.Itoa(c)
	return &s
}
