package token

import (
	"strconv"
	"time"
)

// DefaultWindow is the width of a coarse epoch bucket.
const DefaultWindow = time.Hour

// MinWindow is the lower bound for coarse windows; a window must be wider.
// Narrower windows put coarse buckets in the same range as pinned ones, and
// a token minted in the second a game starts would outlive the start.
const MinWindow = time.Minute

// pinnedResolution is the bucket width used once a game has started.  A
// bucket computed at this resolution is more than sixty times larger than
// any coarse bucket, so a token minted before start can never match a
// token derived from the start timestamp.
const pinnedResolution = time.Second

// Epoch identifies the validity bucket a token is bound to.  The zero value
// is not a valid epoch; obtain one from a ClockWindow.
type Epoch struct {
	Bucket int64
	Pinned bool
}

// String renders the bucket the way it appears inside the signing input.
func (e Epoch) String() string {
	return strconv.FormatInt(e.Bucket, 10)
}

// ClockWindow converts wall clock instants into epoch buckets.
type ClockWindow struct {
	Window time.Duration
}

// NewClockWindow returns a window of the given width, falling back to
// DefaultWindow for non-positive values.
func NewClockWindow(window time.Duration) ClockWindow {
	if window <= 0 {
		window = DefaultWindow
	}
	return ClockWindow{Window: window}
}

// Coarse returns floor(t / window) measured in Unix milliseconds.
func (w ClockWindow) Coarse(t time.Time) Epoch {
	width := w.Window
	if width.Milliseconds() <= 0 {
		width = DefaultWindow
	}
	return Epoch{Bucket: floorDiv(t.UnixMilli(), width.Milliseconds())}
}

// Pinned returns the epoch fixed to a game's start instant.
func (w ClockWindow) Pinned(startedAt time.Time) Epoch {
	return Epoch{Bucket: floorDiv(startedAt.UnixMilli(), pinnedResolution.Milliseconds()), Pinned: true}
}

// floorDiv divides rounding toward negative infinity so instants before 1970
// still land in a well defined bucket.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
