package orcatrace

import (
	"time"

	"github.com/zoobzio/clockz"
)

// Timestamp is a wall-clock time expressed in microseconds since the Unix
// epoch. All span timing in this package is carried as Timestamps.
type Timestamp = uint64

// NowTimestamp is the sentinel passed to StartSpan and Span.Finish to have
// the library read the current time from its clock.
const NowTimestamp Timestamp = 0

// Now returns the current timestamp from the real clock.
func Now() Timestamp {
	return timestampOf(clockz.RealClock.Now())
}

func timestampOf(t time.Time) Timestamp {
	return Timestamp(t.UnixMicro())
}

// microseconds converts a duration to whole microseconds, clamping
// negatives to zero.
func microseconds(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d / time.Microsecond)
}
