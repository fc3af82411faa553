package mqtmodels

import (
	"errors"
	"math"
	"time"
)

// MaxEpochSeconds bounds accepted epoch timestamps (year ~5138)
const MaxEpochSeconds = 1e11

// ErrInstantOutOfRange marks a time the stores cannot order correctly
var ErrInstantOutOfRange = errors.New("time out of range")

// FromEpochSeconds converts epoch seconds, fractions kept, rejecting values
// outside [0, MaxEpochSeconds]
func FromEpochSeconds(f float64) (time.Time, error) {
	if math.IsNaN(f) || f < 0 || f > MaxEpochSeconds {
		return time.Time{}, ErrInstantOutOfRange
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC(), nil
}

// CheckInstant rejects times whose year needs more than four digits. SQLite
// compares times as fixed-layout strings, so those would sort out of order.
func CheckInstant(t time.Time) error {
	if y := t.UTC().Year(); y < 0 || y > 9999 {
		return ErrInstantOutOfRange
	}
	return nil
}
