package timeframe

import "time"

const (
	MinuteMs int64 = 60 * 1000
	HourMs         = 60 * MinuteMs
	DayMs          = 24 * HourMs

	// DefaultDurationMs is returned by DurationMs for labels it does not know.
	DefaultDurationMs = 4 * HourMs

	// EightHourMs is the 00:00/08:00/16:00 UTC grid used for synthesized 8h buckets.
	EightHourMs = 8 * HourMs
)

var durations = map[string]int64{
	"1m":  MinuteMs,
	"5m":  5 * MinuteMs,
	"15m": 15 * MinuteMs,
	"30m": 30 * MinuteMs,
	"1h":  HourMs,
	"4h":  4 * HourMs,
	"8h":  8 * HourMs,
	"12h": 12 * HourMs,
	"1d":  DayMs,
}

// Supported returns the recognized timeframe labels from finest to coarsest.
func Supported() []string {
	return []string{"1m", "5m", "15m", "30m", "1h", "4h", "8h", "12h", "1d"}
}

// Lookup returns the bucket size in milliseconds and whether the label is recognized.
func Lookup(label string) (int64, bool) {
	ms, ok := durations[label]
	return ms, ok
}

// DurationMs converts a timeframe label to milliseconds.
// Unrecognized labels return DefaultDurationMs; use Lookup when the
// caller has to reject unsupported labels.
func DurationMs(label string) int64 {
	if ms, ok := durations[label]; ok {
		return ms
	}
	return DefaultDurationMs
}

// Duration is DurationMs as a time.Duration.
func Duration(label string) time.Duration {
	return time.Duration(DurationMs(label)) * time.Millisecond
}

// IsOnGrid reports whether openTimeMs starts a bucket of coarseMs on the UTC grid.
func IsOnGrid(openTimeMs, coarseMs int64) bool {
	if coarseMs <= 0 {
		return false
	}
	return openTimeMs%coarseMs == 0
}

// IsCloseOnGrid reports whether a record closing at closeTimeMs (inclusive,
// exchange style: open + duration - 1) ends exactly on a coarseMs boundary.
func IsCloseOnGrid(closeTimeMs, coarseMs int64) bool {
	return IsOnGrid(closeTimeMs+1, coarseMs)
}

// IsOn8hGrid is IsCloseOnGrid for the 8h grid.
func IsOn8hGrid(closeTimeMs int64) bool {
	return IsCloseOnGrid(closeTimeMs, EightHourMs)
}

// Floor returns the start of the bucket of size durMs containing tsMs.
func Floor(tsMs, durMs int64) int64 {
	if durMs <= 0 {
		return tsMs
	}
	r := tsMs % durMs
	if r < 0 {
		r += durMs
	}
	return tsMs - r
}

// CloseTime returns the inclusive close time for a bucket opening at openTimeMs.
func CloseTime(openTimeMs int64, label string) int64 {
	return openTimeMs + DurationMs(label) - 1
}
