// Package clock defines the UTC millisecond timestamp, duration, and bar
// interval types shared by every other component. All wall-clock handling
// in this system funnels through Timestamp so that bar alignment and
// ordering are never ambiguous about timezone.
package clock

import (
	"fmt"
	"time"
)

// Duration is a signed span of milliseconds.
type Duration int64

// Common durations, matching spec.md's required constant set.
const (
	Millisecond Duration = 1
	Second               = 1000 * Millisecond
	Minute               = 60 * Second
	Hour                 = 60 * Minute
	Day                  = 24 * Hour
	Week                 = 7 * Day
)

// AsTimeDuration converts to a standard library time.Duration.
func (d Duration) AsTimeDuration() time.Duration {
	return time.Duration(d) * time.Millisecond
}

// Timestamp is a UTC instant stored as milliseconds since the Unix epoch.
type Timestamp int64

// Now returns the current instant.
func Now() Timestamp {
	return FromTime(time.Now())
}

// FromSeconds constructs a Timestamp from Unix seconds.
func FromSeconds(sec int64) Timestamp {
	return Timestamp(sec * 1000)
}

// FromMillis constructs a Timestamp from Unix milliseconds.
func FromMillis(ms int64) Timestamp {
	return Timestamp(ms)
}

// FromTime constructs a Timestamp from a time.Time, converting to UTC.
func FromTime(t time.Time) Timestamp {
	return Timestamp(t.UTC().UnixMilli())
}

const isoLayout = "2006-01-02T15:04:05.000Z"

// ParseISO8601 parses a "YYYY-MM-DDTHH:MM:SS.sssZ" string, the canonical wire
// format used throughout this system.
func ParseISO8601(s string) (Timestamp, error) {
	t, err := time.Parse(isoLayout, s)
	if err != nil {
		return 0, fmt.Errorf("clock: parse ISO8601 %q: %w", s, err)
	}
	return FromTime(t), nil
}

// Seconds returns the Unix-seconds representation (truncating toward zero).
func (t Timestamp) Seconds() int64 { return int64(t) / 1000 }

// Millis returns the raw millisecond count.
func (t Timestamp) Millis() int64 { return int64(t) }

// Time converts to a standard library time.Time in UTC.
func (t Timestamp) Time() time.Time {
	return time.UnixMilli(int64(t)).UTC()
}

// ISO8601 formats as "YYYY-MM-DDTHH:MM:SS.sssZ"; milliseconds are always
// present, even when zero.
func (t Timestamp) ISO8601() string {
	return t.Time().Format(isoLayout)
}

// Add returns t shifted by d.
func (t Timestamp) Add(d Duration) Timestamp { return t + Timestamp(d) }

// Sub returns the Duration between t and u (t - u).
func (t Timestamp) Sub(u Timestamp) Duration { return Duration(t - u) }

// Before reports whether t occurs strictly before u.
func (t Timestamp) Before(u Timestamp) bool { return t < u }

// After reports whether t occurs strictly after u.
func (t Timestamp) After(u Timestamp) bool { return t > u }

// KlineInterval is a bar size drawn from the closed set of supported
// durations. The zero value is invalid; use one of the exported constants.
type KlineInterval string

const (
	Interval1m  KlineInterval = "1m"
	Interval5m  KlineInterval = "5m"
	Interval15m KlineInterval = "15m"
	Interval30m KlineInterval = "30m"
	Interval1h  KlineInterval = "1h"
	Interval4h  KlineInterval = "4h"
	Interval1d  KlineInterval = "1d"
	Interval1w  KlineInterval = "1w"
)

// Millis returns the bar length in milliseconds, or 0 if the interval is not
// one of the supported constants.
func (i KlineInterval) Millis() Duration {
	switch i {
	case Interval1m:
		return Duration(1 * int64(Minute))
	case Interval5m:
		return Duration(5 * int64(Minute))
	case Interval15m:
		return Duration(15 * int64(Minute))
	case Interval30m:
		return Duration(30 * int64(Minute))
	case Interval1h:
		return Duration(int64(Hour))
	case Interval4h:
		return Duration(4 * int64(Hour))
	case Interval1d:
		return Duration(int64(Day))
	case Interval1w:
		return Duration(int64(Week))
	default:
		return 0
	}
}

// Valid reports whether i is one of the supported interval constants.
func (i KlineInterval) Valid() bool {
	return i.Millis() != 0
}

// AlignToKline is the canonical bar-boundary operator: floor(ms / len) * len.
// It is idempotent and satisfies 0 <= t - AlignToKline(t, i) < len(i).
func AlignToKline(t Timestamp, i KlineInterval) Timestamp {
	length := int64(i.Millis())
	if length <= 0 {
		return t
	}
	ms := int64(t)
	aligned := (ms - floorMod(ms, length))
	return Timestamp(aligned)
}

// floorMod returns a mod that is always in [0, m) even for negative a,
// matching floor-division semantics rather than Go's truncating %.
func floorMod(a, m int64) int64 {
	r := a % m
	if r < 0 {
		r += m
	}
	return r
}
