package core

import "time"

// LocalMidnight returns 00:00 of t's calendar day in t's location.
func LocalMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ActivityCount is the display count for now given the day anchor:
// BaseCount plus CountIncrement for every completed CountInterval.
// Elapsed time is floored to whole minutes first. A now before the anchor
// yields BaseCount.
func ActivityCount(anchor, now time.Time) int64 {
	mins := int64(now.Sub(anchor) / time.Minute)
	if mins < 0 {
		mins = 0
	}
	intervals := mins / int64(CountInterval/time.Minute)
	return BaseCount + intervals*CountIncrement
}

// IsStale reports whether a value written at updatedAt has reached ttl.
func IsStale(updatedAt, now time.Time, ttl time.Duration) bool {
	return now.Sub(updatedAt) >= ttl
}

// EpochMillis and FromEpochMillis convert to and from the persisted
// millisecond representation.
func EpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func FromEpochMillis(ms int64, loc *time.Location) time.Time {
	t := time.UnixMilli(ms)
	if loc != nil {
		t = t.In(loc)
	}
	return t
}
