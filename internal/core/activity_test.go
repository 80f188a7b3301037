package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivityCount(t *testing.T) {
	anchor := time.Date(2024, 5, 10, 0, 0, 0, 0, time.Local)

	tests := []struct {
		name    string
		elapsed time.Duration
		want    int64
	}{
		{"at anchor", 0, 347},
		{"29 minutes", 29 * time.Minute, 347},
		{"29m59s", 29*time.Minute + 59*time.Second, 347},
		{"30 minutes", 30 * time.Minute, 367},
		{"61 minutes", 61 * time.Minute, 387},
		{"end of day", 23*time.Hour + 59*time.Minute, 347 + 47*20},
		{"before anchor", -5 * time.Minute, 347},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ActivityCount(anchor, anchor.Add(tt.elapsed)))
		})
	}
}

func TestActivityCountMonotonic(t *testing.T) {
	anchor := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	prev := ActivityCount(anchor, anchor)
	for m := 1; m < 24*60; m++ {
		cur := ActivityCount(anchor, anchor.Add(time.Duration(m)*time.Minute))
		require.GreaterOrEqual(t, cur, prev, "count decreased at minute %d", m)
		if cur != prev {
			assert.Equal(t, prev+CountIncrement, cur, "minute %d", m)
			assert.Zero(t, m%30, "step off a 30-minute boundary at minute %d", m)
		}
		prev = cur
	}
}

func TestLocalMidnight(t *testing.T) {
	loc := time.FixedZone("EAT", 3*60*60)
	got := LocalMidnight(time.Date(2024, 5, 10, 17, 42, 3, 9, loc))
	assert.Equal(t, time.Date(2024, 5, 10, 0, 0, 0, 0, loc), got)
	assert.Equal(t, loc, got.Location())
}

func TestIsStale(t *testing.T) {
	written := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
	assert.False(t, IsStale(written, written.Add(2*time.Minute+59*time.Second), FeedTTL))
	assert.True(t, IsStale(written, written.Add(FeedTTL), FeedTTL))
	assert.True(t, IsStale(written, written.Add(time.Hour), FeedTTL))
}

func TestEpochMillisRoundTrip(t *testing.T) {
	loc := time.FixedZone("EAT", 3*60*60)
	ts := time.Date(2024, 5, 10, 0, 0, 0, 0, loc)
	back := FromEpochMillis(EpochMillis(ts), loc)
	assert.True(t, ts.Equal(back))
	assert.Equal(t, loc, back.Location())
}
