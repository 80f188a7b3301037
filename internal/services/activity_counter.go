package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"mockdash/internal/clock"
	"mockdash/internal/core"
	"mockdash/internal/store"
)

// ActivityCounter derives the transaction count shown on the dashboard from
// the time elapsed since local midnight. There is no stored counter: the
// anchor is reset lazily the first time it is read on a new day.
type ActivityCounter struct {
	kv    store.KV
	clock clock.Clock
}

func NewActivityCounter(kv store.KV, clk clock.Clock) *ActivityCounter {
	return &ActivityCounter{kv: kv, clock: clk}
}

// DayAnchor returns today's local midnight, replacing the stored anchor when
// it belongs to another day or cannot be parsed.
func (c *ActivityCounter) DayAnchor(ctx context.Context) (time.Time, error) {
	return c.anchorAt(ctx, c.clock.Now())
}

func (c *ActivityCounter) anchorAt(ctx context.Context, now time.Time) (time.Time, error) {
	midnight := core.LocalMidnight(now)
	want := core.EpochMillis(midnight)

	raw, ok, err := c.kv.Get(ctx, core.KeyStartOfDay)
	if err != nil {
		return time.Time{}, fmt.Errorf("read day anchor: %w", err)
	}
	if ok {
		if stored, err := strconv.ParseInt(raw, 10, 64); err == nil && stored == want {
			return midnight, nil
		}
	}
	if err := store.SetInt64(ctx, c.kv, core.KeyStartOfDay, want); err != nil {
		return time.Time{}, fmt.Errorf("reset day anchor: %w", err)
	}
	return midnight, nil
}

// CurrentCount returns core.ActivityCount for the current time.
func (c *ActivityCounter) CurrentCount(ctx context.Context) (int64, error) {
	now := c.clock.Now()
	anchor, err := c.anchorAt(ctx, now)
	if err != nil {
		return 0, err
	}
	return core.ActivityCount(anchor, now), nil
}
