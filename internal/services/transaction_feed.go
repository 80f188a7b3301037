package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"mockdash/internal/clock"
	"mockdash/internal/core"
	"mockdash/internal/store"
)

// TransactionFeed serves the mock transaction list of one profile as a
// cache with a TTL measured from the last write.
type TransactionFeed struct {
	kv     store.KV
	clock  clock.Clock
	gen    *Generator
	ttl    time.Duration
	logger *slog.Logger
}

func NewTransactionFeed(kv store.KV, clk clock.Clock, gen *Generator, ttl time.Duration, logger *slog.Logger) *TransactionFeed {
	if ttl <= 0 {
		ttl = core.FeedTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TransactionFeed{kv: kv, clock: clk, gen: gen, ttl: ttl, logger: logger}
}

// Load returns the persisted batch. A missing, undecodable or wrongly sized
// batch reports ok=false.
func (f *TransactionFeed) Load(ctx context.Context) (batch core.TransactionBatch, ok bool, err error) {
	data, hasData, err := f.kv.Get(ctx, core.KeyFeed)
	if err != nil {
		return core.TransactionBatch{}, false, fmt.Errorf("read feed: %w", err)
	}
	updated, hasUpdated, err := f.kv.Get(ctx, core.KeyFeedUpdated)
	if err != nil {
		return core.TransactionBatch{}, false, fmt.Errorf("read feed timestamp: %w", err)
	}
	if !hasData || !hasUpdated {
		return core.TransactionBatch{}, false, nil
	}

	ms, err := strconv.ParseInt(updated, 10, 64)
	if err != nil {
		f.logger.WarnContext(ctx, "Discarding feed with malformed timestamp", "value", updated, "error", err)
		return core.TransactionBatch{}, false, nil
	}
	var items []core.TransactionRecord
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		f.logger.WarnContext(ctx, "Discarding undecodable feed", "error", err)
		return core.TransactionBatch{}, false, nil
	}
	batch = core.TransactionBatch{Items: items, UpdatedAt: core.FromEpochMillis(ms, f.clock.Now().Location())}
	if err := batch.Validate(); err != nil {
		f.logger.WarnContext(ctx, "Discarding invalid feed", "records", len(items), "error", err)
		return core.TransactionBatch{}, false, nil
	}
	return batch, true, nil
}

// Refresh returns the persisted batch unless it is absent, force is set, or
// it has reached the TTL; in those cases a fresh batch replaces it.
func (f *TransactionFeed) Refresh(ctx context.Context, force bool) (batch core.TransactionBatch, regenerated bool, err error) {
	existing, ok, err := f.Load(ctx)
	if err != nil {
		return core.TransactionBatch{}, false, err
	}
	if ok && !force && !core.IsStale(existing.UpdatedAt, f.clock.Now(), f.ttl) {
		return existing, false, nil
	}

	batch = f.gen.Batch()
	if err := f.save(ctx, batch); err != nil {
		return core.TransactionBatch{}, false, err
	}
	return batch, true, nil
}

func (f *TransactionFeed) save(ctx context.Context, batch core.TransactionBatch) error {
	if err := batch.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(batch.Items)
	if err != nil {
		return fmt.Errorf("encode feed: %w", err)
	}
	err = store.SetAll(ctx, f.kv,
		store.Entry{Key: core.KeyFeed, Value: string(data)},
		store.Entry{Key: core.KeyFeedUpdated, Value: strconv.FormatInt(core.EpochMillis(batch.UpdatedAt), 10)},
	)
	if err != nil {
		return fmt.Errorf("persist feed: %w", err)
	}
	return nil
}

// TTL returns the staleness window.
func (f *TransactionFeed) TTL() time.Duration {
	return f.ttl
}
