// Package store defines the key-value persistence ports the dashboard
// components read and write, plus backend-independent helpers.
package store

import (
	"context"
	"fmt"
	"strconv"

	"mockdash/internal/core"
)

// Ports for persistence adapters.
type (
	// KV is a string-keyed, string-valued store.
	KV interface {
		// Get returns the value and whether the key was present.
		Get(ctx context.Context, key string) (value string, ok bool, err error)
		Set(ctx context.Context, key, value string) error
		Has(ctx context.Context, key string) (bool, error)
	}

	// BatchWriter is implemented by stores that can write several keys
	// as one unit.
	BatchWriter interface {
		SetMany(ctx context.Context, entries []Entry) error
	}

	// Pinger is implemented by stores backed by a remote service.
	Pinger interface {
		Ping(ctx context.Context) error
	}
)

// Entry is one key/value pair of a batched write.
type Entry struct {
	Key   string
	Value string
}

// SetAll writes entries atomically when kv supports it, and one by one otherwise.
func SetAll(ctx context.Context, kv KV, entries ...Entry) error {
	if bw, ok := kv.(BatchWriter); ok {
		return bw.SetMany(ctx, entries)
	}
	for _, e := range entries {
		if err := kv.Set(ctx, e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}

// Int64 reads key as a decimal integer. When the key is absent, def is
// persisted and returned.
func Int64(ctx context.Context, kv KV, key string, def int64) (int64, error) {
	raw, ok, err := kv.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", key, err)
	}
	if !ok {
		if err := SetInt64(ctx, kv, key, def); err != nil {
			return 0, err
		}
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", core.ErrMalformedValue, key, raw)
	}
	return v, nil
}

func SetInt64(ctx context.Context, kv KV, key string, v int64) error {
	if err := kv.Set(ctx, key, strconv.FormatInt(v, 10)); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Flag reads a "1"/"0" flag. Anything other than "1" is false.
func Flag(ctx context.Context, kv KV, key string) (bool, error) {
	raw, _, err := kv.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	return raw == "1", nil
}

func SetFlag(ctx context.Context, kv KV, key string, v bool) error {
	raw := "0"
	if v {
		raw = "1"
	}
	if err := kv.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
