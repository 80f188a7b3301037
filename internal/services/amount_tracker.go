package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mockdash/internal/core"
	"mockdash/internal/store"
)

// AmountTracker maintains the airtime and commission balances and the mask
// flag of one profile. Balances only ever grow by core.BalanceStep.
type AmountTracker struct {
	durable store.KV
	session store.KV
	format  core.NumberFormatter
	logger  *slog.Logger
}

// NewAmountTracker binds the tracker to a profile's durable store and the
// current browser session's guard namespace.
func NewAmountTracker(durable, session store.KV, format core.NumberFormatter, logger *slog.Logger) *AmountTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &AmountTracker{durable: durable, session: session, format: format, logger: logger}
}

// Balances reads both balances, persisting the defaults on first use.
func (t *AmountTracker) Balances(ctx context.Context) (core.Balances, error) {
	airtime, err := t.balance(ctx, core.KeyAirtime, core.DefaultAirtime)
	if err != nil {
		return core.Balances{}, fmt.Errorf("read airtime: %w", err)
	}
	commission, err := t.balance(ctx, core.KeyCommission, core.DefaultCommission)
	if err != nil {
		return core.Balances{}, fmt.Errorf("read commission: %w", err)
	}
	return core.Balances{Airtime: airtime, Commission: commission}, nil
}

// balance treats an unparsable stored value like an absent one: the default
// is persisted over it and returned.
func (t *AmountTracker) balance(ctx context.Context, key string, def int64) (int64, error) {
	v, err := store.Int64(ctx, t.durable, key, def)
	if !errors.Is(err, core.ErrMalformedValue) {
		return v, err
	}
	t.logger.WarnContext(ctx, "Replacing malformed balance", "key", key, "error", err)
	if err := store.SetInt64(ctx, t.durable, key, def); err != nil {
		return 0, err
	}
	return def, nil
}

// IncrementOnSessionStart adds one step to both balances the first time it
// runs in a session. Later calls in the same session return applied=false and
// leave the store untouched.
func (t *AmountTracker) IncrementOnSessionStart(ctx context.Context) (applied bool, b core.Balances, err error) {
	done, err := t.session.Has(ctx, core.SessionGuardKey)
	if err != nil {
		return false, core.Balances{}, fmt.Errorf("read session guard: %w", err)
	}
	if done {
		b, err = t.Balances(ctx)
		return false, b, err
	}

	b, err = t.increment(ctx)
	if err != nil {
		return false, core.Balances{}, err
	}
	if err := store.SetFlag(ctx, t.session, core.SessionGuardKey, true); err != nil {
		return true, b, fmt.Errorf("set session guard: %w", err)
	}
	return true, b, nil
}

// ForceIncrement adds one step to both balances regardless of the session guard.
func (t *AmountTracker) ForceIncrement(ctx context.Context) (core.Balances, error) {
	return t.increment(ctx)
}

func (t *AmountTracker) increment(ctx context.Context) (core.Balances, error) {
	b, err := t.Balances(ctx)
	if err != nil {
		return core.Balances{}, err
	}
	b.Airtime += core.BalanceStep
	b.Commission += core.BalanceStep

	err = store.SetAll(ctx, t.durable,
		store.Entry{Key: core.KeyAirtime, Value: fmt.Sprint(b.Airtime)},
		store.Entry{Key: core.KeyCommission, Value: fmt.Sprint(b.Commission)},
	)
	if err != nil {
		return core.Balances{}, fmt.Errorf("persist balances: %w", err)
	}
	return b, nil
}

// Masked reports whether amounts are currently hidden.
func (t *AmountTracker) Masked(ctx context.Context) (bool, error) {
	return store.Flag(ctx, t.durable, core.KeyHidden)
}

// ToggleMask flips the visibility flag and returns the new masked state.
func (t *AmountTracker) ToggleMask(ctx context.Context) (bool, error) {
	masked, err := t.Masked(ctx)
	if err != nil {
		return false, err
	}
	masked = !masked
	if err := store.SetFlag(ctx, t.durable, core.KeyHidden, masked); err != nil {
		return false, err
	}
	return masked, nil
}

// Display formats both balances with digit grouping, or the mask token when masked.
func (t *AmountTracker) Display(ctx context.Context, masked bool) (airtime, commission string, err error) {
	b, err := t.Balances(ctx)
	if err != nil {
		return "", "", err
	}
	airtime, commission = t.format.DisplayBalances(b, masked)
	return airtime, commission, nil
}
