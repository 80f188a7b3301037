package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"mockdash/internal/clock"
	"mockdash/internal/core"
	"mockdash/internal/store"
)

// EventPublisher receives dashboard state changes. Implementations must not
// block for long; publish failures never fail the originating operation.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev core.DashboardEvent) error
}

// Options configures a Dashboard. Zero values select production defaults.
type Options struct {
	Clock     clock.Clock
	Generator *Generator
	Formatter core.NumberFormatter
	FeedTTL   time.Duration
	Publisher EventPublisher
	Logger    *slog.Logger
}

type (
	// AmountsView is what the amounts panel renders.
	AmountsView struct {
		Balances   core.Balances `json:"balances"`
		Airtime    string        `json:"airtime"`
		Commission string        `json:"commission"`
		Masked     bool          `json:"masked"`
	}

	// CountsView is what the greeting and counts panel renders. Count feeds
	// both the "all" and "successful" slots.
	CountsView struct {
		Greeting    string    `json:"greeting"`
		Count       int64     `json:"count"`
		CountText   string    `json:"count_text"`
		DayAnchor   time.Time `json:"day_anchor"`
		GeneratedAt time.Time `json:"generated_at"`
	}

	// Snapshot is the full page state produced by a page load.
	Snapshot struct {
		Amounts     AmountsView           `json:"amounts"`
		Counts      CountsView            `json:"counts"`
		Feed        core.TransactionBatch `json:"feed"`
		Incremented bool                  `json:"incremented"`
	}
)

// Dashboard binds the amount tracker, activity counter and transaction feed
// to a profile and session, on top of one shared durable store.
type Dashboard struct {
	durable   store.KV
	clock     clock.Clock
	gen       *Generator
	format    core.NumberFormatter
	feedTTL   time.Duration
	publisher EventPublisher
	logger    *slog.Logger

	// feedFlight collapses concurrent refreshes of one profile's feed.
	feedFlight singleflight.Group
}

// NewDashboard builds a dashboard over durable. Per-session guards live in
// the same store under SessionNamespace, so they last as long as the
// browser session that owns them.
func NewDashboard(durable store.KV, opts Options) *Dashboard {
	if opts.Clock == nil {
		opts.Clock = clock.NewSystem(nil)
	}
	if opts.Generator == nil {
		opts.Generator = NewGenerator(nil, opts.Clock)
	}
	if opts.Formatter == (core.NumberFormatter{}) {
		opts.Formatter = core.NewNumberFormatter("en")
	}
	if opts.FeedTTL <= 0 {
		opts.FeedTTL = core.FeedTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dashboard{
		durable:   durable,
		clock:     opts.Clock,
		gen:       opts.Generator,
		format:    opts.Formatter,
		feedTTL:   opts.FeedTTL,
		publisher: opts.Publisher,
		logger:    opts.Logger,
	}
}

// SessionNamespace is the durable-store prefix of one browser session's keys.
func SessionNamespace(sessionID string) string {
	return "session:" + sessionID
}

// AmountTracker returns the tracker bound to scope.
func (d *Dashboard) AmountTracker(scope core.Scope) *AmountTracker {
	return NewAmountTracker(
		store.Namespaced(d.durable, scope.ProfileID),
		store.Namespaced(d.durable, SessionNamespace(scope.SessionID)),
		d.format,
		d.logger.With("profile_id", scope.ProfileID),
	)
}

func (d *Dashboard) ActivityCounter(scope core.Scope) *ActivityCounter {
	return NewActivityCounter(store.Namespaced(d.durable, scope.ProfileID), d.clock)
}

func (d *Dashboard) TransactionFeed(scope core.Scope) *TransactionFeed {
	return NewTransactionFeed(store.Namespaced(d.durable, scope.ProfileID), d.clock, d.gen, d.feedTTL,
		d.logger.With("profile_id", scope.ProfileID))
}

// Load runs the page-load sequence: the once-per-session increment followed
// by amounts, counts and the feed.
func (d *Dashboard) Load(ctx context.Context, scope core.Scope) (Snapshot, error) {
	if err := scope.Validate(); err != nil {
		return Snapshot{}, err
	}

	applied, b, err := d.AmountTracker(scope).IncrementOnSessionStart(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("session increment: %w", err)
	}
	if applied {
		d.publish(ctx, core.DashboardEvent{Type: core.EventSessionIncrement, ProfileID: scope.ProfileID, Airtime: b.Airtime, Commission: b.Commission})
	}

	amounts, err := d.Amounts(ctx, scope)
	if err != nil {
		return Snapshot{}, err
	}
	counts, err := d.Counts(ctx, scope)
	if err != nil {
		return Snapshot{}, err
	}
	feed, err := d.Feed(ctx, scope, false)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Amounts: amounts, Counts: counts, Feed: feed, Incremented: applied}, nil
}

// Amounts returns the formatted balances honoring the mask flag.
func (d *Dashboard) Amounts(ctx context.Context, scope core.Scope) (AmountsView, error) {
	if err := scope.Validate(); err != nil {
		return AmountsView{}, err
	}
	tracker := d.AmountTracker(scope)
	masked, err := tracker.Masked(ctx)
	if err != nil {
		return AmountsView{}, fmt.Errorf("read mask: %w", err)
	}
	b, err := tracker.Balances(ctx)
	if err != nil {
		return AmountsView{}, err
	}
	return d.amountsView(b, masked), nil
}

func (d *Dashboard) amountsView(b core.Balances, masked bool) AmountsView {
	airtime, commission := d.format.DisplayBalances(b, masked)
	return AmountsView{Balances: b, Airtime: airtime, Commission: commission, Masked: masked}
}

// ForceIncrement is the manual refresh action.
func (d *Dashboard) ForceIncrement(ctx context.Context, scope core.Scope) (AmountsView, error) {
	if err := scope.Validate(); err != nil {
		return AmountsView{}, err
	}
	b, err := d.AmountTracker(scope).ForceIncrement(ctx)
	if err != nil {
		return AmountsView{}, fmt.Errorf("force increment: %w", err)
	}
	d.publish(ctx, core.DashboardEvent{Type: core.EventForceIncrement, ProfileID: scope.ProfileID, Airtime: b.Airtime, Commission: b.Commission})
	return d.Amounts(ctx, scope)
}

// ToggleMask flips amount visibility.
func (d *Dashboard) ToggleMask(ctx context.Context, scope core.Scope) (AmountsView, error) {
	if err := scope.Validate(); err != nil {
		return AmountsView{}, err
	}
	masked, err := d.AmountTracker(scope).ToggleMask(ctx)
	if err != nil {
		return AmountsView{}, fmt.Errorf("toggle mask: %w", err)
	}
	d.publish(ctx, core.DashboardEvent{Type: core.EventMaskToggled, ProfileID: scope.ProfileID, Masked: masked})
	return d.Amounts(ctx, scope)
}

// Counts returns the greeting and the activity count for now.
func (d *Dashboard) Counts(ctx context.Context, scope core.Scope) (CountsView, error) {
	if err := scope.Validate(); err != nil {
		return CountsView{}, err
	}
	now := d.clock.Now()
	counter := d.ActivityCounter(scope)
	anchor, err := counter.anchorAt(ctx, now)
	if err != nil {
		return CountsView{}, err
	}
	count := core.ActivityCount(anchor, now)
	return CountsView{
		Greeting:    core.Greeting(now.Hour()),
		Count:       count,
		CountText:   d.format.Format(count),
		DayAnchor:   anchor,
		GeneratedAt: now,
	}, nil
}

// Feed returns the profile's transaction batch, regenerating it when stale
// or when force is set.
func (d *Dashboard) Feed(ctx context.Context, scope core.Scope, force bool) (core.TransactionBatch, error) {
	if err := scope.Validate(); err != nil {
		return core.TransactionBatch{}, err
	}
	key := scope.ProfileID + "|" + strconv.FormatBool(force)
	v, err, _ := d.feedFlight.Do(key, func() (interface{}, error) {
		batch, regenerated, err := d.TransactionFeed(scope).Refresh(ctx, force)
		if err != nil {
			return nil, err
		}
		if regenerated {
			d.publish(ctx, core.DashboardEvent{Type: core.EventFeedRegenerated, ProfileID: scope.ProfileID, BatchSize: len(batch.Items)})
		}
		return batch, nil
	})
	if err != nil {
		return core.TransactionBatch{}, fmt.Errorf("refresh feed: %w", err)
	}
	return v.(core.TransactionBatch), nil
}

// FeedTTL returns the configured staleness window.
func (d *Dashboard) FeedTTL() time.Duration {
	return d.feedTTL
}

func (d *Dashboard) publish(ctx context.Context, ev core.DashboardEvent) {
	if d.publisher == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.Timestamp = d.clock.Now()
	if err := d.publisher.PublishEvent(ctx, ev); err != nil {
		d.logger.ErrorContext(ctx, "Failed to publish dashboard event",
			"type", ev.Type,
			"profile_id", ev.ProfileID,
			"error", err)
	}
}
