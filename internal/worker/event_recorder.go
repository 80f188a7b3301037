package worker

import (
	"context"
	"fmt"
	"log/slog"

	"mockdash/internal/amqp"
	"mockdash/internal/core"
)

// EventStore is the persistence the recorder needs.
// storage.SQLiteRepository implements it.
type EventStore interface {
	RecordEvent(ctx context.Context, ev core.DashboardEvent) (bool, error)
	CountEvents(ctx context.Context) (map[core.EventType]int64, error)
}

// EventRecorder writes dashboard events consumed from AMQP into the event log.
type EventRecorder struct {
	store EventStore
}

func NewEventRecorder(store EventStore) *EventRecorder {
	return &EventRecorder{store: store}
}

// HandleEventMessage records one message. Redelivered messages are
// recognised by id and acknowledged without a second insert.
func (r *EventRecorder) HandleEventMessage(ctx context.Context, msg *amqp.EventMessage) error {
	if msg == nil {
		return fmt.Errorf("nil event message")
	}

	inserted, err := r.store.RecordEvent(ctx, msg.DashboardEvent)
	if err != nil {
		return fmt.Errorf("record event %s: %w", msg.ID, err)
	}

	if !inserted {
		slog.DebugContext(ctx, "Skipping duplicate dashboard event",
			"id", msg.ID,
			"type", msg.Type)
		return nil
	}

	slog.InfoContext(ctx, "Recorded dashboard event",
		"id", msg.ID,
		"type", msg.Type,
		"profile_id", msg.ProfileID)
	return nil
}

// LogStats logs per-type totals of the event log.
func (r *EventRecorder) LogStats(ctx context.Context) error {
	counts, err := r.store.CountEvents(ctx)
	if err != nil {
		return fmt.Errorf("count events: %w", err)
	}

	var total int64
	attrs := make([]any, 0, 2*len(counts)+2)
	for typ, n := range counts {
		attrs = append(attrs, string(typ), n)
		total += n
	}
	attrs = append(attrs, "total", total)
	slog.InfoContext(ctx, "Dashboard event log stats", attrs...)
	return nil
}
