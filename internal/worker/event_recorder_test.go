package worker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mockdash/internal/amqp"
	"mockdash/internal/core"
	"mockdash/internal/storage"
)

func event(id string, typ core.EventType) *amqp.EventMessage {
	return amqp.NewEventMessage(core.DashboardEvent{
		ID:        id,
		Type:      typ,
		ProfileID: "profile-a",
		Timestamp: time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC),
	})
}

func TestHandleEventMessageRecordsOnce(t *testing.T) {
	ctx := context.Background()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer repo.Close()

	recorder := NewEventRecorder(repo)
	msg := event("ev-1", core.EventMaskToggled)

	require.NoError(t, recorder.HandleEventMessage(ctx, msg))
	require.NoError(t, recorder.HandleEventMessage(ctx, msg))
	require.NoError(t, recorder.HandleEventMessage(ctx, event("ev-2", core.EventFeedRegenerated)))

	counts, err := repo.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[core.EventMaskToggled])
	assert.Equal(t, int64(1), counts[core.EventFeedRegenerated])

	assert.NoError(t, recorder.LogStats(ctx))
}

type failingStore struct{}

func (failingStore) RecordEvent(context.Context, core.DashboardEvent) (bool, error) {
	return false, errors.New("disk full")
}

func (failingStore) CountEvents(context.Context) (map[core.EventType]int64, error) {
	return nil, errors.New("disk full")
}

func TestHandleEventMessageStoreError(t *testing.T) {
	recorder := NewEventRecorder(failingStore{})

	err := recorder.HandleEventMessage(context.Background(), event("ev-1", core.EventForceIncrement))
	assert.ErrorContains(t, err, "disk full")
	assert.Error(t, recorder.LogStats(context.Background()))
	assert.Error(t, recorder.HandleEventMessage(context.Background(), nil))
}
