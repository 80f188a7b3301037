package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"mockdash/internal/clock"
	"mockdash/internal/core"
	"mockdash/internal/store/memory"
)

var testScope = core.Scope{ProfileID: "profile-a", SessionID: "session-1"}

type fixture struct {
	durable *memory.Store
	clock   *clock.Fake
	events  *recordingPublisher
	dash    *Dashboard
}

func newFixture(t *testing.T, start time.Time) *fixture {
	t.Helper()
	f := &fixture{
		durable: memory.New(),
		clock:   clock.NewFake(start),
		events:  &recordingPublisher{},
	}
	f.dash = NewDashboard(f.durable, Options{
		Clock:     f.clock,
		Generator: NewSeededGenerator(7, f.clock),
		Publisher: f.events,
	})
	return f
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []core.DashboardEvent
}

func (p *recordingPublisher) PublishEvent(_ context.Context, ev core.DashboardEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []core.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.EventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}
