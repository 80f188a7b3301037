package core

import "time"

const (
	EventSessionIncrement EventType = "balances.session_increment"
	EventForceIncrement   EventType = "balances.force_increment"
	EventMaskToggled      EventType = "mask.toggled"
	EventFeedRegenerated  EventType = "feed.regenerated"
)

type (
	EventType string

	// DashboardEvent records one state change of a profile's dashboard.
	DashboardEvent struct {
		ID         string    `json:"id"`
		Type       EventType `json:"type"`
		ProfileID  string    `json:"profile_id"`
		Airtime    int64     `json:"airtime,omitempty"`
		Commission int64     `json:"commission,omitempty"`
		Masked     bool      `json:"masked,omitempty"`
		BatchSize  int       `json:"batch_size,omitempty"`
		Timestamp  time.Time `json:"timestamp"`
	}
)

// IsValid returns true if the event type is known
func (t EventType) IsValid() bool {
	switch t {
	case EventSessionIncrement, EventForceIncrement, EventMaskToggled, EventFeedRegenerated:
		return true
	default:
		return false
	}
}
