package identity

import (
	"time"

	"mockdash/internal/cache"
)

// Presence counts browser tabs seen recently. It is bounded and forgets a tab
// after idle without requests. It only feeds metrics: whether a session has
// already been counted lives in the durable store.
type Presence struct {
	seen *cache.LRUCache[struct{}]
}

func NewPresence(maxSessions int, idle time.Duration, opts ...cache.Option) *Presence {
	return &Presence{seen: cache.NewLRUCache[struct{}](maxSessions, idle, opts...)}
}

// Touch marks sessionID as active now.
func (p *Presence) Touch(sessionID string) {
	p.seen.Set(sessionID, struct{}{})
}

// Active returns the number of tracked sessions.
func (p *Presence) Active() int {
	return p.seen.Size()
}

// CleanExpired implements cache.Cleaner.
func (p *Presence) CleanExpired() int {
	return p.seen.CleanExpired()
}
