// Package distribution delivers governance-log events to consumers over a
// three-tier transport chain: Redis Pub/Sub when it is healthy, Redis Streams
// as the replay-capable fallback, and database polling as the floor that is
// always available. The service degrades tier by tier and keeps a local cache
// of everything it has seen.
package distribution

import (
	"time"

	"wombat/api/internal/store"
)

const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// Event is one governance-log change as it travels over a transport.
type Event struct {
	Type      string                   `json:"type"`
	Entry     store.GovernanceLogEntry `json:"entry"`
	Timestamp time.Time                `json:"timestamp"`
}
