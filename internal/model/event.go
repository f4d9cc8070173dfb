package model

import "time"

// Event is an append-only supply-chain history entry.
type Event struct {
	ID          int64     `json:"id"`
	ProductID   uint64    `json:"productId"`
	EventType   string    `json:"eventType"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Timestamp   time.Time `json:"timestamp"`

	// Source is set for events derived from a ledger log; the mirror uses it
	// to make replays of the same log a no-op.
	Source *FactSource `json:"-"`
}
