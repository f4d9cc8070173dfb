package model

import "time"

const (
	// StatusCreated is the status of a freshly registered product.
	StatusCreated = "Created"

	EventTypeCreated      = "Created"
	EventTypeStatusUpdate = "StatusUpdate"
)

// Product is the mirror's snapshot of a ledger-registered product.
type Product struct {
	LedgerID  uint64    `json:"productId"`
	Name      string    `json:"name"`
	Origin    string    `json:"origin"`
	Category  string    `json:"category"`
	Status    string    `json:"status"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LedgerRecord is the authoritative product state read from the contract.
type LedgerRecord struct {
	LedgerID uint64 `json:"productId"`
	Name     string `json:"name"`
	Origin   string `json:"origin"`
	Category string `json:"category"`
	Status   string `json:"status"`
	Owner    string `json:"owner"`
}
