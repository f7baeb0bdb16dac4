package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Notification is an inbound bank-message record mirrored from a trader
// device. Records are append-only: the engine updates a notification exactly
// once with its match result and never deletes it.
type Notification struct {
	ID       string
	DeviceID string
	Text     string
	Sender   string

	// Amount extracted from Text by the bank pattern heuristics; zero when no
	// extractor produced a confident value.
	Amount decimal.Decimal

	IsProcessed bool
	DealID      *string

	ReceivedAt time.Time
}
