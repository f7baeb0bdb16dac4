package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// TopicBalanceChanged carries balance mutations from Redis to the Postgres
// mirror, consumed by the balance sync worker.
const TopicBalanceChanged = "balance.changed"

// BalanceEvent is a snapshot of a trader balance after a freeze, unfreeze or
// settle operation.
type BalanceEvent struct {
	TraderID  string          `json:"trader_id"`
	DealID    string          `json:"deal_id"`
	Op        string          `json:"op"`
	Amount    decimal.Decimal `json:"amount"`
	Available decimal.Decimal `json:"available"`
	Frozen    decimal.Decimal `json:"frozen"`
	Trust     decimal.Decimal `json:"trust"`
	At        time.Time       `json:"at"`
}
