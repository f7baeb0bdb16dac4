package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TopicDealCreated       = "deals.created"
	TopicDealCompleted     = "deals.completed"
	TopicDealExpired       = "deals.expired"
	TopicDisputeAutoClosed = "disputes.autoaccepted"
)

// DealEvent is published on deal lifecycle transitions for downstream
// consumers (merchant gateways, ops tooling).
type DealEvent struct {
	DealID     string          `json:"deal_id"`
	MerchantID string          `json:"merchant_id"`
	TraderID   string          `json:"trader_id,omitempty"`
	Status     string          `json:"status"`
	AmountFiat decimal.Decimal `json:"amount_fiat"`
	Currency   string          `json:"currency"`
	At         time.Time       `json:"at"`
}

// DisputeEvent is published when the sweep auto-accepts an expired dispute.
type DisputeEvent struct {
	DisputeID   string    `json:"dispute_id"`
	SubjectType string    `json:"subject_type"`
	SubjectID   string    `json:"subject_id"`
	Outcome     string    `json:"outcome"`
	At          time.Time `json:"at"`
}
