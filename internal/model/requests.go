package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transport-level request/result shapes. Transports decode straight into
// these; the engine consumes them as-is.

type CreateDealRequest struct {
	MerchantID      string          `json:"merchant_id"`
	MerchantOrderID string          `json:"merchant_order_id"`
	AmountFiat      decimal.Decimal `json:"amount_fiat"`
	Currency        string          `json:"currency"`
	MethodType      string          `json:"method_type"`
	CallbackURL     string          `json:"callback_url,omitempty"`
}

type OpenDisputeRequest struct {
	SubjectType DisputeSubject `json:"subject_type"`
	SubjectID   string         `json:"subject_id"`
	Reason      string         `json:"reason"`
	ProofURL    string         `json:"proof_url,omitempty"`
}

// InboundNotification is a raw bank message delivered by the device
// transport.
type InboundNotification struct {
	DeviceID   string    `json:"device_id"`
	Text       string    `json:"text"`
	Sender     string    `json:"sender,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

type MatchOutcome string

const (
	MatchMatched   MatchOutcome = "MATCHED"
	MatchNoAmount  MatchOutcome = "NO_AMOUNT"
	MatchNoDeal    MatchOutcome = "NO_DEAL"
	MatchAmbiguous MatchOutcome = "AMBIGUOUS"
)

// MatchResult reports what a notification resolved to. NotificationID is
// always set; DealID only on MATCHED.
type MatchResult struct {
	Outcome        MatchOutcome `json:"outcome"`
	NotificationID string       `json:"notification_id"`
	DealID         string       `json:"deal_id,omitempty"`
}
