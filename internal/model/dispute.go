package model

import "time"

type DisputeStatus string

const (
	DisputeOpened     DisputeStatus = "OPENED"
	DisputeInProgress DisputeStatus = "IN_PROGRESS"
	DisputeResolved   DisputeStatus = "RESOLVED"
)

type DisputeOutcome string

const (
	// DisputeAccepted resolves in the merchant's favor.
	DisputeAccepted DisputeOutcome = "ACCEPTED"
	// DisputeRejected resolves in the trader's favor.
	DisputeRejected DisputeOutcome = "REJECTED"
)

type DisputeSubject string

const (
	SubjectDeal   DisputeSubject = "DEAL"
	SubjectPayout DisputeSubject = "PAYOUT"
)

// Dispute is opened by a merchant against a deal or payout. The SLA deadline
// is fixed at opening time from the shift configuration; at most one dispute
// per subject may be open at a time.
type Dispute struct {
	ID          string
	SubjectType DisputeSubject
	SubjectID   string
	Reason      string
	ProofURL    string

	Status  DisputeStatus
	Outcome DisputeOutcome

	OpenedAt   time.Time
	DeadlineAt time.Time
	ResolvedAt *time.Time
	ResolvedBy string
}

// Closed reports whether the dispute has reached its terminal state.
func (d *Dispute) Closed() bool {
	return d.Status == DisputeResolved
}
