// Package service defines the business operations exposed by the engine.
// All transport layers (HTTP, NATS) depend on these interfaces, not on the
// concrete engine types.
package service

import (
	"context"

	"github.com/shopspring/decimal"

	"settlex/internal/model"
)

type DealService interface {
	CreateDeal(ctx context.Context, req model.CreateDealRequest) (*model.Deal, error)
	ConfirmDeal(ctx context.Context, id, actor string) (*model.Deal, error)
	CancelDeal(ctx context.Context, id string) (*model.Deal, error)
	MarkMilk(ctx context.Context, id string) (*model.Deal, error)
}

type NotificationService interface {
	ProcessNotification(ctx context.Context, in model.InboundNotification) (*model.MatchResult, error)
}

type DisputeService interface {
	OpenDispute(ctx context.Context, req model.OpenDisputeRequest) (*model.Dispute, error)
	Resolve(ctx context.Context, id string, outcome model.DisputeOutcome, actor string) (*model.Dispute, error)
}

type SettlementService interface {
	ComputePending(ctx context.Context, merchantID string) (decimal.Decimal, error)
	CreateSettlement(ctx context.Context, merchantID string) (*model.SettlementRequest, error)
	ApproveSettlement(ctx context.Context, id, actor string) (*model.SettlementRequest, error)
	CancelSettlement(ctx context.Context, id, actor, reason string) (*model.SettlementRequest, error)
}
