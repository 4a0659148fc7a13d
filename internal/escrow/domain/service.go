package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateHoldRequest struct {
	OrderID    snowflake.ID
	CustomerID snowflake.ID
	ProviderID snowflake.ID
	Amount     int64
	Currency   string
	PaymentRef string
}

type RequestRefundRequest struct {
	OrderID     snowflake.ID
	HoldID      snowflake.ID
	Amount      int64
	Reason      string
	Notes       string
	RequestedBy snowflake.ID
}

type ProcessRefundRequest struct {
	RefundID   snowflake.ID
	ApprovedBy snowflake.ID
	PaymentRef string
}

type Service interface {
	// CreateHold computes the platform fee and provider payout from the rate
	// in effect now, writes the hold as held with an expiry deadline, and
	// marks the owning order's escrow status.
	CreateHold(ctx context.Context, req CreateHoldRequest) (*EscrowHold, error)

	// Release pays the provider. The held→released conditional update is the
	// concurrency guard: zero rows affected means a concurrent or prior
	// operation won, and the caller gets ErrAlreadyProcessed with no writes.
	Release(ctx context.Context, holdID snowflake.ID, orderID snowflake.ID) error

	// RequestRefund records a pending refund claim. No money moves.
	RequestRefund(ctx context.Context, req RequestRefundRequest) (*RefundRequest, error)

	// ProcessRefund completes a pending refund: the hold goes held→refunded
	// and the customer's wallet receives the refund transaction.
	ProcessRefund(ctx context.Context, req ProcessRefundRequest) error

	// ExpireOverdueHolds settles every held hold past its deadline. Policy:
	// an unresolved hold defaults to provider payout, recorded as expired.
	// One hold's failure never aborts the sweep.
	ExpireOverdueHolds(ctx context.Context, batchSize int) (int, error)

	// GetStatus is a read projection keyed by order.
	GetStatus(ctx context.Context, orderID snowflake.ID) (StatusView, error)
}

var (
	ErrInvalidAmount = errors.New("invalid_amount")
	ErrInvalidInput  = errors.New("invalid_input")
	ErrNotFound      = errors.New("not_found")

	// ErrAlreadyProcessed means a concurrent or prior operation already
	// settled the hold. Callers must treat it as success-elsewhere and stop
	// retrying.
	ErrAlreadyProcessed = errors.New("already_processed")

	// ErrPartialFailure means the hold's status moved but a dependent write
	// failed. The money state needs manual reconciliation; it is always
	// logged with full context before being returned.
	ErrPartialFailure = errors.New("partial_failure")
)
