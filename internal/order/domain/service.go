package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateOrderRequest struct {
	CustomerID           snowflake.ID
	ProviderID           snowflake.ID
	ListingID            *snowflake.ID
	EscrowAmount         int64
	Currency             string
	RequiresConsultation bool
}

type SubmitProofRequest struct {
	OrderID    snowflake.ID
	ProviderID snowflake.ID
	Images     []string
	Files      []string
	Notes      string
}

type ProofDecisionRequest struct {
	OrderID        snowflake.ID
	ProofID        snowflake.ID
	CustomerID     snowflake.ID
	Feedback       string
	ChangeRequests []string
}

type AdminOverrideRequest struct {
	OrderID   snowflake.ID
	NewStatus OrderStatus
	ActorID   snowflake.ID
	Reason    string
}

type Service interface {
	// CreateOrder writes a new order in its initial state. Invoked by the
	// booking flow before the escrow hold is created.
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*ProductionOrder, error)

	// CompleteConsultation moves pending_consultation to
	// pending_order_received once the pre-production consultation is done.
	CompleteConsultation(ctx context.Context, orderID snowflake.ID, providerID snowflake.ID) error

	ReceiveOrder(ctx context.Context, orderID snowflake.ID, providerID snowflake.ID) error
	StartProduction(ctx context.Context, orderID snowflake.ID, providerID snowflake.ID, estimatedDays *int) error
	SubmitProof(ctx context.Context, req SubmitProofRequest) (*ProductionProof, error)

	ApproveProof(ctx context.Context, req ProofDecisionRequest) error
	RejectProof(ctx context.Context, req ProofDecisionRequest) error
	RequestRevision(ctx context.Context, req ProofDecisionRequest) error

	MarkReadyForDelivery(ctx context.Context, orderID snowflake.ID, providerID snowflake.ID) error
	MarkShipped(ctx context.Context, orderID snowflake.ID, providerID snowflake.ID, trackingNumber, carrier string) error

	// ConfirmDelivery is the terminal success transition. The orchestrating
	// caller is responsible for invoking the escrow release afterwards.
	ConfirmDelivery(ctx context.Context, orderID snowflake.ID, customerID snowflake.ID, notes string) error

	// Cancel moves any non-terminal order to cancelled.
	Cancel(ctx context.Context, orderID snowflake.ID, actorID snowflake.ID, reason string) error

	// AdminOverride is the audited administrative escape hatch. It still goes
	// through the conditional-update and timeline discipline, so status and
	// timestamps cannot silently desynchronize.
	AdminOverride(ctx context.Context, req AdminOverrideRequest) error

	GetOrder(ctx context.Context, orderID snowflake.ID) (*ProductionOrder, error)
	GetProofs(ctx context.Context, orderID snowflake.ID) ([]ProductionProof, error)
}

var (
	ErrInvalidInput     = errors.New("invalid_input")
	ErrInvalidState     = errors.New("invalid_state")
	ErrNotFound         = errors.New("not_found")
	ErrForbidden        = errors.New("forbidden")
	ErrAlreadyProcessed = errors.New("already_processed")

	// ErrPartialFailure means the status write landed but the timeline
	// append failed; the audit trail needs manual reconciliation.
	ErrPartialFailure = errors.New("partial_failure")
)
