package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	escrowdomain "github.com/craftlane/craftlane/internal/escrow/domain"
	orderdomain "github.com/craftlane/craftlane/internal/order/domain"
)

// ConfirmBookingRequest carries the payment confirmation for a booking that
// requires custom production. PaymentRef is the processor's confirmation id.
type ConfirmBookingRequest struct {
	CustomerID           snowflake.ID
	ProviderID           snowflake.ID
	ListingID            *snowflake.ID
	Amount               int64
	Currency             string
	PaymentRef           string
	RequiresConsultation bool
}

type ConfirmBookingResponse struct {
	Order *orderdomain.ProductionOrder `json:"order"`
	Hold  *escrowdomain.EscrowHold     `json:"hold"`
}

type Service interface {
	// ConfirmBooking creates the production order and its escrow hold
	// together. If the hold cannot be created the order is cancelled so the
	// pair never diverges.
	ConfirmBooking(ctx context.Context, req ConfirmBookingRequest) (*ConfirmBookingResponse, error)
}

var (
	ErrInvalidInput = errors.New("invalid_input")
)
