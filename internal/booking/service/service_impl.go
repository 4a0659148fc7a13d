package service

import (
	"context"
	"strings"

	"github.com/craftlane/craftlane/internal/booking/domain"
	escrowdomain "github.com/craftlane/craftlane/internal/escrow/domain"
	orderdomain "github.com/craftlane/craftlane/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	OrderSvc  orderdomain.Service
	EscrowSvc escrowdomain.Service
}

type Service struct {
	log       *zap.Logger
	orderSvc  orderdomain.Service
	escrowSvc escrowdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		log:       p.Log.Named("booking.service"),
		orderSvc:  p.OrderSvc,
		escrowSvc: p.EscrowSvc,
	}
}

func (s *Service) ConfirmBooking(ctx context.Context, req domain.ConfirmBookingRequest) (*domain.ConfirmBookingResponse, error) {
	if req.CustomerID == 0 || req.ProviderID == 0 {
		return nil, domain.ErrInvalidInput
	}
	if req.Amount <= 0 {
		return nil, escrowdomain.ErrInvalidAmount
	}
	if strings.TrimSpace(req.PaymentRef) == "" {
		return nil, domain.ErrInvalidInput
	}

	ord, err := s.orderSvc.CreateOrder(ctx, orderdomain.CreateOrderRequest{
		CustomerID:           req.CustomerID,
		ProviderID:           req.ProviderID,
		ListingID:            req.ListingID,
		EscrowAmount:         req.Amount,
		Currency:             req.Currency,
		RequiresConsultation: req.RequiresConsultation,
	})
	if err != nil {
		return nil, err
	}

	hold, err := s.escrowSvc.CreateHold(ctx, escrowdomain.CreateHoldRequest{
		OrderID:    ord.ID,
		CustomerID: req.CustomerID,
		ProviderID: req.ProviderID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		PaymentRef: req.PaymentRef,
	})
	if err != nil {
		// The order must not exist without its hold; cancel it so the pair
		// never diverges. Cancellation failure still surfaces the original
		// error.
		if cancelErr := s.orderSvc.Cancel(ctx, ord.ID, req.CustomerID, "escrow hold creation failed"); cancelErr != nil {
			s.log.Error("failed to cancel order after hold creation failure",
				zap.String("order_id", ord.ID.String()),
				zap.Error(cancelErr),
			)
		}
		return nil, err
	}

	s.log.Info("booking confirmed",
		zap.String("order_id", ord.ID.String()),
		zap.String("hold_id", hold.ID.String()),
		zap.Int64("amount", hold.Amount),
	)
	return &domain.ConfirmBookingResponse{Order: ord, Hold: hold}, nil
}
