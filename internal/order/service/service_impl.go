package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/craftlane/craftlane/internal/clock"
	"github.com/craftlane/craftlane/internal/notifier"
	obsmetrics "github.com/craftlane/craftlane/internal/observability/metrics"
	"github.com/craftlane/craftlane/internal/order/domain"
	timelinedomain "github.com/craftlane/craftlane/internal/timeline/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	TimelineSvc timelinedomain.Service
	Notifier    notifier.Notifier
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	timelineSvc timelinedomain.Service
	notifier    notifier.Notifier
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("order.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		timelineSvc: p.TimelineSvc,
		notifier:    p.Notifier,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *Service) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.ProductionOrder, error) {
	if req.CustomerID == 0 || req.ProviderID == 0 {
		return nil, domain.ErrInvalidInput
	}
	if req.EscrowAmount <= 0 {
		return nil, domain.ErrInvalidInput
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return nil, domain.ErrInvalidInput
	}

	status := domain.StatusPendingOrderReceived
	if req.RequiresConsultation {
		status = domain.StatusPendingConsultation
	}

	now := s.clock.Now()
	ord := domain.ProductionOrder{
		ID:            s.genID.Generate(),
		CustomerID:    req.CustomerID,
		ProviderID:    req.ProviderID,
		ListingID:     req.ListingID,
		EscrowAmount:  req.EscrowAmount,
		Currency:      currency,
		Status:        status,
		PaymentStatus: "paid",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.db.WithContext(ctx).Exec(
		`INSERT INTO orders (
			id, customer_id, provider_id, listing_id, escrow_amount, final_price,
			currency, status, escrow_status, payment_status, refund_requested,
			tracking_number, carrier, cancel_reason, delivery_confirmed_by_customer,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, NULL, ?, ?, '', ?, ?, '', '', '', ?, ?, ?)`,
		ord.ID,
		ord.CustomerID,
		ord.ProviderID,
		ord.ListingID,
		ord.EscrowAmount,
		ord.Currency,
		string(ord.Status),
		ord.PaymentStatus,
		false,
		false,
		ord.CreatedAt,
		ord.UpdatedAt,
	).Error; err != nil {
		return nil, err
	}

	if _, err := s.timelineSvc.Append(ctx, ord.ID, timelinedomain.EventOrderCreated, req.CustomerID, map[string]any{
		"escrow_amount": ord.EscrowAmount,
		"currency":      ord.Currency,
		"initial_state": string(ord.Status),
	}); err != nil {
		return nil, s.partialFailure("create_order", ord.ID, err)
	}
	return &ord, nil
}

func (s *Service) CompleteConsultation(ctx context.Context, orderID snowflake.ID, providerID snowflake.ID) error {
	ord, err := s.loadProviderOrder(ctx, orderID, providerID)
	if err != nil {
		return err
	}
	if ord.Status != domain.StatusPendingConsultation {
		return domain.ErrInvalidState
	}
	return s.transition(ctx, ord, domain.StatusPendingOrderReceived, nil,
		timelinedomain.EventConsultationCompleted, providerID, nil, "", 0)
}

func (s *Service) ReceiveOrder(ctx context.Context, orderID snowflake.ID, providerID snowflake.ID) error {
	ord, err := s.loadProviderOrder(ctx, orderID, providerID)
	if err != nil {
		return err
	}
	if ord.Status != domain.StatusPendingOrderReceived {
		return domain.ErrInvalidState
	}
	return s.transition(ctx, ord, domain.StatusOrderReceived,
		map[string]any{"order_received_at": s.clock.Now()},
		timelinedomain.EventOrderReceived, providerID, nil, "", 0)
}

func (s *Service) StartProduction(ctx context.Context, orderID snowflake.ID, providerID snowflake.ID, estimatedDays *int) error {
	ord, err := s.loadProviderOrder(ctx, orderID, providerID)
	if err != nil {
		return err
	}
	if ord.Status != domain.StatusOrderReceived {
		return domain.ErrInvalidState
	}

	now := s.clock.Now()
	set := map[string]any{"production_started_at": now}
	metadata := map[string]any{}
	if estimatedDays != nil && *estimatedDays > 0 {
		estimate := now.Add(time.Duration(*estimatedDays) * 24 * time.Hour)
		set["estimated_completion_at"] = estimate
		metadata["estimated_completion_at"] = estimate.Format(time.RFC3339)
	}
	return s.transition(ctx, ord, domain.StatusInProduction, set,
		timelinedomain.EventProductionStarted, providerID, metadata,
		notifier.EventProductionStarted, ord.CustomerID)
}

func (s *Service) MarkReadyForDelivery(ctx context.Context, orderID snowflake.ID, providerID snowflake.ID) error {
	ord, err := s.loadProviderOrder(ctx, orderID, providerID)
	if err != nil {
		return err
	}
	if ord.Status != domain.StatusPendingApproval {
		return domain.ErrInvalidState
	}
	latest, err := s.latestProof(ctx, orderID)
	if err != nil {
		return err
	}
	if latest == nil || latest.Status != domain.ProofStatusApproved {
		return domain.ErrInvalidState
	}
	return s.transition(ctx, ord, domain.StatusReadyForDelivery,
		map[string]any{"ready_for_delivery_at": s.clock.Now()},
		timelinedomain.EventReadyForDelivery, providerID, nil,
		notifier.EventReadyForDelivery, ord.CustomerID)
}

func (s *Service) MarkShipped(ctx context.Context, orderID snowflake.ID, providerID snowflake.ID, trackingNumber, carrier string) error {
	ord, err := s.loadProviderOrder(ctx, orderID, providerID)
	if err != nil {
		return err
	}
	if ord.Status != domain.StatusReadyForDelivery {
		return domain.ErrInvalidState
	}

	trackingNumber = strings.TrimSpace(trackingNumber)
	carrier = strings.TrimSpace(carrier)
	set := map[string]any{
		"shipped_at":      s.clock.Now(),
		"tracking_number": trackingNumber,
		"carrier":         carrier,
	}
	metadata := map[string]any{}
	if trackingNumber != "" {
		metadata["tracking_number"] = trackingNumber
		metadata["carrier"] = carrier
	}

	notifyEvent := ""
	var notifyRecipient snowflake.ID
	if trackingNumber != "" {
		notifyEvent = notifier.EventOrderShipped
		notifyRecipient = ord.CustomerID
	}
	return s.transition(ctx, ord, domain.StatusShipped, set,
		timelinedomain.EventOrderShipped, providerID, metadata,
		notifyEvent, notifyRecipient)
}

func (s *Service) ConfirmDelivery(ctx context.Context, orderID snowflake.ID, customerID snowflake.ID, notes string) error {
	ord, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if ord.CustomerID != customerID {
		return domain.ErrForbidden
	}
	if ord.Status != domain.StatusShipped {
		return domain.ErrInvalidState
	}

	metadata := map[string]any{}
	if notes = strings.TrimSpace(notes); notes != "" {
		metadata["notes"] = notes
	}
	return s.transition(ctx, ord, domain.StatusCompleted,
		map[string]any{
			"delivered_at":                   s.clock.Now(),
			"delivery_confirmed_by_customer": true,
		},
		timelinedomain.EventDeliveryConfirmed, customerID, metadata, "", 0)
}

func (s *Service) Cancel(ctx context.Context, orderID snowflake.ID, actorID snowflake.ID, reason string) error {
	ord, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if ord.Status.Terminal() {
		return domain.ErrInvalidState
	}

	reason = strings.TrimSpace(reason)
	return s.transition(ctx, ord, domain.StatusCancelled,
		map[string]any{
			"cancelled_at":  s.clock.Now(),
			"cancel_reason": reason,
		},
		timelinedomain.EventOrderCancelled, actorID, map[string]any{"reason": reason},
		notifier.EventOrderCancelled, ord.CustomerID)
}

func (s *Service) AdminOverride(ctx context.Context, req domain.AdminOverrideRequest) error {
	if req.ActorID == 0 {
		return domain.ErrInvalidInput
	}
	if strings.TrimSpace(req.Reason) == "" {
		return domain.ErrInvalidInput
	}
	if !req.NewStatus.Valid() {
		return domain.ErrInvalidInput
	}

	ord, err := s.loadOrder(ctx, req.OrderID)
	if err != nil {
		return err
	}
	if ord.Status == req.NewStatus {
		return domain.ErrInvalidState
	}

	now := s.clock.Now()
	set := map[string]any{}
	if column := milestoneColumn(req.NewStatus); column != "" {
		// Milestones are append-only; an override never rewrites one that
		// was already set.
		set[column] = gorm.Expr("COALESCE("+column+", ?)", now)
	}
	return s.transition(ctx, ord, req.NewStatus, set,
		timelinedomain.EventStatusOverridden, req.ActorID, map[string]any{
			"from":   string(ord.Status),
			"to":     string(req.NewStatus),
			"reason": strings.TrimSpace(req.Reason),
		}, "", 0)
}

func (s *Service) GetOrder(ctx context.Context, orderID snowflake.ID) (*domain.ProductionOrder, error) {
	return s.loadOrder(ctx, orderID)
}

// transition performs the conditional status update, the timeline append and
// the best-effort notification shared by every lifecycle operation. The
// loaded status in the WHERE clause is the concurrency guard: zero rows
// affected means a concurrent transition won.
func (s *Service) transition(
	ctx context.Context,
	ord *domain.ProductionOrder,
	target domain.OrderStatus,
	set map[string]any,
	eventType timelinedomain.EventType,
	actorID snowflake.ID,
	metadata map[string]any,
	notifyEvent string,
	notifyRecipient snowflake.ID,
) error {

	updates := map[string]any{
		"status":     string(target),
		"updated_at": s.clock.Now(),
	}
	for column, value := range set {
		updates[column] = value
	}

	res := s.db.WithContext(ctx).
		Model(&domain.ProductionOrder{}).
		Where("id = ? AND status = ?", ord.ID, string(ord.Status)).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrAlreadyProcessed
	}

	if _, err := s.timelineSvc.Append(ctx, ord.ID, eventType, actorID, metadata); err != nil {
		return s.partialFailure(string(eventType), ord.ID, err)
	}

	if notifyEvent != "" {
		payload := map[string]any{"order_id": ord.ID.String()}
		for key, value := range metadata {
			payload[key] = value
		}
		notifier.BestEffort(ctx, s.log, s.notifier, notifyEvent, notifyRecipient, payload)
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordTransition(string(eventType))
	}
	return nil
}

func (s *Service) loadOrder(ctx context.Context, orderID snowflake.ID) (*domain.ProductionOrder, error) {
	if orderID == 0 {
		return nil, domain.ErrInvalidInput
	}
	var orders []domain.ProductionOrder
	if err := s.db.WithContext(ctx).
		Where("id = ?", orderID).
		Limit(1).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, domain.ErrNotFound
	}
	return &orders[0], nil
}

func (s *Service) loadProviderOrder(ctx context.Context, orderID snowflake.ID, providerID snowflake.ID) (*domain.ProductionOrder, error) {
	ord, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if providerID == 0 || ord.ProviderID != providerID {
		return nil, domain.ErrForbidden
	}
	return ord, nil
}

func (s *Service) partialFailure(operation string, orderID snowflake.ID, err error) error {
	s.log.Error("timeline append failed after status write",
		zap.String("operation", operation),
		zap.String("order_id", orderID.String()),
		zap.Error(err),
	)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordPartialFailure(operation)
	}
	return fmt.Errorf("%s: %v: %w", operation, err, domain.ErrPartialFailure)
}

func milestoneColumn(status domain.OrderStatus) string {
	switch status {
	case domain.StatusOrderReceived:
		return "order_received_at"
	case domain.StatusInProduction:
		return "production_started_at"
	case domain.StatusPendingApproval:
		return "proofs_submitted_at"
	case domain.StatusReadyForDelivery:
		return "ready_for_delivery_at"
	case domain.StatusShipped:
		return "shipped_at"
	case domain.StatusCompleted:
		return "delivered_at"
	case domain.StatusCancelled:
		return "cancelled_at"
	}
	return ""
}
