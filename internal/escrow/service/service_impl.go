package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/craftlane/craftlane/internal/clock"
	"github.com/craftlane/craftlane/internal/config"
	"github.com/craftlane/craftlane/internal/escrow/domain"
	"github.com/craftlane/craftlane/internal/notifier"
	obsmetrics "github.com/craftlane/craftlane/internal/observability/metrics"
	timelinedomain "github.com/craftlane/craftlane/internal/timeline/domain"
	walletdomain "github.com/craftlane/craftlane/internal/wallet/domain"
	pkgdb "github.com/craftlane/craftlane/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	ReleaseTriggerManual = "manual"
	ReleaseTriggerExpiry = "expiry"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Cfg         config.Config
	WalletRepo  walletdomain.Repository
	TimelineSvc timelinedomain.Service
	Notifier    notifier.Notifier
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	cfg         config.EscrowConfig
	walletRepo  walletdomain.Repository
	timelineSvc timelinedomain.Service
	notifier    notifier.Notifier
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("escrow.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		cfg:         p.Cfg.Escrow,
		walletRepo:  p.WalletRepo,
		timelineSvc: p.TimelineSvc,
		notifier:    p.Notifier,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *Service) CreateHold(ctx context.Context, req domain.CreateHoldRequest) (*domain.EscrowHold, error) {
	if req.OrderID == 0 || req.CustomerID == 0 || req.ProviderID == 0 {
		return nil, domain.ErrInvalidInput
	}
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return nil, domain.ErrInvalidInput
	}

	now := s.clock.Now()
	fee := req.Amount * s.cfg.FeeRateBps / 10_000
	hold := domain.EscrowHold{
		ID:             s.genID.Generate(),
		OrderID:        req.OrderID,
		CustomerID:     req.CustomerID,
		ProviderID:     req.ProviderID,
		Amount:         req.Amount,
		PlatformFee:    fee,
		ProviderPayout: req.Amount - fee,
		FeeRateBps:     s.cfg.FeeRateBps,
		Currency:       currency,
		Status:         domain.HoldStatusHeld,
		PaymentRef:     strings.TrimSpace(req.PaymentRef),
		HeldAt:         now,
		ExpiresAt:      now.Add(s.cfg.ExpiryHorizon),
	}

	res := s.db.WithContext(ctx).Exec(
		`INSERT INTO escrow_holds (
			id, order_id, customer_id, provider_id, amount, platform_fee,
			provider_payout, fee_rate_bps, currency, status, payment_ref,
			held_at, released_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)
		ON CONFLICT (order_id) DO NOTHING`,
		hold.ID,
		hold.OrderID,
		hold.CustomerID,
		hold.ProviderID,
		hold.Amount,
		hold.PlatformFee,
		hold.ProviderPayout,
		hold.FeeRateBps,
		hold.Currency,
		string(hold.Status),
		hold.PaymentRef,
		hold.HeldAt,
		hold.ExpiresAt,
	)
	if res.Error != nil {
		if pkgdb.IsDuplicateKeyErr(res.Error) {
			return nil, domain.ErrAlreadyProcessed
		}
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, domain.ErrAlreadyProcessed
	}

	if err := s.db.WithContext(ctx).Exec(
		`UPDATE orders SET escrow_status = ?, updated_at = ? WHERE id = ?`,
		string(domain.HoldStatusHeld),
		now,
		req.OrderID,
	).Error; err != nil {
		return nil, s.partialFailure("create_hold", hold.ID, "order escrow status", err)
	}

	if _, err := s.timelineSvc.Append(ctx, req.OrderID, timelinedomain.EventEscrowHeld, req.CustomerID, map[string]any{
		"hold_id":     hold.ID.String(),
		"amount":      hold.Amount,
		"payment_ref": hold.PaymentRef,
		"expires_at":  hold.ExpiresAt.Format(time.RFC3339),
	}); err != nil {
		return nil, s.partialFailure("create_hold", hold.ID, "timeline append", err)
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordHoldCreated()
	}
	return &hold, nil
}

func (s *Service) Release(ctx context.Context, holdID snowflake.ID, orderID snowflake.ID) error {
	hold, err := s.loadHold(ctx, holdID)
	if err != nil {
		return err
	}
	if orderID != 0 && hold.OrderID != orderID {
		return domain.ErrNotFound
	}
	return s.settle(ctx, hold, domain.HoldStatusReleased, ReleaseTriggerManual)
}

// settle moves a held hold to its terminal payout status and pays the
// provider. The conditional update in step one is the only concurrency guard;
// everything after it is idempotent and re-driveable.
func (s *Service) settle(ctx context.Context, hold *domain.EscrowHold, target domain.HoldStatus, trigger string) error {
	now := s.clock.Now()

	res := s.db.WithContext(ctx).Exec(
		`UPDATE escrow_holds
		 SET status = ?, released_at = ?
		 WHERE id = ? AND status = ?`,
		string(target),
		now,
		hold.ID,
		string(domain.HoldStatusHeld),
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrAlreadyProcessed
	}

	if err := s.db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET escrow_status = ?, escrow_released_at = ?, updated_at = ?
		 WHERE id = ? AND escrow_released_at IS NULL`,
		string(target),
		now,
		now,
		hold.OrderID,
	).Error; err != nil {
		return s.partialFailure("release", hold.ID, "order escrow status", err)
	}

	wallet, err := s.walletRepo.EnsureWallet(ctx, s.db, hold.ProviderID, hold.Currency, now)
	if err != nil {
		return s.partialFailure("release", hold.ID, "provider wallet", err)
	}

	holdID := hold.ID
	orderID := hold.OrderID
	inserted, err := s.walletRepo.InsertHoldTransaction(ctx, s.db, &walletdomain.Transaction{
		ID:           s.genID.Generate(),
		WalletID:     wallet.ID,
		Type:         walletdomain.TransactionTypePayout,
		Status:       walletdomain.TransactionStatusCompleted,
		Amount:       hold.ProviderPayout,
		Currency:     hold.Currency,
		OrderID:      &orderID,
		EscrowHoldID: &holdID,
		Description:  "Escrow payout",
		CreatedAt:    now,
	})
	if err != nil {
		return s.partialFailure("release", hold.ID, "payout transaction", err)
	}
	if inserted {
		if err := s.walletRepo.AddBalance(ctx, s.db, wallet.ID, hold.ProviderPayout, now); err != nil {
			return s.partialFailure("release", hold.ID, "wallet balance", err)
		}
	}

	eventType := timelinedomain.EventEscrowReleased
	if target == domain.HoldStatusExpired {
		eventType = timelinedomain.EventEscrowExpired
	}
	if _, err := s.timelineSvc.Append(ctx, hold.OrderID, eventType, hold.ProviderID, map[string]any{
		"hold_id": hold.ID.String(),
		"amount":  hold.ProviderPayout,
		"trigger": trigger,
	}); err != nil {
		return s.partialFailure("release", hold.ID, "timeline append", err)
	}

	notifier.BestEffort(ctx, s.log, s.notifier, notifier.EventEscrowReleased, hold.ProviderID, map[string]any{
		"order_id": hold.OrderID.String(),
		"amount":   hold.ProviderPayout,
		"currency": hold.Currency,
	})

	if s.obsMetrics != nil {
		s.obsMetrics.RecordHoldReleased(trigger)
	}
	return nil
}

func (s *Service) RequestRefund(ctx context.Context, req domain.RequestRefundRequest) (*domain.RefundRequest, error) {
	if req.OrderID == 0 || req.HoldID == 0 || req.RequestedBy == 0 {
		return nil, domain.ErrInvalidInput
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, domain.ErrInvalidInput
	}

	hold, err := s.loadHold(ctx, req.HoldID)
	if err != nil {
		return nil, err
	}
	if hold.OrderID != req.OrderID {
		return nil, domain.ErrNotFound
	}
	if hold.Status != domain.HoldStatusHeld {
		return nil, domain.ErrAlreadyProcessed
	}
	if req.Amount <= 0 || req.Amount > hold.Amount {
		return nil, domain.ErrInvalidAmount
	}

	now := s.clock.Now()
	refund := domain.RefundRequest{
		ID:          s.genID.Generate(),
		OrderID:     req.OrderID,
		HoldID:      req.HoldID,
		Amount:      req.Amount,
		Reason:      strings.TrimSpace(req.Reason),
		Notes:       strings.TrimSpace(req.Notes),
		Status:      domain.RefundStatusPending,
		RequestedBy: req.RequestedBy,
		CreatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Exec(
		`INSERT INTO refund_requests (
			id, order_id, hold_id, amount, reason, notes, status,
			requested_by, approved_by, payment_ref, created_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, '', ?, NULL)`,
		refund.ID,
		refund.OrderID,
		refund.HoldID,
		refund.Amount,
		refund.Reason,
		refund.Notes,
		string(refund.Status),
		refund.RequestedBy,
		refund.CreatedAt,
	).Error; err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Exec(
		`UPDATE orders SET refund_requested = ?, updated_at = ? WHERE id = ?`,
		true,
		now,
		req.OrderID,
	).Error; err != nil {
		return nil, s.partialFailure("request_refund", req.HoldID, "order refund flag", err)
	}

	if _, err := s.timelineSvc.Append(ctx, req.OrderID, timelinedomain.EventRefundRequested, req.RequestedBy, map[string]any{
		"refund_id": refund.ID.String(),
		"hold_id":   req.HoldID.String(),
		"amount":    req.Amount,
		"reason":    refund.Reason,
	}); err != nil {
		return nil, s.partialFailure("request_refund", req.HoldID, "timeline append", err)
	}

	return &refund, nil
}

func (s *Service) ProcessRefund(ctx context.Context, req domain.ProcessRefundRequest) error {
	if req.RefundID == 0 || req.ApprovedBy == 0 {
		return domain.ErrInvalidInput
	}

	var refunds []domain.RefundRequest
	if err := s.db.WithContext(ctx).
		Where("id = ?", req.RefundID).
		Limit(1).
		Find(&refunds).Error; err != nil {
		return err
	}
	if len(refunds) == 0 {
		return domain.ErrNotFound
	}
	refund := refunds[0]
	if refund.Status != domain.RefundStatusPending {
		return domain.ErrAlreadyProcessed
	}

	hold, err := s.loadHold(ctx, refund.HoldID)
	if err != nil {
		return err
	}

	now := s.clock.Now()

	// The hold's held→refunded update is the commit point; losing the race
	// against a concurrent release means the refund can no longer happen.
	res := s.db.WithContext(ctx).Exec(
		`UPDATE escrow_holds
		 SET status = ?
		 WHERE id = ? AND status = ?`,
		string(domain.HoldStatusRefunded),
		hold.ID,
		string(domain.HoldStatusHeld),
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrAlreadyProcessed
	}

	if err := s.db.WithContext(ctx).Exec(
		`UPDATE refund_requests
		 SET status = ?, approved_by = ?, payment_ref = ?, processed_at = ?
		 WHERE id = ? AND status = ?`,
		string(domain.RefundStatusCompleted),
		req.ApprovedBy,
		strings.TrimSpace(req.PaymentRef),
		now,
		refund.ID,
		string(domain.RefundStatusPending),
	).Error; err != nil {
		return s.partialFailure("process_refund", hold.ID, "refund status", err)
	}

	if err := s.db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET escrow_status = ?, payment_status = ?, updated_at = ?
		 WHERE id = ?`,
		string(domain.HoldStatusRefunded),
		"refunded",
		now,
		refund.OrderID,
	).Error; err != nil {
		return s.partialFailure("process_refund", hold.ID, "order status", err)
	}

	wallet, err := s.walletRepo.EnsureWallet(ctx, s.db, hold.CustomerID, hold.Currency, now)
	if err != nil {
		return s.partialFailure("process_refund", hold.ID, "customer wallet", err)
	}

	holdID := hold.ID
	orderID := refund.OrderID
	refundID := refund.ID
	inserted, err := s.walletRepo.InsertHoldTransaction(ctx, s.db, &walletdomain.Transaction{
		ID:           s.genID.Generate(),
		WalletID:     wallet.ID,
		Type:         walletdomain.TransactionTypeRefund,
		Status:       walletdomain.TransactionStatusCompleted,
		Amount:       refund.Amount,
		Currency:     hold.Currency,
		OrderID:      &orderID,
		RefundID:     &refundID,
		EscrowHoldID: &holdID,
		Description:  "Escrow refund",
		CreatedAt:    now,
	})
	if err != nil {
		return s.partialFailure("process_refund", hold.ID, "refund transaction", err)
	}
	if inserted {
		if err := s.walletRepo.AddBalance(ctx, s.db, wallet.ID, refund.Amount, now); err != nil {
			return s.partialFailure("process_refund", hold.ID, "wallet balance", err)
		}
	}

	if _, err := s.timelineSvc.Append(ctx, refund.OrderID, timelinedomain.EventRefundProcessed, req.ApprovedBy, map[string]any{
		"refund_id": refund.ID.String(),
		"hold_id":   hold.ID.String(),
		"amount":    refund.Amount,
	}); err != nil {
		return s.partialFailure("process_refund", hold.ID, "timeline append", err)
	}

	notifier.BestEffort(ctx, s.log, s.notifier, notifier.EventRefundProcessed, hold.CustomerID, map[string]any{
		"order_id": refund.OrderID.String(),
		"amount":   refund.Amount,
		"currency": hold.Currency,
	})

	if s.obsMetrics != nil {
		s.obsMetrics.RecordRefundProcessed()
	}
	return nil
}

func (s *Service) ExpireOverdueHolds(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	now := s.clock.Now()

	var holds []domain.EscrowHold
	if err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", string(domain.HoldStatusHeld), now).
		Order("expires_at asc").
		Limit(batchSize).
		Find(&holds).Error; err != nil {
		return 0, err
	}

	processed := 0
	failed := 0
	for i := range holds {
		hold := holds[i]
		err := s.settle(ctx, &hold, domain.HoldStatusExpired, ReleaseTriggerExpiry)
		switch {
		case err == nil:
			processed++
		case errors.Is(err, domain.ErrAlreadyProcessed):
			// A concurrent release or refund won; nothing left to do.
		default:
			failed++
			s.log.Error("expiry sweep failed for hold",
				zap.String("hold_id", hold.ID.String()),
				zap.String("order_id", hold.OrderID.String()),
				zap.Error(err),
			)
		}
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordSweep(processed, failed)
	}
	if processed > 0 || failed > 0 {
		s.log.Info("expiry sweep finished",
			zap.Int("processed", processed),
			zap.Int("failed", failed),
		)
	}
	return processed, nil
}

func (s *Service) GetStatus(ctx context.Context, orderID snowflake.ID) (domain.StatusView, error) {
	if orderID == 0 {
		return domain.StatusView{}, domain.ErrInvalidInput
	}

	var holds []domain.EscrowHold
	if err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Limit(1).
		Find(&holds).Error; err != nil {
		return domain.StatusView{}, err
	}
	if len(holds) == 0 {
		return domain.StatusView{}, domain.ErrNotFound
	}
	hold := holds[0]

	view := domain.StatusView{
		HoldID:         hold.ID,
		Status:         hold.Status,
		Amount:         hold.Amount,
		PlatformFee:    hold.PlatformFee,
		ProviderPayout: hold.ProviderPayout,
		Currency:       hold.Currency,
		CanRelease:     hold.Status == domain.HoldStatusHeld,
		ExpiresAt:      hold.ExpiresAt,
	}
	if remaining := hold.ExpiresAt.Sub(s.clock.Now()); remaining > 0 {
		view.DaysUntilExpiry = int(remaining.Hours() / 24)
	}
	return view, nil
}

func (s *Service) loadHold(ctx context.Context, holdID snowflake.ID) (*domain.EscrowHold, error) {
	if holdID == 0 {
		return nil, domain.ErrInvalidInput
	}
	var holds []domain.EscrowHold
	if err := s.db.WithContext(ctx).
		Where("id = ?", holdID).
		Limit(1).
		Find(&holds).Error; err != nil {
		return nil, err
	}
	if len(holds) == 0 {
		return nil, domain.ErrNotFound
	}
	return &holds[0], nil
}

func (s *Service) partialFailure(operation string, holdID snowflake.ID, step string, err error) error {
	s.log.Error("dependent write failed after hold status moved",
		zap.String("operation", operation),
		zap.String("hold_id", holdID.String()),
		zap.String("step", step),
		zap.Error(err),
	)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordPartialFailure(operation)
	}
	return fmt.Errorf("%s: %v: %w", step, err, domain.ErrPartialFailure)
}
