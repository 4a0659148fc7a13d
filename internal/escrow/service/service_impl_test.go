package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/craftlane/craftlane/internal/clock"
	"github.com/craftlane/craftlane/internal/config"
	"github.com/craftlane/craftlane/internal/escrow/domain"
	"github.com/craftlane/craftlane/internal/notifier"
	orderdomain "github.com/craftlane/craftlane/internal/order/domain"
	timelinedomain "github.com/craftlane/craftlane/internal/timeline/domain"
	timelinerepo "github.com/craftlane/craftlane/internal/timeline/repository"
	timelinesvc "github.com/craftlane/craftlane/internal/timeline/service"
	walletdomain "github.com/craftlane/craftlane/internal/wallet/domain"
	walletrepo "github.com/craftlane/craftlane/internal/wallet/repository"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	db    *gorm.DB
	node  *snowflake.Node
	clk   *clock.FakeClock
	svc   domain.Service
	wsvc  walletdomain.Repository
	tsvc  timelinedomain.Service
	start time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&domain.EscrowHold{},
		&domain.RefundRequest{},
		&walletdomain.Wallet{},
		&walletdomain.Transaction{},
		&orderdomain.ProductionOrder{},
		&timelinedomain.TimelineEvent{},
	))

	// SQLite needs the unique index in place for ON CONFLICT to arbitrate.
	db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS ux_wallet_transactions_hold_type ON wallet_transactions(escrow_hold_id, tx_type)")

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(start)
	log := zap.NewNop()

	tsvc := timelinesvc.NewService(timelinesvc.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  timelinerepo.Provide(),
	})
	wrepo := walletrepo.Provide(walletrepo.Params{GenID: node})

	svc := NewService(Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Cfg: config.Config{
			Escrow: config.EscrowConfig{
				FeeRateBps:    1000,
				ExpiryHorizon: 14 * 24 * time.Hour,
			},
		},
		WalletRepo:  wrepo,
		TimelineSvc: tsvc,
		Notifier:    notifier.NoOpNotifier{},
	})

	return &testEnv{db: db, node: node, clk: clk, svc: svc, wsvc: wrepo, tsvc: tsvc, start: start}
}

func (e *testEnv) seedOrder(t *testing.T, customerID, providerID snowflake.ID) snowflake.ID {
	t.Helper()
	ord := orderdomain.ProductionOrder{
		ID:            e.node.Generate(),
		CustomerID:    customerID,
		ProviderID:    providerID,
		EscrowAmount:  25000,
		Currency:      "USD",
		Status:        orderdomain.StatusPendingOrderReceived,
		PaymentStatus: "paid",
		CreatedAt:     e.clk.Now(),
		UpdatedAt:     e.clk.Now(),
	}
	require.NoError(t, e.db.Create(&ord).Error)
	return ord.ID
}

func (e *testEnv) createHold(t *testing.T, orderID, customerID, providerID snowflake.ID, amount int64) *domain.EscrowHold {
	t.Helper()
	hold, err := e.svc.CreateHold(context.Background(), domain.CreateHoldRequest{
		OrderID:    orderID,
		CustomerID: customerID,
		ProviderID: providerID,
		Amount:     amount,
		Currency:   "USD",
		PaymentRef: "pay_test",
	})
	require.NoError(t, err)
	return hold
}

func TestCreateHold_FeeMath(t *testing.T) {
	env := newTestEnv(t)
	customerID := env.node.Generate()
	providerID := env.node.Generate()
	orderID := env.seedOrder(t, customerID, providerID)

	hold := env.createHold(t, orderID, customerID, providerID, 25000)

	assert.Equal(t, int64(25000), hold.Amount)
	assert.Equal(t, int64(2500), hold.PlatformFee)
	assert.Equal(t, int64(22500), hold.ProviderPayout)
	assert.Equal(t, int64(1000), hold.FeeRateBps)
	assert.Equal(t, domain.HoldStatusHeld, hold.Status)
	assert.Equal(t, env.start.Add(14*24*time.Hour), hold.ExpiresAt)

	var ord orderdomain.ProductionOrder
	require.NoError(t, env.db.First(&ord, "id = ?", orderID).Error)
	assert.Equal(t, "held", ord.EscrowStatus)

	// A retried payment webhook must not create a second hold.
	_, err := env.svc.CreateHold(context.Background(), domain.CreateHoldRequest{
		OrderID:    orderID,
		CustomerID: customerID,
		ProviderID: providerID,
		Amount:     25000,
		Currency:   "USD",
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)

	var count int64
	env.db.Model(&domain.EscrowHold{}).Where("order_id = ?", orderID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestCreateHold_Validation(t *testing.T) {
	env := newTestEnv(t)
	id := env.node.Generate()

	_, err := env.svc.CreateHold(context.Background(), domain.CreateHoldRequest{
		OrderID: id, CustomerID: id, ProviderID: id, Amount: 0, Currency: "USD",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = env.svc.CreateHold(context.Background(), domain.CreateHoldRequest{
		OrderID: 0, CustomerID: id, ProviderID: id, Amount: 100, Currency: "USD",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRelease_ExactlyOnePayout(t *testing.T) {
	env := newTestEnv(t)
	customerID := env.node.Generate()
	providerID := env.node.Generate()
	orderID := env.seedOrder(t, customerID, providerID)
	hold := env.createHold(t, orderID, customerID, providerID, 25000)

	require.NoError(t, env.svc.Release(context.Background(), hold.ID, orderID))

	var stored domain.EscrowHold
	require.NoError(t, env.db.First(&stored, "id = ?", hold.ID).Error)
	assert.Equal(t, domain.HoldStatusReleased, stored.Status)
	assert.NotNil(t, stored.ReleasedAt)

	var wallet walletdomain.Wallet
	require.NoError(t, env.db.First(&wallet, "user_id = ?", providerID).Error)
	assert.Equal(t, int64(22500), wallet.Balance)

	// A second release reports already-processed and moves no money.
	err := env.svc.Release(context.Background(), hold.ID, orderID)
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)

	require.NoError(t, env.db.First(&wallet, "user_id = ?", providerID).Error)
	assert.Equal(t, int64(22500), wallet.Balance)

	var txns int64
	env.db.Model(&walletdomain.Transaction{}).Where("escrow_hold_id = ?", hold.ID).Count(&txns)
	assert.Equal(t, int64(1), txns)
}

func TestRelease_ConcurrentCallers(t *testing.T) {
	env := newTestEnv(t)
	customerID := env.node.Generate()
	providerID := env.node.Generate()
	orderID := env.seedOrder(t, customerID, providerID)
	hold := env.createHold(t, orderID, customerID, providerID, 25000)

	// A single connection keeps sqlite cooperative while both callers race
	// for the conditional update.
	sqlDB, err := env.db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = env.svc.Release(context.Background(), hold.ID, orderID)
		}(i)
	}
	wg.Wait()

	var winners, duplicates int
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, domain.ErrAlreadyProcessed):
			duplicates++
		default:
			t.Fatalf("unexpected release error: %v", err)
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, duplicates)

	var txns int64
	env.db.Model(&walletdomain.Transaction{}).Where("escrow_hold_id = ?", hold.ID).Count(&txns)
	assert.Equal(t, int64(1), txns)

	var wallet walletdomain.Wallet
	require.NoError(t, env.db.First(&wallet, "user_id = ?", providerID).Error)
	assert.Equal(t, int64(22500), wallet.Balance)
}

func TestRelease_WrongOrder(t *testing.T) {
	env := newTestEnv(t)
	customerID := env.node.Generate()
	providerID := env.node.Generate()
	orderID := env.seedOrder(t, customerID, providerID)
	hold := env.createHold(t, orderID, customerID, providerID, 10000)

	err := env.svc.Release(context.Background(), hold.ID, env.node.Generate())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRefundFlow(t *testing.T) {
	env := newTestEnv(t)
	customerID := env.node.Generate()
	providerID := env.node.Generate()
	orderID := env.seedOrder(t, customerID, providerID)
	hold := env.createHold(t, orderID, customerID, providerID, 25000)
	adminID := env.node.Generate()

	_, err := env.svc.RequestRefund(context.Background(), domain.RequestRefundRequest{
		OrderID: orderID, HoldID: hold.ID, Amount: 30000, Reason: "too much", RequestedBy: customerID,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	refund, err := env.svc.RequestRefund(context.Background(), domain.RequestRefundRequest{
		OrderID:     orderID,
		HoldID:      hold.ID,
		Amount:      25000,
		Reason:      "damaged in production",
		RequestedBy: customerID,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusPending, refund.Status)

	var ord orderdomain.ProductionOrder
	require.NoError(t, env.db.First(&ord, "id = ?", orderID).Error)
	assert.True(t, ord.RefundRequested)

	require.NoError(t, env.svc.ProcessRefund(context.Background(), domain.ProcessRefundRequest{
		RefundID:   refund.ID,
		ApprovedBy: adminID,
		PaymentRef: "re_123",
	}))

	var stored domain.EscrowHold
	require.NoError(t, env.db.First(&stored, "id = ?", hold.ID).Error)
	assert.Equal(t, domain.HoldStatusRefunded, stored.Status)

	var wallet walletdomain.Wallet
	require.NoError(t, env.db.First(&wallet, "user_id = ?", customerID).Error)
	assert.Equal(t, int64(25000), wallet.Balance)

	require.NoError(t, env.db.First(&ord, "id = ?", orderID).Error)
	assert.Equal(t, "refunded", ord.EscrowStatus)
	assert.Equal(t, "refunded", ord.PaymentStatus)

	// The refunded hold is terminal for both operations.
	assert.ErrorIs(t, env.svc.ProcessRefund(context.Background(), domain.ProcessRefundRequest{
		RefundID: refund.ID, ApprovedBy: adminID,
	}), domain.ErrAlreadyProcessed)
	assert.ErrorIs(t, env.svc.Release(context.Background(), hold.ID, orderID), domain.ErrAlreadyProcessed)

	// The provider never got paid.
	var providerWallets int64
	env.db.Model(&walletdomain.Wallet{}).Where("user_id = ?", providerID).Count(&providerWallets)
	assert.Equal(t, int64(0), providerWallets)
}

func TestRequestRefund_AfterRelease(t *testing.T) {
	env := newTestEnv(t)
	customerID := env.node.Generate()
	providerID := env.node.Generate()
	orderID := env.seedOrder(t, customerID, providerID)
	hold := env.createHold(t, orderID, customerID, providerID, 10000)

	require.NoError(t, env.svc.Release(context.Background(), hold.ID, orderID))

	_, err := env.svc.RequestRefund(context.Background(), domain.RequestRefundRequest{
		OrderID: orderID, HoldID: hold.ID, Amount: 10000, Reason: "changed my mind", RequestedBy: customerID,
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
}

func TestExpireOverdueHolds(t *testing.T) {
	env := newTestEnv(t)
	customerID := env.node.Generate()
	providerID := env.node.Generate()

	orderA := env.seedOrder(t, customerID, providerID)
	orderB := env.seedOrder(t, customerID, providerID)
	holdA := env.createHold(t, orderA, customerID, providerID, 10000)
	holdB := env.createHold(t, orderB, customerID, providerID, 20000)

	// Nothing is due yet.
	processed, err := env.svc.ExpireOverdueHolds(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	env.clk.Advance(15 * 24 * time.Hour)

	processed, err = env.svc.ExpireOverdueHolds(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	for _, holdID := range []snowflake.ID{holdA.ID, holdB.ID} {
		var stored domain.EscrowHold
		require.NoError(t, env.db.First(&stored, "id = ?", holdID).Error)
		assert.Equal(t, domain.HoldStatusExpired, stored.Status)
	}

	// The order read model reports the expiry route, not a manual release.
	for _, orderID := range []snowflake.ID{orderA, orderB} {
		var ord orderdomain.ProductionOrder
		require.NoError(t, env.db.First(&ord, "id = ?", orderID).Error)
		assert.Equal(t, "expired", ord.EscrowStatus)
	}

	var wallet walletdomain.Wallet
	require.NoError(t, env.db.First(&wallet, "user_id = ?", providerID).Error)
	assert.Equal(t, int64(9000+18000), wallet.Balance)

	var events int64
	env.db.Model(&timelinedomain.TimelineEvent{}).
		Where("event_type = ?", string(timelinedomain.EventEscrowExpired)).
		Count(&events)
	assert.Equal(t, int64(2), events)

	// The sweep is idempotent; a second pass finds nothing.
	processed, err = env.svc.ExpireOverdueHolds(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	require.NoError(t, env.db.First(&wallet, "user_id = ?", providerID).Error)
	assert.Equal(t, int64(27000), wallet.Balance)
}

func TestExpireOverdueHolds_BatchLimit(t *testing.T) {
	env := newTestEnv(t)
	customerID := env.node.Generate()
	providerID := env.node.Generate()

	for i := 0; i < 3; i++ {
		orderID := env.seedOrder(t, customerID, providerID)
		env.createHold(t, orderID, customerID, providerID, 10000)
	}
	env.clk.Advance(15 * 24 * time.Hour)

	processed, err := env.svc.ExpireOverdueHolds(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	processed, err = env.svc.ExpireOverdueHolds(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
}

func TestGetStatus(t *testing.T) {
	env := newTestEnv(t)
	customerID := env.node.Generate()
	providerID := env.node.Generate()
	orderID := env.seedOrder(t, customerID, providerID)
	hold := env.createHold(t, orderID, customerID, providerID, 25000)

	view, err := env.svc.GetStatus(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, hold.ID, view.HoldID)
	assert.True(t, view.CanRelease)
	assert.Equal(t, 14, view.DaysUntilExpiry)
	assert.Equal(t, int64(2500), view.PlatformFee)

	env.clk.Advance(10 * 24 * time.Hour)
	view, err = env.svc.GetStatus(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, 4, view.DaysUntilExpiry)

	require.NoError(t, env.svc.Release(context.Background(), hold.ID, orderID))
	view, err = env.svc.GetStatus(context.Background(), orderID)
	require.NoError(t, err)
	assert.False(t, view.CanRelease)
	assert.Equal(t, domain.HoldStatusReleased, view.Status)

	_, err = env.svc.GetStatus(context.Background(), env.node.Generate())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
