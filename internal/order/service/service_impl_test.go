package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/craftlane/craftlane/internal/clock"
	"github.com/craftlane/craftlane/internal/notifier"
	"github.com/craftlane/craftlane/internal/order/domain"
	timelinedomain "github.com/craftlane/craftlane/internal/timeline/domain"
	timelinerepo "github.com/craftlane/craftlane/internal/timeline/repository"
	timelinesvc "github.com/craftlane/craftlane/internal/timeline/service"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	db   *gorm.DB
	node *snowflake.Node
	clk  *clock.FakeClock
	svc  domain.Service

	customerID snowflake.ID
	providerID snowflake.ID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&domain.ProductionOrder{},
		&domain.ProductionProof{},
		&timelinedomain.TimelineEvent{},
	))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	tsvc := timelinesvc.NewService(timelinesvc.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  timelinerepo.Provide(),
	})

	svc := NewService(Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		TimelineSvc: tsvc,
		Notifier:    notifier.NoOpNotifier{},
	})

	return &testEnv{
		db:         db,
		node:       node,
		clk:        clk,
		svc:        svc,
		customerID: node.Generate(),
		providerID: node.Generate(),
	}
}

func (e *testEnv) createOrder(t *testing.T, consult bool) *domain.ProductionOrder {
	t.Helper()
	ord, err := e.svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CustomerID:           e.customerID,
		ProviderID:           e.providerID,
		EscrowAmount:         25000,
		Currency:             "usd",
		RequiresConsultation: consult,
	})
	require.NoError(t, err)
	return ord
}

func (e *testEnv) reload(t *testing.T, orderID snowflake.ID) *domain.ProductionOrder {
	t.Helper()
	ord, err := e.svc.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	return ord
}

func (e *testEnv) submitProof(t *testing.T, orderID snowflake.ID) *domain.ProductionProof {
	t.Helper()
	proof, err := e.svc.SubmitProof(context.Background(), domain.SubmitProofRequest{
		OrderID:    orderID,
		ProviderID: e.providerID,
		Images:     []string{"https://cdn.example.com/proof-1.jpg"},
		Notes:      "first pass",
	})
	require.NoError(t, err)
	return proof
}

func (e *testEnv) eventTypes(t *testing.T, orderID snowflake.ID) []string {
	t.Helper()
	var events []timelinedomain.TimelineEvent
	require.NoError(t, e.db.
		Where("order_id = ?", orderID).
		Order("created_at asc, id asc").
		Find(&events).Error)
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, string(ev.EventType))
	}
	return types
}

func TestLifecycle_HappyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ord := env.createOrder(t, false)
	assert.Equal(t, domain.StatusPendingOrderReceived, ord.Status)
	assert.Equal(t, "USD", ord.Currency)

	require.NoError(t, env.svc.ReceiveOrder(ctx, ord.ID, env.providerID))
	assert.Equal(t, domain.StatusOrderReceived, env.reload(t, ord.ID).Status)

	days := 5
	require.NoError(t, env.svc.StartProduction(ctx, ord.ID, env.providerID, &days))
	loaded := env.reload(t, ord.ID)
	assert.Equal(t, domain.StatusInProduction, loaded.Status)
	require.NotNil(t, loaded.EstimatedCompletionAt)
	assert.True(t, loaded.EstimatedCompletionAt.Equal(env.clk.Now().Add(5*24*time.Hour)))

	proof := env.submitProof(t, ord.ID)
	assert.Equal(t, 1, proof.Version)
	assert.Equal(t, domain.StatusPendingApproval, env.reload(t, ord.ID).Status)

	require.NoError(t, env.svc.ApproveProof(ctx, domain.ProofDecisionRequest{
		OrderID:    ord.ID,
		ProofID:    proof.ID,
		CustomerID: env.customerID,
	}))
	loaded = env.reload(t, ord.ID)
	assert.Equal(t, domain.StatusPendingApproval, loaded.Status)
	assert.NotNil(t, loaded.ProofApprovedAt)

	require.NoError(t, env.svc.MarkReadyForDelivery(ctx, ord.ID, env.providerID))
	require.NoError(t, env.svc.MarkShipped(ctx, ord.ID, env.providerID, "TRACK123", "UPS"))
	loaded = env.reload(t, ord.ID)
	assert.Equal(t, domain.StatusShipped, loaded.Status)
	assert.Equal(t, "TRACK123", loaded.TrackingNumber)

	require.NoError(t, env.svc.ConfirmDelivery(ctx, ord.ID, env.customerID, "looks great"))
	loaded = env.reload(t, ord.ID)
	assert.Equal(t, domain.StatusCompleted, loaded.Status)
	assert.True(t, loaded.DeliveryConfirmedByCustomer)
	assert.NotNil(t, loaded.DeliveredAt)

	assert.Equal(t, []string{
		"order_created",
		"order_received",
		"production_started",
		"proof_submitted",
		"proof_approved",
		"ready_for_delivery",
		"order_shipped",
		"delivery_confirmed",
	}, env.eventTypes(t, ord.ID))
}

func TestLifecycle_ConsultationPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ord := env.createOrder(t, true)
	assert.Equal(t, domain.StatusPendingConsultation, ord.Status)

	// The provider cannot skip the consultation.
	assert.ErrorIs(t, env.svc.ReceiveOrder(ctx, ord.ID, env.providerID), domain.ErrInvalidState)

	require.NoError(t, env.svc.CompleteConsultation(ctx, ord.ID, env.providerID))
	assert.Equal(t, domain.StatusPendingOrderReceived, env.reload(t, ord.ID).Status)

	assert.ErrorIs(t, env.svc.CompleteConsultation(ctx, ord.ID, env.providerID), domain.ErrInvalidState)
}

func TestTransition_WrongActor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ord := env.createOrder(t, false)

	assert.ErrorIs(t, env.svc.ReceiveOrder(ctx, ord.ID, env.node.Generate()), domain.ErrForbidden)

	require.NoError(t, env.svc.ReceiveOrder(ctx, ord.ID, env.providerID))
	require.NoError(t, env.svc.StartProduction(ctx, ord.ID, env.providerID, nil))
	env.submitProof(t, ord.ID)

	// Only the customer decides on proofs.
	assert.ErrorIs(t, env.svc.ApproveProof(ctx, domain.ProofDecisionRequest{
		OrderID:    ord.ID,
		CustomerID: env.node.Generate(),
	}), domain.ErrForbidden)
}

func TestSubmitProof_InvalidState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ord := env.createOrder(t, false)

	_, err := env.svc.SubmitProof(ctx, domain.SubmitProofRequest{
		OrderID:    ord.ID,
		ProviderID: env.providerID,
		Images:     []string{"a.jpg"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	// No proof row and no timeline event may exist after a rejected attempt.
	var proofs int64
	env.db.Model(&domain.ProductionProof{}).Where("order_id = ?", ord.ID).Count(&proofs)
	assert.Equal(t, int64(0), proofs)
	assert.Equal(t, []string{"order_created"}, env.eventTypes(t, ord.ID))

	_, err = env.svc.SubmitProof(ctx, domain.SubmitProofRequest{
		OrderID:    ord.ID,
		ProviderID: env.providerID,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestProofRevisionCycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ord := env.createOrder(t, false)
	require.NoError(t, env.svc.ReceiveOrder(ctx, ord.ID, env.providerID))
	require.NoError(t, env.svc.StartProduction(ctx, ord.ID, env.providerID, nil))

	first := env.submitProof(t, ord.ID)
	assert.Equal(t, 1, first.Version)

	require.NoError(t, env.svc.RequestRevision(ctx, domain.ProofDecisionRequest{
		OrderID:        ord.ID,
		ProofID:        first.ID,
		CustomerID:     env.customerID,
		Feedback:       "make the logo bigger",
		ChangeRequests: []string{"resize logo"},
	}))
	assert.Equal(t, domain.StatusInProduction, env.reload(t, ord.ID).Status)

	// Deciding the same proof again reports already-processed.
	assert.ErrorIs(t, env.svc.ApproveProof(ctx, domain.ProofDecisionRequest{
		OrderID:    ord.ID,
		CustomerID: env.customerID,
	}), domain.ErrInvalidState)

	second := env.submitProof(t, ord.ID)
	assert.Equal(t, 2, second.Version)

	// The superseded proof can no longer be decided.
	assert.ErrorIs(t, env.svc.ApproveProof(ctx, domain.ProofDecisionRequest{
		OrderID:    ord.ID,
		ProofID:    first.ID,
		CustomerID: env.customerID,
	}), domain.ErrInvalidState)

	require.NoError(t, env.svc.ApproveProof(ctx, domain.ProofDecisionRequest{
		OrderID:    ord.ID,
		ProofID:    second.ID,
		CustomerID: env.customerID,
	}))

	assert.ErrorIs(t, env.svc.ApproveProof(ctx, domain.ProofDecisionRequest{
		OrderID:    ord.ID,
		ProofID:    second.ID,
		CustomerID: env.customerID,
	}), domain.ErrAlreadyProcessed)

	proofs, err := env.svc.GetProofs(ctx, ord.ID)
	require.NoError(t, err)
	require.Len(t, proofs, 2)
	assert.Equal(t, domain.ProofStatusRevisionRequested, proofs[0].Status)
	assert.Equal(t, domain.ProofStatusApproved, proofs[1].Status)
}

func TestRejectProof(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ord := env.createOrder(t, false)
	require.NoError(t, env.svc.ReceiveOrder(ctx, ord.ID, env.providerID))
	require.NoError(t, env.svc.StartProduction(ctx, ord.ID, env.providerID, nil))
	proof := env.submitProof(t, ord.ID)

	require.NoError(t, env.svc.RejectProof(ctx, domain.ProofDecisionRequest{
		OrderID:    ord.ID,
		ProofID:    proof.ID,
		CustomerID: env.customerID,
		Feedback:   "wrong material",
	}))
	assert.Equal(t, domain.StatusInProduction, env.reload(t, ord.ID).Status)

	// Ready-for-delivery requires an approved latest proof.
	assert.ErrorIs(t, env.svc.MarkReadyForDelivery(ctx, ord.ID, env.providerID), domain.ErrInvalidState)
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ord := env.createOrder(t, false)
	require.NoError(t, env.svc.ReceiveOrder(ctx, ord.ID, env.providerID))

	require.NoError(t, env.svc.Cancel(ctx, ord.ID, env.customerID, "no longer needed"))
	loaded := env.reload(t, ord.ID)
	assert.Equal(t, domain.StatusCancelled, loaded.Status)
	assert.Equal(t, "no longer needed", loaded.CancelReason)
	assert.NotNil(t, loaded.CancelledAt)

	// Terminal states stay terminal.
	assert.ErrorIs(t, env.svc.Cancel(ctx, ord.ID, env.customerID, "again"), domain.ErrInvalidState)
	assert.ErrorIs(t, env.svc.ReceiveOrder(ctx, ord.ID, env.providerID), domain.ErrInvalidState)
}

func TestAdminOverride(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	adminID := env.node.Generate()

	ord := env.createOrder(t, false)
	require.NoError(t, env.svc.ReceiveOrder(ctx, ord.ID, env.providerID))
	receivedAt := env.reload(t, ord.ID).OrderReceivedAt
	require.NotNil(t, receivedAt)

	assert.ErrorIs(t, env.svc.AdminOverride(ctx, domain.AdminOverrideRequest{
		OrderID:   ord.ID,
		NewStatus: domain.StatusShipped,
		ActorID:   adminID,
	}), domain.ErrInvalidInput)

	assert.ErrorIs(t, env.svc.AdminOverride(ctx, domain.AdminOverrideRequest{
		OrderID:   ord.ID,
		NewStatus: "teleported",
		ActorID:   adminID,
		Reason:    "support ticket 441",
	}), domain.ErrInvalidInput)

	require.NoError(t, env.svc.AdminOverride(ctx, domain.AdminOverrideRequest{
		OrderID:   ord.ID,
		NewStatus: domain.StatusShipped,
		ActorID:   adminID,
		Reason:    "provider shipped outside the app",
	}))
	loaded := env.reload(t, ord.ID)
	assert.Equal(t, domain.StatusShipped, loaded.Status)
	assert.NotNil(t, loaded.ShippedAt)

	env.clk.Advance(time.Hour)

	// Moving the status backwards never clears a milestone already set.
	require.NoError(t, env.svc.AdminOverride(ctx, domain.AdminOverrideRequest{
		OrderID:   ord.ID,
		NewStatus: domain.StatusOrderReceived,
		ActorID:   adminID,
		Reason:    "shipment came back",
	}))
	loaded = env.reload(t, ord.ID)
	assert.Equal(t, domain.StatusOrderReceived, loaded.Status)
	require.NotNil(t, loaded.OrderReceivedAt)
	assert.True(t, loaded.OrderReceivedAt.Equal(*receivedAt))
	assert.NotNil(t, loaded.ShippedAt)

	types := env.eventTypes(t, ord.ID)
	assert.Equal(t, "status_overridden", types[len(types)-1])
}
