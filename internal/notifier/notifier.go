package notifier

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

// Event names delivered to users. Payload keys are documented per event in
// the services that emit them.
const (
	EventProductionStarted = "production_started"
	EventProofSubmitted    = "proof_submitted"
	EventReadyForDelivery  = "ready_for_delivery"
	EventOrderShipped      = "order_shipped"
	EventOrderCancelled    = "order_cancelled"
	EventEscrowReleased    = "escrow_released"
	EventRefundProcessed   = "refund_processed"
)

// Notifier delivers a user-facing message through some channel. Delivery is
// fire-and-forget; no caller may depend on its return value for correctness.
type Notifier interface {
	Notify(ctx context.Context, event string, recipientID snowflake.ID, payload map[string]any) error
}

type NoOpNotifier struct{}

func (NoOpNotifier) Notify(ctx context.Context, event string, recipientID snowflake.ID, payload map[string]any) error {
	return nil
}

// LogNotifier writes notifications to the application log. Stands in for a
// real push/email channel in development.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notifier")}
}

func (n *LogNotifier) Notify(ctx context.Context, event string, recipientID snowflake.ID, payload map[string]any) error {
	n.log.Info("notification",
		zap.String("event", event),
		zap.String("recipient_id", recipientID.String()),
		zap.Any("payload", payload),
	)
	return nil
}

// BestEffort sends a notification and logs any failure. It never propagates
// the error; notifier failures must not roll back or block a transition.
func BestEffort(ctx context.Context, log *zap.Logger, n Notifier, event string, recipientID snowflake.ID, payload map[string]any) {
	if n == nil || recipientID == 0 {
		return
	}
	if err := n.Notify(ctx, event, recipientID, payload); err != nil {
		log.Warn("notification delivery failed",
			zap.String("event", event),
			zap.String("recipient_id", recipientID.String()),
			zap.Error(err),
		)
	}
}
