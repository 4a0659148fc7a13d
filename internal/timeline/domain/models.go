package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventType identifies one kind of order state change. The set below is the
// fixed vocabulary written by the lifecycle and ledger; unknown types are
// still stored and rendered with the raw type string.
type EventType string

const (
	EventOrderCreated          EventType = "order_created"
	EventConsultationCompleted EventType = "consultation_completed"
	EventOrderReceived         EventType = "order_received"
	EventProductionStarted     EventType = "production_started"
	EventProofSubmitted        EventType = "proof_submitted"
	EventProofApproved         EventType = "proof_approved"
	EventProofRejected         EventType = "proof_rejected"
	EventRevisionRequested     EventType = "revision_requested"
	EventReadyForDelivery      EventType = "ready_for_delivery"
	EventOrderShipped          EventType = "order_shipped"
	EventDeliveryConfirmed     EventType = "delivery_confirmed"
	EventOrderCancelled        EventType = "order_cancelled"
	EventStatusOverridden      EventType = "status_overridden"
	EventEscrowHeld            EventType = "escrow_held"
	EventEscrowReleased        EventType = "escrow_released"
	EventEscrowExpired         EventType = "escrow_expired"
	EventRefundRequested       EventType = "refund_requested"
	EventRefundProcessed       EventType = "refund_processed"
)

var descriptions = map[EventType]string{
	EventOrderCreated:          "Order created and escrow funded",
	EventConsultationCompleted: "Consultation completed, awaiting order receipt",
	EventOrderReceived:         "Provider confirmed order receipt",
	EventProductionStarted:     "Provider started production",
	EventProofSubmitted:        "Provider submitted a proof for review",
	EventProofApproved:         "Customer approved the proof",
	EventProofRejected:         "Customer rejected the proof",
	EventRevisionRequested:     "Customer requested a revision",
	EventReadyForDelivery:      "Order is ready for delivery",
	EventOrderShipped:          "Provider shipped the order",
	EventDeliveryConfirmed:     "Customer confirmed delivery",
	EventOrderCancelled:        "Order was cancelled",
	EventStatusOverridden:      "Order status changed by administrator",
	EventEscrowHeld:            "Funds held in escrow",
	EventEscrowReleased:        "Escrow released to provider",
	EventEscrowExpired:         "Escrow dispute window expired, released to provider",
	EventRefundRequested:       "Refund requested",
	EventRefundProcessed:       "Refund processed to customer",
}

// Describe returns the human-readable description for an event type, falling
// back to the raw type string for unknown types.
func Describe(eventType EventType) string {
	if desc, ok := descriptions[eventType]; ok {
		return desc
	}
	return string(eventType)
}

// TimelineEvent is an immutable audit record of one order state change.
type TimelineEvent struct {
	ID          snowflake.ID      `json:"id" gorm:"primaryKey"`
	OrderID     snowflake.ID      `json:"order_id" gorm:"not null;index"`
	EventType   EventType         `json:"event_type" gorm:"type:text;not null"`
	Description string            `json:"description" gorm:"type:text;not null"`
	ActorID     snowflake.ID      `json:"actor_id" gorm:"not null"`
	Metadata    datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	CreatedAt   time.Time         `json:"created_at" gorm:"not null;index"`
}

func (TimelineEvent) TableName() string { return "timeline_events" }
