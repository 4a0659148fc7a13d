package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// OrderStatus is one state of the production order machine. Transitions are
// monotonic through the happy path; cancelled is reachable from every
// non-terminal state.
type OrderStatus string

const (
	StatusPendingConsultation  OrderStatus = "pending_consultation"
	StatusPendingOrderReceived OrderStatus = "pending_order_received"
	StatusOrderReceived        OrderStatus = "order_received"
	StatusInProduction         OrderStatus = "in_production"
	StatusPendingApproval      OrderStatus = "pending_approval"
	StatusReadyForDelivery     OrderStatus = "ready_for_delivery"
	StatusShipped              OrderStatus = "shipped"
	StatusCompleted            OrderStatus = "completed"
	StatusCancelled            OrderStatus = "cancelled"
)

func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPendingConsultation, StatusPendingOrderReceived, StatusOrderReceived,
		StatusInProduction, StatusPendingApproval, StatusReadyForDelivery,
		StatusShipped, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// ProductionOrder tracks one custom-production booking from receipt to
// delivery. Milestone timestamps are append-only; a set milestone is never
// cleared, even when an admin override moves the status backwards.
type ProductionOrder struct {
	ID         snowflake.ID  `json:"id" gorm:"primaryKey"`
	CustomerID snowflake.ID  `json:"customer_id" gorm:"not null;index"`
	ProviderID snowflake.ID  `json:"provider_id" gorm:"not null;index"`
	ListingID  *snowflake.ID `json:"listing_id,omitempty"`

	EscrowAmount int64  `json:"escrow_amount" gorm:"not null"`
	FinalPrice   *int64 `json:"final_price,omitempty"`
	Currency     string `json:"currency" gorm:"type:text;not null"`

	Status          OrderStatus `json:"status" gorm:"type:text;not null;index"`
	EscrowStatus    string      `json:"escrow_status" gorm:"type:text;not null;default:''"`
	PaymentStatus   string      `json:"payment_status" gorm:"type:text;not null;default:'paid'"`
	RefundRequested bool        `json:"refund_requested" gorm:"not null;default:false"`

	EstimatedCompletionAt *time.Time `json:"estimated_completion_at,omitempty"`
	TrackingNumber        string     `json:"tracking_number" gorm:"type:text;not null;default:''"`
	Carrier               string     `json:"carrier" gorm:"type:text;not null;default:''"`
	CancelReason          string     `json:"cancel_reason" gorm:"type:text;not null;default:''"`

	DeliveryConfirmedByCustomer bool `json:"delivery_confirmed_by_customer" gorm:"not null;default:false"`

	OrderReceivedAt     *time.Time `json:"order_received_at,omitempty"`
	ProductionStartedAt *time.Time `json:"production_started_at,omitempty"`
	ProofsSubmittedAt   *time.Time `json:"proofs_submitted_at,omitempty"`
	ProofApprovedAt     *time.Time `json:"proof_approved_at,omitempty"`
	ReadyForDeliveryAt  *time.Time `json:"ready_for_delivery_at,omitempty"`
	ShippedAt           *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt         *time.Time `json:"delivered_at,omitempty"`
	EscrowReleasedAt    *time.Time `json:"escrow_released_at,omitempty"`
	CancelledAt         *time.Time `json:"cancelled_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (ProductionOrder) TableName() string { return "orders" }

type ProofStatus string

const (
	ProofStatusPending           ProofStatus = "pending"
	ProofStatusApproved          ProofStatus = "approved"
	ProofStatusRejected          ProofStatus = "rejected"
	ProofStatusRevisionRequested ProofStatus = "revision_requested"
)

// ProductionProof is a versioned piece of provider evidence awaiting customer
// review. Immutable once created except for its status and the customer's
// decision fields; version numbers strictly increase per order from 1.
type ProductionProof struct {
	ID      snowflake.ID `json:"id" gorm:"primaryKey"`
	OrderID snowflake.ID `json:"order_id" gorm:"not null;uniqueIndex:ux_proofs_order_version,priority:1"`
	Version int          `json:"version" gorm:"not null;uniqueIndex:ux_proofs_order_version,priority:2"`

	Images         datatypes.JSON `json:"images" gorm:"type:jsonb"`
	Files          datatypes.JSON `json:"files" gorm:"type:jsonb"`
	ProviderNotes  string         `json:"provider_notes" gorm:"type:text;not null;default:''"`
	CustomerNotes  string         `json:"customer_notes" gorm:"type:text;not null;default:''"`
	ChangeRequests datatypes.JSON `json:"change_requests" gorm:"type:jsonb"`

	Status    ProofStatus `json:"status" gorm:"type:text;not null"`
	CreatedAt time.Time   `json:"created_at" gorm:"not null"`
	DecidedAt *time.Time  `json:"decided_at,omitempty"`
}

func (ProductionProof) TableName() string { return "production_proofs" }
