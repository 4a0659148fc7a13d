package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type HoldStatus string

const (
	HoldStatusHeld     HoldStatus = "held"
	HoldStatusReleased HoldStatus = "released"
	HoldStatusRefunded HoldStatus = "refunded"
	HoldStatusDisputed HoldStatus = "disputed"
	HoldStatusExpired  HoldStatus = "expired"
)

// Terminal reports whether no further money-moving operation may act on a
// hold in this status.
func (s HoldStatus) Terminal() bool {
	switch s {
	case HoldStatusReleased, HoldStatusRefunded, HoldStatusExpired:
		return true
	}
	return false
}

// EscrowHold earmarks customer funds against an order. Amount, fee and payout
// are fixed at creation; the fee rate in effect at that moment is stored on
// the row and never re-read.
type EscrowHold struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	OrderID        snowflake.ID `json:"order_id" gorm:"not null;uniqueIndex:ux_escrow_holds_order"`
	CustomerID     snowflake.ID `json:"customer_id" gorm:"not null;index"`
	ProviderID     snowflake.ID `json:"provider_id" gorm:"not null;index"`
	Amount         int64        `json:"amount" gorm:"not null"`
	PlatformFee    int64        `json:"platform_fee" gorm:"not null"`
	ProviderPayout int64        `json:"provider_payout" gorm:"not null"`
	FeeRateBps     int64        `json:"fee_rate_bps" gorm:"not null"`
	Currency       string       `json:"currency" gorm:"type:text;not null"`
	Status         HoldStatus   `json:"status" gorm:"type:text;not null;index"`
	PaymentRef     string       `json:"payment_ref" gorm:"type:text"`
	HeldAt         time.Time    `json:"held_at" gorm:"not null"`
	ReleasedAt     *time.Time   `json:"released_at,omitempty"`
	ExpiresAt      time.Time    `json:"expires_at" gorm:"not null;index"`
}

func (EscrowHold) TableName() string { return "escrow_holds" }

type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusCompleted RefundStatus = "completed"
	RefundStatusRejected  RefundStatus = "rejected"
)

// RefundRequest is a pending claim against a hold. Creating one moves no
// money; ProcessRefund does.
type RefundRequest struct {
	ID          snowflake.ID  `json:"id" gorm:"primaryKey"`
	OrderID     snowflake.ID  `json:"order_id" gorm:"not null;index"`
	HoldID      snowflake.ID  `json:"hold_id" gorm:"not null;index"`
	Amount      int64         `json:"amount" gorm:"not null"`
	Reason      string        `json:"reason" gorm:"type:text;not null"`
	Notes       string        `json:"notes" gorm:"type:text"`
	Status      RefundStatus  `json:"status" gorm:"type:text;not null"`
	RequestedBy snowflake.ID  `json:"requested_by" gorm:"not null"`
	ApprovedBy  *snowflake.ID `json:"approved_by,omitempty"`
	PaymentRef  string        `json:"payment_ref" gorm:"type:text"`
	CreatedAt   time.Time     `json:"created_at" gorm:"not null"`
	ProcessedAt *time.Time    `json:"processed_at,omitempty"`
}

func (RefundRequest) TableName() string { return "refund_requests" }

// StatusView is the read projection served to orchestrating callers.
type StatusView struct {
	HoldID          snowflake.ID `json:"hold_id"`
	Status          HoldStatus   `json:"status"`
	Amount          int64        `json:"amount"`
	PlatformFee     int64        `json:"platform_fee"`
	ProviderPayout  int64        `json:"provider_payout"`
	Currency        string       `json:"currency"`
	CanRelease      bool         `json:"can_release"`
	DaysUntilExpiry int          `json:"days_until_expiry"`
	ExpiresAt       time.Time    `json:"expires_at"`
}
