package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// TransactionType classifies a wallet ledger entry.
type TransactionType string

const (
	TransactionTypeEarning    TransactionType = "earning"
	TransactionTypePayout     TransactionType = "payout"
	TransactionTypeRefund     TransactionType = "refund"
	TransactionTypeFee        TransactionType = "fee"
	TransactionTypeAdjustment TransactionType = "adjustment"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

// Wallet holds a user's balance in minor currency units.
type Wallet struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID    snowflake.ID `json:"user_id" gorm:"not null;uniqueIndex:ux_wallets_user"`
	Balance   int64        `json:"balance" gorm:"not null;default:0"`
	Currency  string       `json:"currency" gorm:"type:text;not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null"`
}

func (Wallet) TableName() string { return "wallets" }

// Transaction is one wallet ledger entry. At most one transaction exists per
// (escrow_hold_id, tx_type) pair; the unique index backs the ledger's
// exactly-once guarantee.
type Transaction struct {
	ID           snowflake.ID      `json:"id" gorm:"primaryKey"`
	WalletID     snowflake.ID      `json:"wallet_id" gorm:"not null;index"`
	Type         TransactionType   `json:"type" gorm:"column:tx_type;type:text;not null"`
	Status       TransactionStatus `json:"status" gorm:"type:text;not null"`
	Amount       int64             `json:"amount" gorm:"not null"`
	Currency     string            `json:"currency" gorm:"type:text;not null"`
	OrderID      *snowflake.ID     `json:"order_id,omitempty"`
	RefundID     *snowflake.ID     `json:"refund_id,omitempty"`
	EscrowHoldID *snowflake.ID     `json:"escrow_hold_id,omitempty" gorm:"index"`
	Description  string            `json:"description" gorm:"type:text"`
	CreatedAt    time.Time         `json:"created_at" gorm:"not null"`
}

func (Transaction) TableName() string { return "wallet_transactions" }

type Repository interface {
	// EnsureWallet returns the wallet for a user, creating it lazily.
	EnsureWallet(ctx context.Context, db *gorm.DB, userID snowflake.ID, currency string, now time.Time) (*Wallet, error)

	// InsertHoldTransaction inserts a transaction keyed by (escrow hold, type).
	// Returns false without error when an identical transaction already
	// exists, so retried releases and refunds stay exactly-once.
	InsertHoldTransaction(ctx context.Context, db *gorm.DB, txn *Transaction) (bool, error)

	// AddBalance atomically adjusts the wallet balance.
	AddBalance(ctx context.Context, db *gorm.DB, walletID snowflake.ID, delta int64, now time.Time) error

	ListTransactions(ctx context.Context, db *gorm.DB, walletID snowflake.ID, limit int) ([]Transaction, error)
}

var (
	ErrInvalidUser   = errors.New("invalid_user")
	ErrInvalidAmount = errors.New("invalid_amount")
	ErrNotFound      = errors.New("not_found")
)
