package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/craftlane/craftlane/internal/wallet/domain"
	pkgdb "github.com/craftlane/craftlane/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	GenID *snowflake.Node
}

type repo struct {
	genID *snowflake.Node
}

func Provide(p Params) domain.Repository {
	return &repo{genID: p.GenID}
}

func (r *repo) EnsureWallet(ctx context.Context, db *gorm.DB, userID snowflake.ID, currency string, now time.Time) (*domain.Wallet, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	wallet, err := r.findWallet(ctx, db, userID)
	if err != nil {
		return nil, err
	}
	if wallet != nil {
		return wallet, nil
	}

	if err := db.WithContext(ctx).Exec(
		`INSERT INTO wallets (id, user_id, balance, currency, created_at, updated_at)
		 VALUES (?, ?, 0, ?, ?, ?)
		 ON CONFLICT (user_id) DO NOTHING`,
		r.genID.Generate(),
		userID,
		currency,
		now,
		now,
	).Error; err != nil && !pkgdb.IsDuplicateKeyErr(err) {
		return nil, err
	}

	wallet, err = r.findWallet(ctx, db, userID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, errors.New("wallet_not_found_after_insert")
	}
	return wallet, nil
}

func (r *repo) findWallet(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.Wallet, error) {
	var wallets []domain.Wallet
	if err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Limit(1).
		Find(&wallets).Error; err != nil {
		return nil, err
	}
	if len(wallets) == 0 {
		return nil, nil
	}
	return &wallets[0], nil
}

func (r *repo) InsertHoldTransaction(ctx context.Context, db *gorm.DB, txn *domain.Transaction) (bool, error) {
	if txn == nil || txn.EscrowHoldID == nil || *txn.EscrowHoldID == 0 {
		return false, domain.ErrInvalidAmount
	}

	res := db.WithContext(ctx).Exec(
		`INSERT INTO wallet_transactions (
			id, wallet_id, tx_type, status, amount, currency,
			order_id, refund_id, escrow_hold_id, description, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (escrow_hold_id, tx_type) DO NOTHING`,
		txn.ID,
		txn.WalletID,
		string(txn.Type),
		string(txn.Status),
		txn.Amount,
		txn.Currency,
		txn.OrderID,
		txn.RefundID,
		txn.EscrowHoldID,
		txn.Description,
		txn.CreatedAt,
	)
	if res.Error != nil {
		if pkgdb.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) AddBalance(ctx context.Context, db *gorm.DB, walletID snowflake.ID, delta int64, now time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE wallets
		 SET balance = balance + ?, updated_at = ?
		 WHERE id = ?`,
		delta,
		now,
		walletID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, walletID snowflake.ID, limit int) ([]domain.Transaction, error) {
	var txns []domain.Transaction
	stmt := db.WithContext(ctx).Model(&domain.Transaction{}).
		Where("wallet_id = ?", walletID).
		Order("created_at desc, id desc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}
