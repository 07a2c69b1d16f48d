package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Nzyazin/otpshop/internal/core/logger"
	"github.com/Nzyazin/otpshop/internal/core/models"
	"github.com/Nzyazin/otpshop/internal/core/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type postgresRechargeRepo struct {
	db  *sqlx.DB
	log logger.Logger
}

func NewPostgresRechargeRepo(db *sqlx.DB, log logger.Logger) repository.RechargeRepository {
	return &postgresRechargeRepo{db: db, log: log}
}

const rechargeColumns = `id, account_id, order_id, amount, status, transaction_id, payment_details, created_at, updated_at`

func (r *postgresRechargeRepo) GetByOrderID(ctx context.Context, orderID string) (*models.Recharge, error) {
	var recharge models.Recharge
	query := `SELECT ` + rechargeColumns + ` FROM recharges WHERE order_id = $1`
	err := r.db.GetContext(ctx, &recharge, query, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrRechargeNotFound
		}
		return nil, fmt.Errorf("error getting recharge: %w", err)
	}
	return &recharge, nil
}

func (r *postgresRechargeRepo) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.Recharge, error) {
	var recharges []models.Recharge
	query := `SELECT ` + rechargeColumns + ` FROM recharges WHERE account_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &recharges, query, accountID); err != nil {
		return nil, fmt.Errorf("list recharges: %w", err)
	}
	return recharges, nil
}

func (r *postgresRechargeRepo) Create(ctx context.Context, recharge *models.Recharge) error {
	const query = `INSERT INTO recharges (id, account_id, order_id, amount, status)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(ctx, query,
		recharge.ID, recharge.AccountID, recharge.OrderID, recharge.Amount, recharge.Status)
	if err != nil {
		return fmt.Errorf("create recharge: %w", err)
	}
	return nil
}

func (r *postgresRechargeRepo) UpdateStatus(ctx context.Context, orderID string, status models.RechargeStatus, details []byte) error {
	if len(details) == 0 {
		details = nil
	}
	// Статус COMPLETED меняется только через CompleteWithCredit.
	res, err := r.db.ExecContext(ctx,
		`UPDATE recharges SET status = $1, payment_details = COALESCE($2, payment_details), updated_at = NOW()
			WHERE order_id = $3 AND status <> $4`,
		status, details, orderID, models.RechargeCompleted)
	if err != nil {
		return fmt.Errorf("update recharge status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update recharge status: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM recharges WHERE order_id = $1)`, orderID); err != nil {
			return fmt.Errorf("update recharge status: %w", err)
		}
		if !exists {
			return repository.ErrRechargeNotFound
		}
		return repository.ErrAlreadyTerminal
	}
	return nil
}

// CompleteWithCredit фиксирует COMPLETED и зачисляет средства в одной
// транзакции. Условие status <> COMPLETED вместе с идемпотентным creditTx
// гарантирует одно зачисление на orderID при любом числе триггеров.
func (r *postgresRechargeRepo) CompleteWithCredit(ctx context.Context, orderID, transactionID string, details []byte) error {
	return withTx(ctx, r.db, r.log, func(tx *sqlx.Tx) error {
		var recharge struct {
			AccountID uuid.UUID       `db:"account_id"`
			Amount    decimal.Decimal `db:"amount"`
		}
		query := `SELECT account_id, amount FROM recharges WHERE order_id = $1 FOR UPDATE`
		if err := tx.GetContext(ctx, &recharge, query, orderID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return repository.ErrRechargeNotFound
			}
			return fmt.Errorf("lock recharge: %w", err)
		}

		if len(details) == 0 {
			details = nil
		}
		var txnID interface{}
		if transactionID != "" {
			txnID = transactionID
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE recharges SET status = $1, transaction_id = COALESCE($2, transaction_id),
				payment_details = COALESCE($3, payment_details), updated_at = NOW()
				WHERE order_id = $4 AND status <> $1`,
			models.RechargeCompleted, txnID, details, orderID)
		if err != nil {
			return fmt.Errorf("complete recharge: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("complete recharge: %w", err)
		}
		if affected == 0 {
			return repository.ErrAlreadyCredited
		}

		description := fmt.Sprintf("Wallet recharge (#%s)", orderID)
		if err := creditTx(ctx, tx, recharge.AccountID, recharge.Amount, orderID, description); err != nil {
			return err
		}
		return nil
	})
}
