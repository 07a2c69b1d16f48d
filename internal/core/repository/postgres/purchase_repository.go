package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Nzyazin/otpshop/internal/core/logger"
	"github.com/Nzyazin/otpshop/internal/core/models"
	"github.com/Nzyazin/otpshop/internal/core/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type postgresPurchaseRepo struct {
	db  *sqlx.DB
	log logger.Logger
}

func NewPostgresPurchaseRepo(db *sqlx.DB, log logger.Logger) repository.PurchaseRepository {
	return &postgresPurchaseRepo{db: db, log: log}
}

const purchaseColumns = `id, account_id, order_id, phone_number, service_name, service_code, server_code,
	price, verification_code, status, verification_received_at, cancelled_at, expired_at,
	background_monitoring, last_background_check, created_at, updated_at`

func (r *postgresPurchaseRepo) GetByOrderID(ctx context.Context, orderID string) (*models.OtpPurchase, error) {
	var purchase models.OtpPurchase
	query := `SELECT ` + purchaseColumns + ` FROM otp_purchases WHERE order_id = $1`
	err := r.db.GetContext(ctx, &purchase, query, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrPurchaseNotFound
		}
		return nil, fmt.Errorf("error getting purchase: %w", err)
	}
	return &purchase, nil
}

func (r *postgresPurchaseRepo) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.OtpPurchase, error) {
	var purchases []models.OtpPurchase
	query := `SELECT ` + purchaseColumns + ` FROM otp_purchases WHERE account_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &purchases, query, accountID); err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	return purchases, nil
}

// CreateWithHold сохраняет покупку и резервирует средства в одной
// транзакции: при любой ошибке не остаётся ни строки, ни удержания.
func (r *postgresPurchaseRepo) CreateWithHold(ctx context.Context, purchase *models.OtpPurchase) error {
	return withTx(ctx, r.db, r.log, func(tx *sqlx.Tx) error {
		metadata, err := json.Marshal(map[string]string{
			"service_code": purchase.ServiceCode,
			"server_code":  purchase.ServerCode,
			"phone_number": purchase.PhoneNumber,
		})
		if err != nil {
			return fmt.Errorf("marshal hold metadata: %w", err)
		}

		description := fmt.Sprintf("OTP purchase: %s (#%s)", purchase.ServiceName, purchase.OrderID)
		if err := reserveTx(ctx, tx, purchase.AccountID, purchase.Price, purchase.OrderID, description, metadata); err != nil {
			return err
		}

		const query = `INSERT INTO otp_purchases
			(id, account_id, order_id, phone_number, service_name, service_code, server_code, price, status, background_monitoring)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
		_, err = tx.ExecContext(ctx, query,
			purchase.ID, purchase.AccountID, purchase.OrderID, purchase.PhoneNumber,
			purchase.ServiceName, purchase.ServiceCode, purchase.ServerCode,
			purchase.Price, models.PurchaseWaiting, purchase.BackgroundMonitoring)
		if err != nil {
			return fmt.Errorf("create purchase: %w", err)
		}
		return nil
	})
}

// markTerminal переводит waiting-покупку в терминальный статус. Условие по
// status = waiting защищает от повторной обработки: проигравший гонку
// вызов получает ErrAlreadyTerminal.
func markTerminal(ctx context.Context, tx *sqlx.Tx, orderID string, set string, args ...interface{}) error {
	query := `UPDATE otp_purchases SET ` + set + `, updated_at = NOW()
		WHERE order_id = $1 AND status = '` + string(models.PurchaseWaiting) + `'`
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark purchase terminal: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark purchase terminal: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM otp_purchases WHERE order_id = $1)`, orderID); err != nil {
			return fmt.Errorf("mark purchase terminal: %w", err)
		}
		if !exists {
			return repository.ErrPurchaseNotFound
		}
		return repository.ErrAlreadyTerminal
	}
	return nil
}

func (r *postgresPurchaseRepo) SettleCompleted(ctx context.Context, orderID, verificationCode string) error {
	return withTx(ctx, r.db, r.log, func(tx *sqlx.Tx) error {
		set := `status = $2, verification_code = $3, verification_received_at = NOW(), background_monitoring = FALSE`
		if err := markTerminal(ctx, tx, orderID, set, orderID, models.PurchaseCompleted, verificationCode); err != nil {
			return err
		}
		if err := captureTx(ctx, tx, orderID); err != nil {
			// Покупка была waiting, а удержания нет - инвариант сломан.
			if errors.Is(err, repository.ErrAlreadyTerminal) || errors.Is(err, repository.ErrTransactionNotFound) {
				return fmt.Errorf("%w: waiting purchase %s has no pending hold", repository.ErrLedgerInvariant, orderID)
			}
			return err
		}
		return nil
	})
}

func (r *postgresPurchaseRepo) SettleCancelled(ctx context.Context, orderID, reason string) error {
	return withTx(ctx, r.db, r.log, func(tx *sqlx.Tx) error {
		set := `status = $2, cancelled_at = NOW(), background_monitoring = FALSE`
		if err := markTerminal(ctx, tx, orderID, set, orderID, models.PurchaseCancelled); err != nil {
			return err
		}
		if err := releaseTx(ctx, tx, orderID, reason, nil); err != nil {
			if errors.Is(err, repository.ErrAlreadyTerminal) || errors.Is(err, repository.ErrTransactionNotFound) {
				return fmt.Errorf("%w: waiting purchase %s has no pending hold", repository.ErrLedgerInvariant, orderID)
			}
			return err
		}
		return nil
	})
}

func (r *postgresPurchaseRepo) SettleExpired(ctx context.Context, orderID, reason string) error {
	return withTx(ctx, r.db, r.log, func(tx *sqlx.Tx) error {
		set := `status = $2, expired_at = NOW(), background_monitoring = FALSE`
		if err := markTerminal(ctx, tx, orderID, set, orderID, models.PurchaseExpired); err != nil {
			return err
		}
		if err := releaseTx(ctx, tx, orderID, reason, nil); err != nil {
			if errors.Is(err, repository.ErrAlreadyTerminal) || errors.Is(err, repository.ErrTransactionNotFound) {
				return fmt.Errorf("%w: waiting purchase %s has no pending hold", repository.ErrLedgerInvariant, orderID)
			}
			return err
		}
		return nil
	})
}

func (r *postgresPurchaseRepo) SetBackgroundMonitoring(ctx context.Context, orderID string, enabled bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE otp_purchases SET background_monitoring = $1, last_background_check = NOW(), updated_at = NOW()
			WHERE order_id = $2 AND status = $3`,
		enabled, orderID, models.PurchaseWaiting)
	if err != nil {
		return fmt.Errorf("set background monitoring: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set background monitoring: %w", err)
	}
	if affected == 0 {
		return repository.ErrPurchaseNotFound
	}
	return nil
}

func (r *postgresPurchaseRepo) TouchBackgroundCheck(ctx context.Context, orderID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE otp_purchases SET last_background_check = $1, updated_at = NOW() WHERE order_id = $2`,
		at, orderID)
	if err != nil {
		return fmt.Errorf("touch background check: %w", err)
	}
	return nil
}

func (r *postgresPurchaseRepo) ListForSweep(ctx context.Context, minSpacing time.Duration, now time.Time) ([]models.OtpPurchase, error) {
	var purchases []models.OtpPurchase
	cutoff := now.Add(-minSpacing)
	query := `SELECT ` + purchaseColumns + ` FROM otp_purchases
		WHERE status = $1 AND background_monitoring = TRUE
			AND (last_background_check IS NULL OR last_background_check <= $2)
		ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &purchases, query, models.PurchaseWaiting, cutoff); err != nil {
		return nil, fmt.Errorf("list purchases for sweep: %w", err)
	}
	return purchases, nil
}
