package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Nzyazin/otpshop/internal/core/logger"
	"github.com/Nzyazin/otpshop/internal/core/models"
	"github.com/Nzyazin/otpshop/internal/core/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type postgresLedgerRepo struct {
	db  *sqlx.DB
	log logger.Logger
}

func NewPostgresLedgerRepo(db *sqlx.DB, log logger.Logger) repository.LedgerRepository {
	return &postgresLedgerRepo{db: db, log: log}
}

func (r *postgresLedgerRepo) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	query := `SELECT id, name, wallet_balance, reserved_balance, created_at, updated_at
		FROM accounts WHERE id = $1`
	err := r.db.GetContext(ctx, &account, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrAccountNotFound
		}
		return nil, fmt.Errorf("error getting account: %w", err)
	}
	return &account, nil
}

func (r *postgresLedgerRepo) ListTransactions(ctx context.Context, accountID uuid.UUID) ([]models.WalletTransaction, error) {
	var transactions []models.WalletTransaction
	query := `SELECT id, account_id, amount, transaction_type, status, reference_id, description, metadata, created_at
		FROM wallet_transactions WHERE account_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &transactions, query, accountID); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return transactions, nil
}

func (r *postgresLedgerRepo) Reserve(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, referenceID, description string) error {
	return withTx(ctx, r.db, r.log, func(tx *sqlx.Tx) error {
		return reserveTx(ctx, tx, accountID, amount, referenceID, description, nil)
	})
}

func (r *postgresLedgerRepo) Capture(ctx context.Context, referenceID string) error {
	return withTx(ctx, r.db, r.log, func(tx *sqlx.Tx) error {
		return captureTx(ctx, tx, referenceID)
	})
}

func (r *postgresLedgerRepo) Release(ctx context.Context, referenceID, reason string) error {
	return withTx(ctx, r.db, r.log, func(tx *sqlx.Tx) error {
		return releaseTx(ctx, tx, referenceID, reason, nil)
	})
}

func (r *postgresLedgerRepo) Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, referenceID, description string) error {
	return withTx(ctx, r.db, r.log, func(tx *sqlx.Tx) error {
		return creditTx(ctx, tx, accountID, amount, referenceID, description)
	})
}

// lockedAccount - снимок балансов, взятый под блокировкой строки.
type lockedAccount struct {
	ID              uuid.UUID       `db:"id"`
	WalletBalance   decimal.Decimal `db:"wallet_balance"`
	ReservedBalance decimal.Decimal `db:"reserved_balance"`
}

func lockAccount(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID) (*lockedAccount, error) {
	var account lockedAccount
	query := `SELECT id, wallet_balance, reserved_balance FROM accounts WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &account, query, accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrAccountNotFound
		}
		return nil, fmt.Errorf("lock account: %w", err)
	}
	return &account, nil
}

// heldTransaction - pending-удержание для reference_id.
type heldTransaction struct {
	ID        uuid.UUID       `db:"id"`
	AccountID uuid.UUID       `db:"account_id"`
	Amount    decimal.Decimal `db:"amount"`
}

// findHold ищет pending purchase-запись. Если записи нет вообще -
// ErrTransactionNotFound, если она уже терминальна - ErrAlreadyTerminal.
func findHold(ctx context.Context, tx *sqlx.Tx, referenceID string) (*heldTransaction, error) {
	var hold heldTransaction
	query := `SELECT id, account_id, amount FROM wallet_transactions
		WHERE reference_id = $1 AND transaction_type = $2 AND status = $3
		ORDER BY created_at LIMIT 1`
	err := tx.GetContext(ctx, &hold, query, referenceID, models.TransactionPurchase, models.TransactionPending)
	if err == nil {
		return &hold, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find hold: %w", err)
	}

	var exists bool
	existsQuery := `SELECT EXISTS (SELECT 1 FROM wallet_transactions
		WHERE reference_id = $1 AND transaction_type = $2)`
	if err := tx.GetContext(ctx, &exists, existsQuery, referenceID, models.TransactionPurchase); err != nil {
		return nil, fmt.Errorf("find hold: %w", err)
	}
	if exists {
		return nil, repository.ErrAlreadyTerminal
	}
	return nil, repository.ErrTransactionNotFound
}

// settleHold переводит pending-запись в терминальный статус. Условие по
// status = pending делает перевод атомарным: проигравший гонку вызов
// не находит строку и получает ErrAlreadyTerminal.
func settleHold(ctx context.Context, tx *sqlx.Tx, holdID uuid.UUID, status models.TransactionStatus) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE wallet_transactions SET status = $1 WHERE id = $2 AND status = $3`,
		status, holdID, models.TransactionPending)
	if err != nil {
		return fmt.Errorf("settle hold: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("settle hold: %w", err)
	}
	if affected == 0 {
		return repository.ErrAlreadyTerminal
	}
	return nil
}

func insertTransaction(ctx context.Context, tx *sqlx.Tx, t *models.WalletTransaction) error {
	const query = `INSERT INTO wallet_transactions
		(id, account_id, amount, transaction_type, status, reference_id, description, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	metadata := t.Metadata
	if len(metadata) == 0 {
		metadata = nil
	}
	_, err := tx.ExecContext(ctx, query,
		t.ID, t.AccountID, t.Amount, t.Type, t.Status, t.ReferenceID, t.Description, metadata)
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

// reserveTx удерживает amount: reserved_balance += amount, pending-запись
// на -amount. Отклоняет запрос по available, а не общему балансу.
func reserveTx(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID, amount decimal.Decimal, referenceID, description string, metadata []byte) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: reserve amount %s", repository.ErrLedgerInvariant, amount)
	}

	account, err := lockAccount(ctx, tx, accountID)
	if err != nil {
		return err
	}

	available := account.WalletBalance.Sub(account.ReservedBalance)
	if available.LessThan(amount) {
		return repository.ErrInsufficientFunds
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE accounts SET reserved_balance = reserved_balance + $1, updated_at = NOW() WHERE id = $2`,
		amount, accountID)
	if err != nil {
		return fmt.Errorf("reserve balance: %w", err)
	}

	return insertTransaction(ctx, tx, &models.WalletTransaction{
		ID:          uuid.New(),
		AccountID:   accountID,
		Amount:      amount.Neg(),
		Type:        models.TransactionPurchase,
		Status:      models.TransactionPending,
		ReferenceID: referenceID,
		Description: description,
		Metadata:    metadata,
	})
}

// captureTx превращает удержание в реальное списание: средства уходят
// и из wallet_balance, и из reserved_balance.
func captureTx(ctx context.Context, tx *sqlx.Tx, referenceID string) error {
	hold, err := findHold(ctx, tx, referenceID)
	if err != nil {
		return err
	}

	account, err := lockAccount(ctx, tx, hold.AccountID)
	if err != nil {
		return err
	}

	if err := settleHold(ctx, tx, hold.ID, models.TransactionCompleted); err != nil {
		return err
	}

	held := hold.Amount.Abs()
	if account.ReservedBalance.LessThan(held) || account.WalletBalance.LessThan(held) {
		return fmt.Errorf("%w: capture %s exceeds held funds (wallet=%s reserved=%s)",
			repository.ErrLedgerInvariant, held, account.WalletBalance, account.ReservedBalance)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE accounts SET wallet_balance = wallet_balance - $1, reserved_balance = reserved_balance - $1, updated_at = NOW()
			WHERE id = $2`,
		held, hold.AccountID)
	if err != nil {
		return fmt.Errorf("capture balance: %w", err)
	}
	return nil
}

// releaseTx снимает удержание: средства не покидали wallet_balance, поэтому
// уменьшается только reserved_balance. Возврат фиксируется отдельной
// refund-записью, чтобы журнал сохранял полный след.
func releaseTx(ctx context.Context, tx *sqlx.Tx, referenceID, reason string, extra map[string]string) error {
	hold, err := findHold(ctx, tx, referenceID)
	if err != nil {
		return err
	}

	account, err := lockAccount(ctx, tx, hold.AccountID)
	if err != nil {
		return err
	}

	if err := settleHold(ctx, tx, hold.ID, models.TransactionCancelled); err != nil {
		return err
	}

	held := hold.Amount.Abs()
	if account.ReservedBalance.LessThan(held) {
		return fmt.Errorf("%w: release %s exceeds reserved %s",
			repository.ErrLedgerInvariant, held, account.ReservedBalance)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE accounts SET reserved_balance = reserved_balance - $1, updated_at = NOW() WHERE id = $2`,
		held, hold.AccountID)
	if err != nil {
		return fmt.Errorf("release balance: %w", err)
	}

	meta := map[string]string{
		"reason":                  reason,
		"original_transaction_id": hold.ID.String(),
	}
	for k, v := range extra {
		meta[k] = v
	}
	metadata, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal refund metadata: %w", err)
	}

	return insertTransaction(ctx, tx, &models.WalletTransaction{
		ID:          uuid.New(),
		AccountID:   hold.AccountID,
		Amount:      held,
		Type:        models.TransactionRefund,
		Status:      models.TransactionCompleted,
		ReferenceID: referenceID,
		Description: "Refund: " + reason,
		Metadata:    metadata,
	})
}

// creditTx зачисляет пополнение не более одного раза на referenceID.
// Блокировка аккаунта берётся до проверки дубликата, иначе два
// конкурентных вызова прошли бы проверку одновременно.
func creditTx(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID, amount decimal.Decimal, referenceID, description string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: credit amount %s", repository.ErrLedgerInvariant, amount)
	}

	if _, err := lockAccount(ctx, tx, accountID); err != nil {
		return err
	}

	var exists bool
	existsQuery := `SELECT EXISTS (SELECT 1 FROM wallet_transactions
		WHERE reference_id = $1 AND transaction_type = $2 AND status = $3)`
	if err := tx.GetContext(ctx, &exists, existsQuery, referenceID, models.TransactionRecharge, models.TransactionCompleted); err != nil {
		return fmt.Errorf("check credit: %w", err)
	}
	if exists {
		return repository.ErrAlreadyCredited
	}

	_, err := tx.ExecContext(ctx,
		`UPDATE accounts SET wallet_balance = wallet_balance + $1, updated_at = NOW() WHERE id = $2`,
		amount, accountID)
	if err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}

	return insertTransaction(ctx, tx, &models.WalletTransaction{
		ID:          uuid.New(),
		AccountID:   accountID,
		Amount:      amount,
		Type:        models.TransactionRecharge,
		Status:      models.TransactionCompleted,
		ReferenceID: referenceID,
		Description: description,
	})
}
