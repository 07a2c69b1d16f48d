package postgres

import (
	"context"
	"fmt"

	"github.com/Nzyazin/otpshop/internal/core/logger"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// withTx выполняет fn в транзакции с откатом при ошибке.
// Паттерн общий для всех репозиториев пакета.
func withTx(ctx context.Context, db *sqlx.DB, log logger.Logger, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		log.Error("Error beginning transaction", logger.ErrorField("error", err))
		return fmt.Errorf("error beginning transaction: %w", err)
	}

	var isCommitted bool
	defer func() {
		if err != nil && !isCommitted {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("Transaction rollback failed", logger.ErrorField("error", rbErr))
				err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		log.Error("Error committing transaction", logger.ErrorField("error", err))
		return fmt.Errorf("commit failed: %w", err)
	}

	isCommitted = true
	return nil
}
