package postgres

import (
	"context"
	"fmt"

	"github.com/Nzyazin/otpshop/internal/core/logger"
	"github.com/jmoiron/sqlx"
)

// migration - версионированное изменение схемы. Применяются строго по
// порядку до старта сервера; движок никогда не меняет схему на лету.
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create accounts",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS accounts (
				id UUID PRIMARY KEY,
				name TEXT NOT NULL DEFAULT '',
				wallet_balance NUMERIC(10,2) NOT NULL DEFAULT 0.00,
				reserved_balance NUMERIC(10,2) NOT NULL DEFAULT 0.00,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				CONSTRAINT accounts_balance_nonnegative CHECK (wallet_balance >= 0),
				CONSTRAINT accounts_reserved_within_balance CHECK (reserved_balance >= 0 AND reserved_balance <= wallet_balance)
			)`,
		},
	},
	{
		version: 2,
		name:    "create wallet_transactions",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS wallet_transactions (
				id UUID PRIMARY KEY,
				account_id UUID NOT NULL REFERENCES accounts(id),
				amount NUMERIC(10,2) NOT NULL,
				transaction_type TEXT NOT NULL,
				status TEXT NOT NULL,
				reference_id TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				metadata JSONB,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_wallet_transactions_reference
				ON wallet_transactions (reference_id, transaction_type, status)`,
			`CREATE INDEX IF NOT EXISTS idx_wallet_transactions_account
				ON wallet_transactions (account_id, created_at)`,
		},
	},
	{
		version: 3,
		name:    "create otp_purchases",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS otp_purchases (
				id UUID PRIMARY KEY,
				account_id UUID NOT NULL REFERENCES accounts(id),
				order_id TEXT NOT NULL UNIQUE,
				phone_number TEXT NOT NULL,
				service_name TEXT NOT NULL DEFAULT '',
				service_code TEXT NOT NULL,
				server_code TEXT NOT NULL,
				price NUMERIC(10,2) NOT NULL,
				verification_code TEXT,
				status TEXT NOT NULL DEFAULT 'waiting',
				verification_received_at TIMESTAMPTZ,
				cancelled_at TIMESTAMPTZ,
				expired_at TIMESTAMPTZ,
				background_monitoring BOOLEAN NOT NULL DEFAULT FALSE,
				last_background_check TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_otp_purchases_sweep
				ON otp_purchases (status, background_monitoring, last_background_check)`,
		},
	},
	{
		version: 4,
		name:    "create recharges",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS recharges (
				id UUID PRIMARY KEY,
				account_id UUID NOT NULL REFERENCES accounts(id),
				order_id TEXT NOT NULL UNIQUE,
				amount NUMERIC(10,2) NOT NULL,
				status TEXT NOT NULL DEFAULT 'PENDING',
				transaction_id TEXT,
				payment_details JSONB,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
		},
	},
}

// Migrate применяет недостающие миграции. Каждая версия выполняется в
// собственной транзакции и фиксируется в schema_migrations.
func Migrate(ctx context.Context, db *sqlx.DB, log logger.Logger) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INT PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := make(map[int]bool)
	var versions []int
	if err := db.SelectContext(ctx, &versions, `SELECT version FROM schema_migrations`); err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for _, v := range versions {
		applied[v] = true
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}

		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}

		if err := applyMigration(ctx, tx, m); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("Migration rollback failed", logger.ErrorField("error", rbErr))
			}
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}

		log.Info("Applied migration",
			logger.IntField("version", m.version),
			logger.StringField("name", m.name))
	}

	return nil
}

func applyMigration(ctx context.Context, tx *sqlx.Tx, m migration) error {
	for _, stmt := range m.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
		m.version, m.name)
	return err
}
