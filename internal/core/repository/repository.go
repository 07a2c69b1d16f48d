package repository

import (
	"context"
	"time"

	"github.com/Nzyazin/otpshop/internal/core/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerRepository - атомарные операции над балансом аккаунта и журналом.
// Каждая операция выполняется в одной транзакции БД под блокировкой строки
// аккаунта. Capture и Release идемпотентны: первая из них, получившая
// блокировку, переводит удержание в терминальный статус, вторая получает
// ErrAlreadyTerminal и ничего не меняет.
type LedgerRepository interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	Reserve(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, referenceID, description string) error
	Capture(ctx context.Context, referenceID string) error
	Release(ctx context.Context, referenceID, reason string) error
	Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, referenceID, description string) error
	ListTransactions(ctx context.Context, accountID uuid.UUID) ([]models.WalletTransaction, error)
}

// PurchaseRepository владеет строками otp_purchases. Методы Settle*
// совмещают терминальный переход покупки и соответствующую операцию
// журнала в одной транзакции БД.
type PurchaseRepository interface {
	GetByOrderID(ctx context.Context, orderID string) (*models.OtpPurchase, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.OtpPurchase, error)
	// CreateWithHold сохраняет покупку и резервирует средства атомарно.
	CreateWithHold(ctx context.Context, purchase *models.OtpPurchase) error
	// SettleCompleted: waiting -> completed, capture удержания.
	SettleCompleted(ctx context.Context, orderID, verificationCode string) error
	// SettleCancelled: waiting -> cancelled, release удержания с refund-записью.
	SettleCancelled(ctx context.Context, orderID, reason string) error
	// SettleExpired: waiting -> expired по локальному таймауту, release удержания.
	SettleExpired(ctx context.Context, orderID, reason string) error
	SetBackgroundMonitoring(ctx context.Context, orderID string, enabled bool) error
	TouchBackgroundCheck(ctx context.Context, orderID string, at time.Time) error
	// ListForSweep выбирает waiting-покупки под мониторингом, которые
	// не проверялись дольше minSpacing.
	ListForSweep(ctx context.Context, minSpacing time.Duration, now time.Time) ([]models.OtpPurchase, error)
}

// RechargeRepository владеет строками recharges.
type RechargeRepository interface {
	GetByOrderID(ctx context.Context, orderID string) (*models.Recharge, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.Recharge, error)
	Create(ctx context.Context, recharge *models.Recharge) error
	// UpdateStatus сохраняет статус шлюза без движения средств.
	UpdateStatus(ctx context.Context, orderID string, status models.RechargeStatus, details []byte) error
	// CompleteWithCredit: переход в COMPLETED и зачисление средств в одной
	// транзакции, не более одного раза на orderID.
	CompleteWithCredit(ctx context.Context, orderID, transactionID string, details []byte) error
}
