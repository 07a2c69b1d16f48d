package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType определяет тип записи в журнале кошелька
type TransactionType string

const (
	TransactionPurchase   TransactionType = "purchase"
	TransactionRefund     TransactionType = "refund"
	TransactionRecharge   TransactionType = "recharge"
	TransactionAdjustment TransactionType = "adjustment"
)

// TransactionStatus - статус записи журнала. Запись purchase начинается
// в pending (средства удержаны) и заканчивается в completed или cancelled.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionCancelled TransactionStatus = "cancelled"
)

// WalletTransaction - строка append-only журнала. Отрицательный Amount - списание.
type WalletTransaction struct {
	ID          uuid.UUID         `json:"id" db:"id"`
	AccountID   uuid.UUID         `json:"account_id" db:"account_id"`
	Amount      decimal.Decimal   `json:"amount" db:"amount"`
	Type        TransactionType   `json:"transaction_type" db:"transaction_type"`
	Status      TransactionStatus `json:"status" db:"status"`
	ReferenceID string            `json:"reference_id" db:"reference_id"`
	Description string            `json:"description" db:"description"`
	Metadata    json.RawMessage   `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
}
