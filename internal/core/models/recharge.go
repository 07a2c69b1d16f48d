package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RechargeStatus - статус пополнения. Статусы шлюза сохраняем в верхнем
// регистре, как их отдаёт сам шлюз.
type RechargeStatus string

const (
	RechargePending   RechargeStatus = "PENDING"
	RechargeCompleted RechargeStatus = "COMPLETED"
	RechargeFailed    RechargeStatus = "FAILED"
	RechargeError     RechargeStatus = "ERROR"
)

// Recharge - пополнение кошелька через платёжный шлюз.
// Переход в COMPLETED происходит максимум один раз.
type Recharge struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	AccountID      uuid.UUID       `json:"account_id" db:"account_id"`
	OrderID        string          `json:"order_id" db:"order_id"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Status         RechargeStatus  `json:"status" db:"status"`
	TransactionID  *string         `json:"transaction_id,omitempty" db:"transaction_id"`
	PaymentDetails json.RawMessage `json:"payment_details,omitempty" db:"payment_details"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}
