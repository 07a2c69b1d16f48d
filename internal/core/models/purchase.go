package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PurchaseStatus - состояние покупки OTP. Терминальные состояния
// (completed, cancelled, expired) не допускают дальнейших переходов.
type PurchaseStatus string

const (
	PurchaseWaiting   PurchaseStatus = "waiting"
	PurchaseCompleted PurchaseStatus = "completed"
	PurchaseCancelled PurchaseStatus = "cancelled"
	PurchaseExpired   PurchaseStatus = "expired"
)

// Terminal сообщает, закрыта ли покупка.
func (s PurchaseStatus) Terminal() bool {
	return s == PurchaseCompleted || s == PurchaseCancelled || s == PurchaseExpired
}

// OtpPurchase - покупка временного номера. OrderID присваивает провайдер.
type OtpPurchase struct {
	ID                     uuid.UUID       `json:"id" db:"id"`
	AccountID              uuid.UUID       `json:"account_id" db:"account_id"`
	OrderID                string          `json:"order_id" db:"order_id"`
	PhoneNumber            string          `json:"phone_number" db:"phone_number"`
	ServiceName            string          `json:"service_name" db:"service_name"`
	ServiceCode            string          `json:"service_code" db:"service_code"`
	ServerCode             string          `json:"server_code" db:"server_code"`
	Price                  decimal.Decimal `json:"price" db:"price"`
	VerificationCode       *string         `json:"verification_code,omitempty" db:"verification_code"`
	Status                 PurchaseStatus  `json:"status" db:"status"`
	VerificationReceivedAt *time.Time      `json:"verification_received_at,omitempty" db:"verification_received_at"`
	CancelledAt            *time.Time      `json:"cancelled_at,omitempty" db:"cancelled_at"`
	ExpiredAt              *time.Time      `json:"expired_at,omitempty" db:"expired_at"`
	BackgroundMonitoring   bool            `json:"background_monitoring" db:"background_monitoring"`
	LastBackgroundCheck    *time.Time      `json:"last_background_check,omitempty" db:"last_background_check"`
	CreatedAt              time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at" db:"updated_at"`
}
