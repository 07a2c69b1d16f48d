package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account владеет балансом кошелька. WalletBalance - общая сумма,
// ReservedBalance - удержанная под незавершённые покупки часть.
type Account struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	Name            string          `json:"name" db:"name"`
	WalletBalance   decimal.Decimal `json:"wallet_balance" db:"wallet_balance"`
	ReservedBalance decimal.Decimal `json:"reserved_balance" db:"reserved_balance"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// AvailableBalance - сумма, которую можно тратить прямо сейчас.
func (a *Account) AvailableBalance() decimal.Decimal {
	return a.WalletBalance.Sub(a.ReservedBalance)
}

// HasSufficientBalance учитывает удержанные средства, а не только общий баланс.
func (a *Account) HasSufficientBalance(amount decimal.Decimal) bool {
	return a.AvailableBalance().GreaterThanOrEqual(amount)
}
