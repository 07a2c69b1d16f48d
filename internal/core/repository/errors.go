package repository

import "errors"

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrTransactionNotFound = errors.New("pending transaction not found")
	// ErrAlreadyTerminal - не ошибка, а сигнал идемпотентности: удержание
	// уже переведено в терминальный статус другим вызовом.
	ErrAlreadyTerminal  = errors.New("transaction already terminal")
	ErrAlreadyCredited  = errors.New("reference already credited")
	ErrPurchaseNotFound = errors.New("purchase not found")
	ErrRechargeNotFound = errors.New("recharge not found")
	// ErrLedgerInvariant означает нарушенный инвариант журнала
	// (например, release больше, чем зарезервировано). Это ошибка
	// программирования выше по стеку, её нельзя молча проглатывать.
	ErrLedgerInvariant = errors.New("ledger invariant violation")
)
