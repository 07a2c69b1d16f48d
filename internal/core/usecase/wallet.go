package usecase

import (
	"context"
	"fmt"

	"github.com/Nzyazin/otpshop/internal/core/logger"
	"github.com/Nzyazin/otpshop/internal/core/models"
	"github.com/Nzyazin/otpshop/internal/core/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WalletSummary - балансы аккаунта и журнал операций.
type WalletSummary struct {
	AccountID        uuid.UUID                  `json:"account_id"`
	WalletBalance    decimal.Decimal            `json:"wallet_balance"`
	ReservedBalance  decimal.Decimal            `json:"reserved_balance"`
	AvailableBalance decimal.Decimal            `json:"available_balance"`
	Transactions     []models.WalletTransaction `json:"transactions"`
}

type WalletUsecase interface {
	GetSummary(ctx context.Context, accountID uuid.UUID) (*WalletSummary, error)
}

type walletUsecase struct {
	ledger repository.LedgerRepository
	log    logger.Logger
}

func NewWalletUsecase(ledger repository.LedgerRepository, log logger.Logger) WalletUsecase {
	return &walletUsecase{ledger: ledger, log: log}
}

func (uc *walletUsecase) GetSummary(ctx context.Context, accountID uuid.UUID) (*WalletSummary, error) {
	account, err := uc.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}

	transactions, err := uc.ledger.ListTransactions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	return &WalletSummary{
		AccountID:        account.ID,
		WalletBalance:    account.WalletBalance,
		ReservedBalance:  account.ReservedBalance,
		AvailableBalance: account.AvailableBalance(),
		Transactions:     transactions,
	}, nil
}
