package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Nzyazin/otpshop/internal/core/logger"
	"github.com/Nzyazin/otpshop/internal/core/models"
	"github.com/Nzyazin/otpshop/internal/core/provider"
	"github.com/Nzyazin/otpshop/internal/core/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	statusRetryAttempts = 3
	statusRetryDelay    = 2 * time.Second
)

// ProviderClient - срез клиента провайдера, нужный машине состояний покупки.
type ProviderClient interface {
	GetNumber(ctx context.Context, serviceCode, serverCode string) (provider.NumberResult, error)
	GetStatus(ctx context.Context, orderID string, background bool) (provider.StatusResult, error)
	CancelNumber(ctx context.Context, orderID string) (provider.CancelResult, error)
}

// PriceSource отдаёт цену пары (service_code, server_code).
type PriceSource interface {
	Price(ctx context.Context, serviceCode, serverCode string) (decimal.Decimal, error)
}

// RequestNumberInput - параметры запроса номера.
type RequestNumberInput struct {
	AccountID   uuid.UUID
	ServiceName string
	ServiceCode string
	ServerCode  string
}

// CheckOptions управляют одной проверкой статуса.
type CheckOptions struct {
	// Background укорачивает тайм-аут провайдера и отключает ретраи.
	Background bool
	// TimeoutReached - вызывающая сторона сообщает, что локальный
	// отсчёт истёк: покупка закрывается через таймаут-переход.
	TimeoutReached bool
}

type PurchaseUsecase interface {
	RequestNumber(ctx context.Context, in RequestNumberInput) (*models.OtpPurchase, error)
	CheckStatus(ctx context.Context, orderID string, opts CheckOptions) (*models.OtpPurchase, error)
	Cancel(ctx context.Context, orderID string) (*models.OtpPurchase, error)
	ExpireTimedOut(ctx context.Context, orderID string) error
	RegisterBackgroundCheck(ctx context.Context, orderID string) error
	GetPurchase(ctx context.Context, orderID string) (*models.OtpPurchase, error)
	ListPurchases(ctx context.Context, accountID uuid.UUID) ([]models.OtpPurchase, error)
}

type purchaseUsecase struct {
	purchases repository.PurchaseRepository
	ledger    repository.LedgerRepository
	provider  ProviderClient
	prices    PriceSource
	log       logger.Logger
}

func NewPurchaseUsecase(
	purchases repository.PurchaseRepository,
	ledger repository.LedgerRepository,
	providerClient ProviderClient,
	prices PriceSource,
	log logger.Logger,
) PurchaseUsecase {
	return &purchaseUsecase{
		purchases: purchases,
		ledger:    ledger,
		provider:  providerClient,
		prices:    prices,
		log:       log,
	}
}

// RequestNumber: цена -> проверка available-баланса -> запрос номера у
// провайдера -> покупка и удержание в одной транзакции БД. До подтверждения
// номера провайдером средства не трогаются; если локальная транзакция
// падает после выделения номера, номер отменяется best-effort.
func (uc *purchaseUsecase) RequestNumber(ctx context.Context, in RequestNumberInput) (*models.OtpPurchase, error) {
	price, err := uc.prices.Price(ctx, in.ServiceCode, in.ServerCode)
	if err != nil {
		uc.log.Warn("Price lookup failed",
			logger.StringField("service_code", in.ServiceCode),
			logger.StringField("server_code", in.ServerCode),
			logger.ErrorField("error", err))
		return nil, fmt.Errorf("%w: %s/%s", ErrPriceUnknown, in.ServiceCode, in.ServerCode)
	}

	account, err := uc.ledger.GetAccount(ctx, in.AccountID)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if !account.HasSufficientBalance(price) {
		uc.log.Warn("Insufficient available balance",
			logger.StringField("account_id", in.AccountID.String()),
			logger.DecimalField("available", account.AvailableBalance()),
			logger.DecimalField("price", price))
		return nil, ErrInsufficientFunds
	}

	result, err := uc.provider.GetNumber(ctx, in.ServiceCode, in.ServerCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	switch result.Kind {
	case provider.NumberAllocated:
	case provider.NumberNoNumbers:
		return nil, ErrNoNumbers
	case provider.NumberNoBalance, provider.NumberError, provider.NumberUnrecognized:
		uc.log.Error("Provider rejected number request",
			logger.StringField("service_code", in.ServiceCode),
			logger.StringField("raw", result.Raw))
		return nil, ErrProviderUnavailable
	}

	purchase := &models.OtpPurchase{
		ID:          uuid.New(),
		AccountID:   in.AccountID,
		OrderID:     result.OrderID,
		PhoneNumber: result.Phone,
		ServiceName: in.ServiceName,
		ServiceCode: in.ServiceCode,
		ServerCode:  in.ServerCode,
		Price:       price,
		Status:      models.PurchaseWaiting,
	}

	if err := uc.purchases.CreateWithHold(ctx, purchase); err != nil {
		// Номер уже выделен у провайдера, но локально ничего не сохранилось.
		// Отменяем активацию, чтобы не жечь номер впустую.
		if _, cancelErr := uc.provider.CancelNumber(ctx, result.OrderID); cancelErr != nil {
			uc.log.Error("Failed to cancel orphaned provider number",
				logger.StringField("order_id", result.OrderID),
				logger.ErrorField("error", cancelErr))
		}
		if errors.Is(err, repository.ErrInsufficientFunds) {
			return nil, ErrInsufficientFunds
		}
		return nil, fmt.Errorf("create purchase with hold: %w", err)
	}

	uc.log.Info("Number allocated",
		logger.StringField("order_id", purchase.OrderID),
		logger.StringField("phone_number", purchase.PhoneNumber),
		logger.DecimalField("price", price))
	return purchase, nil
}

// CheckStatus - единая точка сверки для пользовательского опроса, свипера
// и отмены. Кто первым увидит ответ провайдера, тот и выполнит переход;
// остальные наткнутся на терминальный статус и просто вернут его.
func (uc *purchaseUsecase) CheckStatus(ctx context.Context, orderID string, opts CheckOptions) (*models.OtpPurchase, error) {
	purchase, err := uc.getPurchase(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if purchase.Status.Terminal() {
		return purchase, nil
	}

	if opts.TimeoutReached {
		if err := uc.ExpireTimedOut(ctx, orderID); err != nil {
			return nil, err
		}
		return uc.getPurchase(ctx, orderID)
	}

	result, err := uc.pollStatus(ctx, orderID, opts.Background)
	if err != nil {
		// Сетевые ошибки не меняют состояние покупки.
		return nil, err
	}

	if err := uc.applyStatus(ctx, orderID, result); err != nil {
		return nil, err
	}
	return uc.getPurchase(ctx, orderID)
}

// Cancel отменяет активацию по запросу пользователя. Ответ провайдера
// важен только для его стороны: локальное освобождение средств
// выполняется в любом случае.
func (uc *purchaseUsecase) Cancel(ctx context.Context, orderID string) (*models.OtpPurchase, error) {
	purchase, err := uc.getPurchase(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if purchase.Status.Terminal() {
		return purchase, nil
	}

	if result, err := uc.provider.CancelNumber(ctx, orderID); err != nil {
		uc.log.Warn("Provider cancel failed, releasing hold anyway",
			logger.StringField("order_id", orderID),
			logger.ErrorField("error", err))
	} else if result.Kind == provider.CancelUnrecognized {
		uc.log.Warn("Unrecognized provider cancel response",
			logger.StringField("order_id", orderID),
			logger.StringField("raw", result.Raw))
	}

	if err := uc.settleCancelled(ctx, orderID, "user cancelled"); err != nil {
		return nil, err
	}
	return uc.getPurchase(ctx, orderID)
}

// ExpireTimedOut закрывает покупку по локальному таймауту. Отмена у
// провайдера - best effort: удержание не должно переживать таймаут,
// даже если провайдер недоступен.
func (uc *purchaseUsecase) ExpireTimedOut(ctx context.Context, orderID string) error {
	if _, err := uc.provider.CancelNumber(ctx, orderID); err != nil {
		uc.log.Warn("Provider cancel failed during timeout, releasing hold anyway",
			logger.StringField("order_id", orderID),
			logger.ErrorField("error", err))
	}

	err := uc.purchases.SettleExpired(ctx, orderID, "timeout")
	switch {
	case err == nil:
		uc.log.Info("Purchase expired by timeout", logger.StringField("order_id", orderID))
		return nil
	case errors.Is(err, repository.ErrAlreadyTerminal):
		return nil
	case errors.Is(err, repository.ErrPurchaseNotFound):
		return ErrInvalidOrder
	default:
		return fmt.Errorf("expire purchase: %w", err)
	}
}

func (uc *purchaseUsecase) RegisterBackgroundCheck(ctx context.Context, orderID string) error {
	err := uc.purchases.SetBackgroundMonitoring(ctx, orderID, true)
	if errors.Is(err, repository.ErrPurchaseNotFound) {
		// Либо заказа нет, либо он уже закрыт - мониторить нечего.
		purchase, getErr := uc.getPurchase(ctx, orderID)
		if getErr != nil {
			return getErr
		}
		if purchase.Status.Terminal() {
			return nil
		}
		return err
	}
	return err
}

func (uc *purchaseUsecase) GetPurchase(ctx context.Context, orderID string) (*models.OtpPurchase, error) {
	return uc.getPurchase(ctx, orderID)
}

func (uc *purchaseUsecase) ListPurchases(ctx context.Context, accountID uuid.UUID) ([]models.OtpPurchase, error) {
	return uc.purchases.ListByAccount(ctx, accountID)
}

func (uc *purchaseUsecase) getPurchase(ctx context.Context, orderID string) (*models.OtpPurchase, error) {
	purchase, err := uc.purchases.GetByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrPurchaseNotFound) {
			return nil, ErrInvalidOrder
		}
		return nil, fmt.Errorf("get purchase: %w", err)
	}
	return purchase, nil
}

// pollStatus опрашивает провайдера с ограниченным числом попыток.
// Исчерпание попыток - транзиентная ошибка, не повод отменять покупку.
func (uc *purchaseUsecase) pollStatus(ctx context.Context, orderID string, background bool) (provider.StatusResult, error) {
	attempts := statusRetryAttempts
	if background {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return provider.StatusResult{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, ctx.Err())
			case <-time.After(statusRetryDelay):
			}
		}
		result, err := uc.provider.GetStatus(ctx, orderID, background)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return provider.StatusResult{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, lastErr)
}

// applyStatus - таблица переходов waiting -> {completed, cancelled}.
// ErrAlreadyTerminal означает, что переход уже выполнил конкурирующий
// вызов: для нас это успех.
func (uc *purchaseUsecase) applyStatus(ctx context.Context, orderID string, result provider.StatusResult) error {
	switch result.Kind {
	case provider.StatusCodeReceived:
		err := uc.purchases.SettleCompleted(ctx, orderID, result.Code)
		if err != nil && !errors.Is(err, repository.ErrAlreadyTerminal) {
			return fmt.Errorf("settle completed: %w", err)
		}
		if err == nil {
			uc.log.Info("Verification code received",
				logger.StringField("order_id", orderID))
		}
		return nil
	case provider.StatusCancelled, provider.StatusNoActivation:
		return uc.settleCancelled(ctx, orderID, "provider cancelled")
	case provider.StatusWaiting:
		return nil
	case provider.StatusUnrecognized:
		uc.log.Warn("Unrecognized provider status response",
			logger.StringField("order_id", orderID),
			logger.StringField("raw", result.Raw))
		return nil
	default:
		return nil
	}
}

func (uc *purchaseUsecase) settleCancelled(ctx context.Context, orderID, reason string) error {
	err := uc.purchases.SettleCancelled(ctx, orderID, reason)
	switch {
	case err == nil:
		uc.log.Info("Purchase cancelled",
			logger.StringField("order_id", orderID),
			logger.StringField("reason", reason))
		return nil
	case errors.Is(err, repository.ErrAlreadyTerminal):
		return nil
	case errors.Is(err, repository.ErrPurchaseNotFound):
		return ErrInvalidOrder
	default:
		return fmt.Errorf("settle cancelled: %w", err)
	}
}
