package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/Nzyazin/otpshop/internal/core/gateway"
	"github.com/Nzyazin/otpshop/internal/core/logger"
	"github.com/Nzyazin/otpshop/internal/core/models"
	"github.com/Nzyazin/otpshop/internal/core/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GatewayClient - срез клиента платёжного шлюза для движка пополнений.
type GatewayClient interface {
	CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.CreateOrderResult, error)
	CheckOrderStatus(ctx context.Context, orderID string) (*gateway.OrderStatus, error)
	VerifyWebhookSignature(payload []byte, signature string) bool
}

// RechargeConfig - границы суммы и URL возврата из шлюза.
type RechargeConfig struct {
	MinAmount   decimal.Decimal
	MaxAmount   decimal.Decimal
	CallbackURL string
}

// InitiateResult - результат создания платёжного заказа.
type InitiateResult struct {
	OrderID    string `json:"order_id"`
	PaymentURL string `json:"payment_url"`
}

type RechargeUsecase interface {
	Initiate(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*InitiateResult, error)
	// Reconcile - единая точка сверки для колбэка, вебхука и опроса
	// пользователем. Статус всегда перепроверяется у шлюза напрямую.
	Reconcile(ctx context.Context, orderID string) (*models.Recharge, error)
	VerifyWebhook(payload []byte, signature string) bool
	ListRecharges(ctx context.Context, accountID uuid.UUID) ([]models.Recharge, error)
}

type rechargeUsecase struct {
	recharges repository.RechargeRepository
	ledger    repository.LedgerRepository
	gateway   GatewayClient
	cfg       RechargeConfig
	log       logger.Logger
}

func NewRechargeUsecase(
	recharges repository.RechargeRepository,
	ledger repository.LedgerRepository,
	gatewayClient GatewayClient,
	cfg RechargeConfig,
	log logger.Logger,
) RechargeUsecase {
	return &rechargeUsecase{
		recharges: recharges,
		ledger:    ledger,
		gateway:   gatewayClient,
		cfg:       cfg,
		log:       log,
	}
}

func (uc *rechargeUsecase) Initiate(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*InitiateResult, error) {
	if amount.LessThan(uc.cfg.MinAmount) || amount.GreaterThan(uc.cfg.MaxAmount) {
		return nil, fmt.Errorf("%w: %s (allowed %s..%s)",
			ErrInvalidAmount, amount, uc.cfg.MinAmount, uc.cfg.MaxAmount)
	}

	account, err := uc.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}

	orderID := newRechargeOrderID()
	recharge := &models.Recharge{
		ID:        uuid.New(),
		AccountID: accountID,
		OrderID:   orderID,
		Amount:    amount,
		Status:    models.RechargePending,
	}
	if err := uc.recharges.Create(ctx, recharge); err != nil {
		return nil, fmt.Errorf("create recharge: %w", err)
	}

	uc.log.Info("Initiating recharge",
		logger.StringField("account_id", accountID.String()),
		logger.StringField("order_id", orderID),
		logger.DecimalField("amount", amount))

	result, err := uc.gateway.CreateOrder(ctx, gateway.CreateOrderRequest{
		OrderID:     orderID,
		Amount:      amount.StringFixedBank(2),
		CustomerRef: accountID.String(),
		RedirectURL: uc.cfg.CallbackURL,
		Remark:      "Wallet Recharge",
		Remark2:     account.Name,
	})
	if err != nil {
		details, _ := json.Marshal(map[string]string{"error": err.Error()})
		if updErr := uc.recharges.UpdateStatus(ctx, orderID, models.RechargeError, details); updErr != nil {
			uc.log.Error("Failed to mark recharge errored",
				logger.StringField("order_id", orderID),
				logger.ErrorField("error", updErr))
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	if !result.Status {
		uc.log.Warn("Gateway rejected payment order",
			logger.StringField("order_id", orderID),
			logger.StringField("message", result.Message))
		if updErr := uc.recharges.UpdateStatus(ctx, orderID, models.RechargeFailed, result.Raw); updErr != nil {
			uc.log.Error("Failed to mark recharge failed",
				logger.StringField("order_id", orderID),
				logger.ErrorField("error", updErr))
		}
		return nil, fmt.Errorf("%w: order rejected", ErrGatewayUnavailable)
	}

	return &InitiateResult{OrderID: orderID, PaymentURL: result.Result.PaymentURL}, nil
}

// Reconcile никогда не доверяет статусу из входящего запроса: колбэк и
// вебхук могут быть подделаны. Единственный источник истины - прямой
// запрос статуса у шлюза.
func (uc *rechargeUsecase) Reconcile(ctx context.Context, orderID string) (*models.Recharge, error) {
	recharge, err := uc.getRecharge(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if recharge.Status == models.RechargeCompleted {
		return recharge, nil
	}

	status, err := uc.gateway.CheckOrderStatus(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	if status.Successful() {
		err := uc.recharges.CompleteWithCredit(ctx, orderID, status.TransactionID(), status.Raw)
		switch {
		case err == nil:
			uc.log.Info("Wallet recharged",
				logger.StringField("order_id", orderID),
				logger.DecimalField("amount", recharge.Amount),
				logger.StringField("transaction_id", status.TransactionID()))
		case errors.Is(err, repository.ErrAlreadyCredited):
			// Конкурирующий триггер успел раньше.
		default:
			return nil, fmt.Errorf("complete recharge: %w", err)
		}
		return uc.getRecharge(ctx, orderID)
	}

	reported := models.RechargeStatus(status.Status)
	if reported == "" {
		reported = models.RechargeError
	}
	uc.log.Warn("Recharge not successful at gateway",
		logger.StringField("order_id", orderID),
		logger.StringField("gateway_status", status.Status),
		logger.StringField("message", status.Message))
	if err := uc.recharges.UpdateStatus(ctx, orderID, reported, status.Raw); err != nil &&
		!errors.Is(err, repository.ErrAlreadyTerminal) {
		return nil, fmt.Errorf("update recharge status: %w", err)
	}
	return uc.getRecharge(ctx, orderID)
}

func (uc *rechargeUsecase) VerifyWebhook(payload []byte, signature string) bool {
	return uc.gateway.VerifyWebhookSignature(payload, signature)
}

func (uc *rechargeUsecase) ListRecharges(ctx context.Context, accountID uuid.UUID) ([]models.Recharge, error) {
	return uc.recharges.ListByAccount(ctx, accountID)
}

func (uc *rechargeUsecase) getRecharge(ctx context.Context, orderID string) (*models.Recharge, error) {
	recharge, err := uc.recharges.GetByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrRechargeNotFound) {
			return nil, ErrInvalidOrder
		}
		return nil, fmt.Errorf("get recharge: %w", err)
	}
	return recharge, nil
}

func newRechargeOrderID() string {
	return fmt.Sprintf("RM%d%04d", time.Now().Unix(), rand.Intn(9000)+1000)
}
