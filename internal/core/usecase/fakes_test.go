package usecase_test

import (
	"context"
	"sync"
	"time"

	"github.com/Nzyazin/otpshop/internal/core/gateway"
	"github.com/Nzyazin/otpshop/internal/core/models"
	"github.com/Nzyazin/otpshop/internal/core/provider"
	"github.com/Nzyazin/otpshop/internal/core/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Фейки повторяют контракт postgres-репозиториев: охраняемые терминальные
// переходы и идемпотентность Capture/Release/Credit.

type memHold struct {
	accountID uuid.UUID
	amount    decimal.Decimal
	status    models.TransactionStatus
}

type memLedger struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*models.Account
	holds    map[string]*memHold
	credited map[string]bool
	txns     []models.WalletTransaction

	reserveErr error
}

func newMemLedger() *memLedger {
	return &memLedger{
		accounts: make(map[uuid.UUID]*models.Account),
		holds:    make(map[string]*memHold),
		credited: make(map[string]bool),
	}
}

func (l *memLedger) addAccount(balance string) uuid.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := uuid.New()
	l.accounts[id] = &models.Account{
		ID:            id,
		Name:          "test account",
		WalletBalance: decimal.RequireFromString(balance),
	}
	return id
}

func (l *memLedger) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	account, ok := l.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (l *memLedger) Reserve(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, referenceID, description string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reserveErr != nil {
		return l.reserveErr
	}
	account, ok := l.accounts[accountID]
	if !ok {
		return repository.ErrAccountNotFound
	}
	if account.WalletBalance.Sub(account.ReservedBalance).LessThan(amount) {
		return repository.ErrInsufficientFunds
	}
	account.ReservedBalance = account.ReservedBalance.Add(amount)
	l.holds[referenceID] = &memHold{accountID: accountID, amount: amount, status: models.TransactionPending}
	l.txns = append(l.txns, models.WalletTransaction{
		ID:          uuid.New(),
		AccountID:   accountID,
		Amount:      amount.Neg(),
		Type:        models.TransactionPurchase,
		Status:      models.TransactionPending,
		ReferenceID: referenceID,
		Description: description,
	})
	return nil
}

func (l *memLedger) Capture(ctx context.Context, referenceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	hold, ok := l.holds[referenceID]
	if !ok {
		return repository.ErrTransactionNotFound
	}
	if hold.status != models.TransactionPending {
		return repository.ErrAlreadyTerminal
	}
	account := l.accounts[hold.accountID]
	account.WalletBalance = account.WalletBalance.Sub(hold.amount)
	account.ReservedBalance = account.ReservedBalance.Sub(hold.amount)
	hold.status = models.TransactionCompleted
	return nil
}

func (l *memLedger) Release(ctx context.Context, referenceID, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	hold, ok := l.holds[referenceID]
	if !ok {
		return repository.ErrTransactionNotFound
	}
	if hold.status != models.TransactionPending {
		return repository.ErrAlreadyTerminal
	}
	account := l.accounts[hold.accountID]
	account.ReservedBalance = account.ReservedBalance.Sub(hold.amount)
	hold.status = models.TransactionCancelled
	l.txns = append(l.txns, models.WalletTransaction{
		ID:          uuid.New(),
		AccountID:   hold.accountID,
		Amount:      hold.amount,
		Type:        models.TransactionRefund,
		Status:      models.TransactionCompleted,
		ReferenceID: referenceID,
		Description: reason,
	})
	return nil
}

func (l *memLedger) Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, referenceID, description string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.credited[referenceID] {
		return repository.ErrAlreadyCredited
	}
	account, ok := l.accounts[accountID]
	if !ok {
		return repository.ErrAccountNotFound
	}
	account.WalletBalance = account.WalletBalance.Add(amount)
	l.credited[referenceID] = true
	l.txns = append(l.txns, models.WalletTransaction{
		ID:          uuid.New(),
		AccountID:   accountID,
		Amount:      amount,
		Type:        models.TransactionRecharge,
		Status:      models.TransactionCompleted,
		ReferenceID: referenceID,
		Description: description,
	})
	return nil
}

func (l *memLedger) ListTransactions(ctx context.Context, accountID uuid.UUID) ([]models.WalletTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.WalletTransaction
	for _, txn := range l.txns {
		if txn.AccountID == accountID {
			out = append(out, txn)
		}
	}
	return out, nil
}

func (l *memLedger) balances(id uuid.UUID) (wallet, reserved decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	account := l.accounts[id]
	return account.WalletBalance, account.ReservedBalance
}

func (l *memLedger) refundCount(referenceID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for _, txn := range l.txns {
		if txn.ReferenceID == referenceID && txn.Type == models.TransactionRefund {
			count++
		}
	}
	return count
}

type memPurchases struct {
	mu        sync.Mutex
	ledger    *memLedger
	purchases map[string]*models.OtpPurchase
}

func newMemPurchases(ledger *memLedger) *memPurchases {
	return &memPurchases{ledger: ledger, purchases: make(map[string]*models.OtpPurchase)}
}

func (r *memPurchases) GetByOrderID(ctx context.Context, orderID string) (*models.OtpPurchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	purchase, ok := r.purchases[orderID]
	if !ok {
		return nil, repository.ErrPurchaseNotFound
	}
	copied := *purchase
	return &copied, nil
}

func (r *memPurchases) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.OtpPurchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.OtpPurchase
	for _, purchase := range r.purchases {
		if purchase.AccountID == accountID {
			out = append(out, *purchase)
		}
	}
	return out, nil
}

func (r *memPurchases) CreateWithHold(ctx context.Context, purchase *models.OtpPurchase) error {
	if err := r.ledger.Reserve(ctx, purchase.AccountID, purchase.Price, purchase.OrderID, "hold"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *purchase
	copied.CreatedAt = time.Now()
	r.purchases[purchase.OrderID] = &copied
	return nil
}

func (r *memPurchases) markTerminal(orderID string, to models.PurchaseStatus) (*models.OtpPurchase, error) {
	purchase, ok := r.purchases[orderID]
	if !ok {
		return nil, repository.ErrPurchaseNotFound
	}
	if purchase.Status != models.PurchaseWaiting {
		return nil, repository.ErrAlreadyTerminal
	}
	purchase.Status = to
	return purchase, nil
}

func (r *memPurchases) SettleCompleted(ctx context.Context, orderID, verificationCode string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	purchase, err := r.markTerminal(orderID, models.PurchaseCompleted)
	if err != nil {
		return err
	}
	if err := r.ledger.Capture(ctx, orderID); err != nil {
		purchase.Status = models.PurchaseWaiting
		return err
	}
	now := time.Now()
	purchase.VerificationCode = &verificationCode
	purchase.VerificationReceivedAt = &now
	return nil
}

func (r *memPurchases) SettleCancelled(ctx context.Context, orderID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	purchase, err := r.markTerminal(orderID, models.PurchaseCancelled)
	if err != nil {
		return err
	}
	if err := r.ledger.Release(ctx, orderID, reason); err != nil {
		purchase.Status = models.PurchaseWaiting
		return err
	}
	now := time.Now()
	purchase.CancelledAt = &now
	return nil
}

func (r *memPurchases) SettleExpired(ctx context.Context, orderID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	purchase, err := r.markTerminal(orderID, models.PurchaseExpired)
	if err != nil {
		return err
	}
	if err := r.ledger.Release(ctx, orderID, reason); err != nil {
		purchase.Status = models.PurchaseWaiting
		return err
	}
	now := time.Now()
	purchase.ExpiredAt = &now
	return nil
}

func (r *memPurchases) SetBackgroundMonitoring(ctx context.Context, orderID string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	purchase, ok := r.purchases[orderID]
	if !ok || purchase.Status != models.PurchaseWaiting {
		return repository.ErrPurchaseNotFound
	}
	purchase.BackgroundMonitoring = enabled
	now := time.Now()
	purchase.LastBackgroundCheck = &now
	return nil
}

func (r *memPurchases) TouchBackgroundCheck(ctx context.Context, orderID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	purchase, ok := r.purchases[orderID]
	if !ok {
		return repository.ErrPurchaseNotFound
	}
	purchase.LastBackgroundCheck = &at
	return nil
}

func (r *memPurchases) ListForSweep(ctx context.Context, minSpacing time.Duration, now time.Time) ([]models.OtpPurchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := now.Add(-minSpacing)
	var out []models.OtpPurchase
	for _, purchase := range r.purchases {
		if purchase.Status != models.PurchaseWaiting || !purchase.BackgroundMonitoring {
			continue
		}
		if purchase.LastBackgroundCheck == nil || !purchase.LastBackgroundCheck.After(cutoff) {
			out = append(out, *purchase)
		}
	}
	return out, nil
}

type memRecharges struct {
	mu        sync.Mutex
	ledger    *memLedger
	recharges map[string]*models.Recharge
}

func newMemRecharges(ledger *memLedger) *memRecharges {
	return &memRecharges{ledger: ledger, recharges: make(map[string]*models.Recharge)}
}

func (r *memRecharges) GetByOrderID(ctx context.Context, orderID string) (*models.Recharge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	recharge, ok := r.recharges[orderID]
	if !ok {
		return nil, repository.ErrRechargeNotFound
	}
	copied := *recharge
	return &copied, nil
}

func (r *memRecharges) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.Recharge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Recharge
	for _, recharge := range r.recharges {
		if recharge.AccountID == accountID {
			out = append(out, *recharge)
		}
	}
	return out, nil
}

func (r *memRecharges) Create(ctx context.Context, recharge *models.Recharge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *recharge
	r.recharges[recharge.OrderID] = &copied
	return nil
}

func (r *memRecharges) UpdateStatus(ctx context.Context, orderID string, status models.RechargeStatus, details []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	recharge, ok := r.recharges[orderID]
	if !ok {
		return repository.ErrRechargeNotFound
	}
	if recharge.Status == models.RechargeCompleted {
		return repository.ErrAlreadyTerminal
	}
	recharge.Status = status
	if len(details) > 0 {
		recharge.PaymentDetails = details
	}
	return nil
}

func (r *memRecharges) CompleteWithCredit(ctx context.Context, orderID, transactionID string, details []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	recharge, ok := r.recharges[orderID]
	if !ok {
		return repository.ErrRechargeNotFound
	}
	if recharge.Status == models.RechargeCompleted {
		return repository.ErrAlreadyCredited
	}
	if err := r.ledger.Credit(ctx, recharge.AccountID, recharge.Amount, orderID, "recharge"); err != nil {
		return err
	}
	recharge.Status = models.RechargeCompleted
	if transactionID != "" {
		recharge.TransactionID = &transactionID
	}
	if len(details) > 0 {
		recharge.PaymentDetails = details
	}
	return nil
}

type fakeProvider struct {
	mu sync.Mutex

	numberResult provider.NumberResult
	numberErr    error

	statusResult provider.StatusResult
	statusErr    error

	cancelResult provider.CancelResult
	cancelErr    error

	numberCalls int
	statusCalls int
	cancelCalls int
}

func (p *fakeProvider) GetNumber(ctx context.Context, serviceCode, serverCode string) (provider.NumberResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.numberCalls++
	return p.numberResult, p.numberErr
}

func (p *fakeProvider) GetStatus(ctx context.Context, orderID string, background bool) (provider.StatusResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusCalls++
	return p.statusResult, p.statusErr
}

func (p *fakeProvider) CancelNumber(ctx context.Context, orderID string) (provider.CancelResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelCalls++
	return p.cancelResult, p.cancelErr
}

type staticPrices map[string]decimal.Decimal

func (p staticPrices) Price(ctx context.Context, serviceCode, serverCode string) (decimal.Decimal, error) {
	price, ok := p[serviceCode+"/"+serverCode]
	if !ok {
		return decimal.Zero, provider.ErrPriceNotFound
	}
	return price, nil
}

type fakeGateway struct {
	mu sync.Mutex

	createResult *gateway.CreateOrderResult
	createErr    error

	status    *gateway.OrderStatus
	statusErr error

	checkCalls int
}

func (g *fakeGateway) CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.CreateOrderResult, error) {
	return g.createResult, g.createErr
}

func (g *fakeGateway) CheckOrderStatus(ctx context.Context, orderID string) (*gateway.OrderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkCalls++
	return g.status, g.statusErr
}

func (g *fakeGateway) VerifyWebhookSignature(payload []byte, signature string) bool {
	return signature == "valid"
}
