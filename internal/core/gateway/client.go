package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Nzyazin/otpshop/internal/core/logger"
)

const requestTimeout = 20 * time.Second

// Client - клиент платёжного шлюза: создание заказа и проверка статуса.
// Статусу из входящих колбэков и вебхуков не верим - всегда переспрашиваем
// шлюз напрямую через CheckOrderStatus.
type Client struct {
	baseURL string
	secret  string
	httpc   *http.Client
	log     logger.Logger
}

func NewClient(baseURL, secret string, log logger.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		secret:  secret,
		httpc:   &http.Client{},
		log:     log,
	}
}

// CreateOrderRequest - параметры создания платёжного заказа.
type CreateOrderRequest struct {
	OrderID     string
	Amount      string
	CustomerRef string
	RedirectURL string
	Remark      string
	Remark2     string
}

// CreateOrderResult - ответ create-order. В этом вызове шлюз отдаёт
// status булевым полем, в отличие от check-order-status.
type CreateOrderResult struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Result  struct {
		PaymentURL string `json:"payment_url"`
	} `json:"result"`
	Raw json.RawMessage `json:"-"`
}

func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	form := url.Values{}
	form.Set("customer_mobile", req.CustomerRef)
	form.Set("user_token", c.secret)
	form.Set("amount", req.Amount)
	form.Set("order_id", req.OrderID)
	form.Set("redirect_url", req.RedirectURL)
	form.Set("remark1", req.Remark)
	form.Set("remark2", req.Remark2)

	body, err := c.postForm(ctx, "/api/create-order", form)
	if err != nil {
		return nil, err
	}

	var result CreateOrderResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode create-order response: %w", err)
	}
	result.Raw = body
	return &result, nil
}

// OrderStatus - ответ check-order-status. Разные инсталляции шлюза пишут
// успех и идентификатор транзакции в разные поля, поэтому все варианты
// собраны здесь и читаются через Successful/TransactionID.
type OrderStatus struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	TxnStatus  string `json:"txnStatus"`
	TxnID      string `json:"txnId"`
	UTR        string `json:"utr"`
	ResultInfo string `json:"resultInfo"`
	Result     struct {
		UTR string `json:"utr"`
	} `json:"result"`
	Raw json.RawMessage `json:"-"`
}

// Successful распознаёт успех под всеми известными написаниями.
func (s *OrderStatus) Successful() bool {
	return s.Status == "COMPLETED" ||
		s.Status == "SUCCESS" ||
		s.TxnStatus == "COMPLETED"
}

// TransactionID извлекает идентификатор транзакции из первого
// заполненного поля.
func (s *OrderStatus) TransactionID() string {
	for _, candidate := range []string{s.UTR, s.Result.UTR, s.TxnID, s.TxnStatus, s.ResultInfo} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

func (c *Client) CheckOrderStatus(ctx context.Context, orderID string) (*OrderStatus, error) {
	form := url.Values{}
	form.Set("user_token", c.secret)
	form.Set("order_id", orderID)

	body, err := c.postForm(ctx, "/api/check-order-status", form)
	if err != nil {
		return nil, err
	}

	var status OrderStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("decode order status: %w", err)
	}
	status.Raw = body
	return &status, nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return body, nil
}

// VerifyWebhookSignature сверяет HMAC-SHA256 подпись тела вебхука.
// Пустой секрет отключает проверку.
func (c *Client) VerifyWebhookSignature(payload []byte, signature string) bool {
	if c.secret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
