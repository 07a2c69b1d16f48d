package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Nzyazin/otpshop/internal/core/logger"
)

// Тайм-ауты по типам вызовов. Фоновые проверки короче, чтобы один
// зависший запрос не тормозил весь проход свипера.
const (
	servicesTimeout   = 30 * time.Second
	numberTimeout     = 20 * time.Second
	statusTimeout     = 20 * time.Second
	backgroundTimeout = 10 * time.Second
	cancelStatusCode  = "8"
)

// Client - тонкая обёртка над текстовым протоколом провайдера номеров.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	log     logger.Logger
}

func NewClient(baseURL, apiKey string, log logger.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{},
		log:     log,
	}
}

func (c *Client) get(ctx context.Context, timeout time.Duration, params url.Values) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params.Set("api_key", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build provider request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read provider response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	return string(body), nil
}

// GetNumber запрашивает номер для пары (service, server).
func (c *Client) GetNumber(ctx context.Context, serviceCode, serverCode string) (NumberResult, error) {
	params := url.Values{}
	params.Set("action", "getNumber")
	params.Set("service", serviceCode)
	params.Set("server", serverCode)

	body, err := c.get(ctx, numberTimeout, params)
	if err != nil {
		return NumberResult{}, err
	}
	c.log.Info("Provider getNumber response", logger.StringField("body", body))
	return ParseNumberResponse(body), nil
}

// GetStatus опрашивает статус заказа. background укорачивает тайм-аут.
func (c *Client) GetStatus(ctx context.Context, orderID string, background bool) (StatusResult, error) {
	params := url.Values{}
	params.Set("action", "getStatus")
	params.Set("id", orderID)

	timeout := statusTimeout
	if background {
		timeout = backgroundTimeout
	}
	body, err := c.get(ctx, timeout, params)
	if err != nil {
		return StatusResult{}, err
	}
	return ParseStatusResponse(body), nil
}

// CancelNumber просит провайдера отменить активацию.
func (c *Client) CancelNumber(ctx context.Context, orderID string) (CancelResult, error) {
	params := url.Values{}
	params.Set("action", "setStatus")
	params.Set("status", cancelStatusCode)
	params.Set("id", orderID)

	body, err := c.get(ctx, statusTimeout, params)
	if err != nil {
		return CancelResult{}, err
	}
	c.log.Info("Provider cancel response",
		logger.StringField("order_id", orderID),
		logger.StringField("body", body))
	return ParseCancelResponse(body), nil
}

// FetchServices забирает каталог услуг провайдера.
func (c *Client) FetchServices(ctx context.Context) (Catalog, error) {
	params := url.Values{}
	params.Set("action", "getServices")

	body, err := c.get(ctx, servicesTimeout, params)
	if err != nil {
		return nil, err
	}
	catalog, err := ParseCatalog([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("parse services: %w", err)
	}
	return catalog, nil
}
