package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Nzyazin/otpshop/internal/core/logger"
	"github.com/shopspring/decimal"
)

// ServiceOption - одна позиция каталога: пара код услуги/код сервера и
// фиксированная цена.
type ServiceOption struct {
	ServiceCode string          `json:"service_code"`
	ServerCode  string          `json:"server_code"`
	Price       decimal.Decimal `json:"price"`
}

// Catalog - имя услуги -> доступные варианты.
type Catalog map[string][]ServiceOption

// ParseCatalog разбирает JSON каталога. Цены провайдер отдаёт строками.
func ParseCatalog(data []byte) (Catalog, error) {
	var raw map[string][]struct {
		ServiceCode string `json:"service_code"`
		ServerCode  string `json:"server_code"`
		Price       string `json:"price"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	catalog := make(Catalog, len(raw))
	for name, items := range raw {
		options := make([]ServiceOption, 0, len(items))
		for _, item := range items {
			price, err := decimal.NewFromString(item.Price)
			if err != nil {
				return nil, fmt.Errorf("invalid price %q for service %q: %w", item.Price, name, err)
			}
			options = append(options, ServiceOption{
				ServiceCode: item.ServiceCode,
				ServerCode:  item.ServerCode,
				Price:       price,
			})
		}
		catalog[name] = options
	}
	return catalog, nil
}

// Источники каталога в порядке деградации.
const (
	SourceAPI      = "api"
	SourceCache    = "cache"
	SourceSnapshot = "snapshot"
	SourceSample   = "sample"
)

var ErrPriceNotFound = errors.New("price not found for service")

// catalogFetcher покрывается клиентом провайдера; отдельный интерфейс
// нужен тестам каталога.
type catalogFetcher interface {
	FetchServices(ctx context.Context) (Catalog, error)
}

// CatalogCache держит каталог в памяти с TTL и деградирует по цепочке
// кэш -> снимок на диске -> зашитая таблица, чтобы падение эндпоинта
// каталога не блокировало покупки.
type CatalogCache struct {
	fetcher      catalogFetcher
	snapshotPath string
	ttl          time.Duration
	log          logger.Logger

	mu        sync.Mutex
	catalog   Catalog
	fetchedAt time.Time
}

func NewCatalogCache(fetcher catalogFetcher, snapshotPath string, ttl time.Duration, log logger.Logger) *CatalogCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &CatalogCache{
		fetcher:      fetcher,
		snapshotPath: snapshotPath,
		ttl:          ttl,
		log:          log,
	}
}

// Services возвращает каталог и имя источника, из которого он получен.
func (c *CatalogCache) Services(ctx context.Context) (Catalog, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.catalog != nil && time.Since(c.fetchedAt) < c.ttl {
		return c.catalog, SourceCache, nil
	}

	catalog, err := c.fetcher.FetchServices(ctx)
	if err == nil {
		c.catalog = catalog
		c.fetchedAt = time.Now()
		c.writeSnapshot(catalog)
		return catalog, SourceAPI, nil
	}
	c.log.Warn("Catalog fetch failed, degrading", logger.ErrorField("error", err))

	// Протухший кэш лучше, чем отказ.
	if c.catalog != nil {
		return c.catalog, SourceCache, nil
	}

	if snapshot, snapErr := c.readSnapshot(); snapErr == nil {
		c.catalog = snapshot
		return snapshot, SourceSnapshot, nil
	}

	return sampleCatalog(), SourceSample, nil
}

// Price ищет цену пары (service_code, server_code) по всей цепочке источников.
func (c *CatalogCache) Price(ctx context.Context, serviceCode, serverCode string) (decimal.Decimal, error) {
	catalog, _, err := c.Services(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, options := range catalog {
		for _, option := range options {
			if option.ServiceCode == serviceCode && option.ServerCode == serverCode {
				return option.Price, nil
			}
		}
	}
	return decimal.Zero, fmt.Errorf("%w: %s/%s", ErrPriceNotFound, serviceCode, serverCode)
}

func (c *CatalogCache) writeSnapshot(catalog Catalog) {
	if c.snapshotPath == "" {
		return
	}
	data, err := json.Marshal(catalog)
	if err != nil {
		c.log.Error("Failed to marshal catalog snapshot", logger.ErrorField("error", err))
		return
	}
	if err := os.WriteFile(c.snapshotPath, data, 0644); err != nil {
		c.log.Error("Failed to write catalog snapshot", logger.ErrorField("error", err))
	}
}

func (c *CatalogCache) readSnapshot() (Catalog, error) {
	if c.snapshotPath == "" {
		return nil, errors.New("no snapshot path configured")
	}
	data, err := os.ReadFile(c.snapshotPath)
	if err != nil {
		return nil, err
	}
	var catalog Catalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, err
	}
	return catalog, nil
}

// sampleCatalog - последняя линия обороны, когда нет ни кэша, ни снимка.
func sampleCatalog() Catalog {
	option := func(service, server, price string) ServiceOption {
		return ServiceOption{
			ServiceCode: service,
			ServerCode:  server,
			Price:       decimal.RequireFromString(price),
		}
	}
	return Catalog{
		"168":  {option("hn", "19", "7.20")},
		"1688": {option("1688", "16", "9.80"), option("1688", "13", "9.00")},
		"Telegram": {
			option("tg", "19", "12.60"),
			option("tg", "1", "5.64"),
		},
		"WhatsApp": {
			option("wa", "19", "9.00"),
			option("wa", "2", "7.80"),
		},
		"Zomato": {
			option("dy", "1", "5.64"),
			option("dy", "19", "9.00"),
		},
		"Dream11": {
			option("dr11", "2", "9.00"),
			option("dr11", "3", "10.50"),
			option("dr11", "4", "15.00"),
		},
	}
}
