package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type DBConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	MaxOpenConns int
	MaxIdleConns int
}

// ProviderConfig - доступ к API провайдера номеров.
type ProviderConfig struct {
	URL          string
	APIKey       string
	SnapshotPath string
	CatalogTTL   time.Duration
}

// GatewayConfig - доступ к платёжному шлюзу.
type GatewayConfig struct {
	URL         string
	Secret      string
	CallbackURL string
	MinRecharge decimal.Decimal
	MaxRecharge decimal.Decimal
}

// SweeperConfig - расписание фоновой сверки покупок.
type SweeperConfig struct {
	Interval    time.Duration
	MinSpacing  time.Duration
	PurchaseTTL time.Duration
}

type Config struct {
	DB       DBConfig
	Provider ProviderConfig
	Gateway  GatewayConfig
	Sweeper  SweeperConfig
	HTTPAddr string
}

// Load читает config.env и собирает конфигурацию с валидацией полей.
func Load() (*Config, error) {
	if err := godotenv.Load(filepath.Join("config.env")); err != nil {
		return nil, err
	}

	db, err := loadDB()
	if err != nil {
		return nil, err
	}

	providerCfg, err := loadProvider()
	if err != nil {
		return nil, err
	}

	gatewayCfg, err := loadGateway()
	if err != nil {
		return nil, err
	}

	sweeperCfg, err := loadSweeper()
	if err != nil {
		return nil, err
	}

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	return &Config{
		DB:       *db,
		Provider: *providerCfg,
		Gateway:  *gatewayCfg,
		Sweeper:  *sweeperCfg,
		HTTPAddr: addr,
	}, nil
}

func loadDB() (*DBConfig, error) {
	port, err := strconv.Atoi(os.Getenv("DB_PORT"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	maxOpen, err := strconv.Atoi(os.Getenv("DB_MAX_OPEN_CONNS"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %w", err)
	}

	maxIdle, err := strconv.Atoi(os.Getenv("DB_MAX_IDLE_CONNS"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_IDLE_CONNS: %w", err)
	}

	return &DBConfig{
		Host:         os.Getenv("DB_HOST"),
		Port:         port,
		User:         os.Getenv("DB_USER"),
		Password:     os.Getenv("DB_PASSWORD"),
		Name:         os.Getenv("DB_NAME"),
		MaxOpenConns: maxOpen,
		MaxIdleConns: maxIdle,
	}, nil
}

func loadProvider() (*ProviderConfig, error) {
	apiURL := os.Getenv("OTP_PROVIDER_URL")
	if apiURL == "" {
		return nil, fmt.Errorf("OTP_PROVIDER_URL is required")
	}
	apiKey := os.Getenv("OTP_PROVIDER_SECRET")
	if apiKey == "" {
		return nil, fmt.Errorf("OTP_PROVIDER_SECRET is required")
	}

	ttl, err := durationOrDefault("OTP_CATALOG_TTL", 30*time.Minute)
	if err != nil {
		return nil, err
	}

	snapshot := os.Getenv("OTP_CATALOG_SNAPSHOT")
	if snapshot == "" {
		snapshot = filepath.Join("storage", "catalog_snapshot.json")
	}

	return &ProviderConfig{
		URL:          apiURL,
		APIKey:       apiKey,
		SnapshotPath: snapshot,
		CatalogTTL:   ttl,
	}, nil
}

func loadGateway() (*GatewayConfig, error) {
	gatewayURL := os.Getenv("PAYMENT_GATEWAY_URL")
	if gatewayURL == "" {
		return nil, fmt.Errorf("PAYMENT_GATEWAY_URL is required")
	}
	secret := os.Getenv("PAYMENT_GATEWAY_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("PAYMENT_GATEWAY_SECRET is required")
	}
	callback := os.Getenv("PAYMENT_CALLBACK_URL")
	if callback == "" {
		return nil, fmt.Errorf("PAYMENT_CALLBACK_URL is required")
	}

	minAmount, err := decimalOrDefault("RECHARGE_MIN_AMOUNT", "20")
	if err != nil {
		return nil, err
	}
	maxAmount, err := decimalOrDefault("RECHARGE_MAX_AMOUNT", "10000")
	if err != nil {
		return nil, err
	}

	return &GatewayConfig{
		URL:         gatewayURL,
		Secret:      secret,
		CallbackURL: callback,
		MinRecharge: minAmount,
		MaxRecharge: maxAmount,
	}, nil
}

func loadSweeper() (*SweeperConfig, error) {
	interval, err := durationOrDefault("SWEEPER_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}
	spacing, err := durationOrDefault("SWEEPER_MIN_SPACING", time.Minute)
	if err != nil {
		return nil, err
	}
	ttl, err := durationOrDefault("PURCHASE_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	return &SweeperConfig{
		Interval:    interval,
		MinSpacing:  spacing,
		PurchaseTTL: ttl,
	}, nil
}

func durationOrDefault(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func decimalOrDefault(key, fallback string) (decimal.Decimal, error) {
	raw := os.Getenv(key)
	if raw == "" {
		raw = fallback
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
