package sweeper

import (
	"context"
	"time"

	"github.com/Nzyazin/otpshop/internal/core/logger"
	"github.com/Nzyazin/otpshop/internal/core/models"
	"github.com/Nzyazin/otpshop/internal/core/repository"
	"github.com/Nzyazin/otpshop/internal/core/usecase"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config задаёт расписание фоновой сверки.
type Config struct {
	// Interval - период между проходами.
	Interval time.Duration
	// MinSpacing - минимальный интервал между опросами одного заказа,
	// ограничивает объём вызовов к провайдеру.
	MinSpacing time.Duration
	// PurchaseTTL - локальный таймаут покупки; старше - отмена и возврат.
	PurchaseTTL time.Duration
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MinSpacing <= 0 {
		cfg.MinSpacing = time.Minute
	}
	if cfg.PurchaseTTL <= 0 {
		cfg.PurchaseTTL = 5 * time.Minute
	}
	return cfg
}

var (
	sweepProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "otpshop_sweeper_processed_total",
		Help: "Purchases examined by the background sweeper.",
	})
	sweepOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "otpshop_sweeper_outcomes_total",
		Help: "Background sweep outcomes by result.",
	}, []string{"outcome"})
)

// Sweeper периодически дожимает waiting-покупки, в том числе те, чьи
// пользовательские сессии давно закрыты. Использует те же идемпотентные
// переходы, что и пользовательские вызовы, поэтому гонка с ними безопасна.
type Sweeper struct {
	purchases repository.PurchaseRepository
	engine    usecase.PurchaseUsecase
	cfg       Config
	log       logger.Logger
}

func New(purchases repository.PurchaseRepository, engine usecase.PurchaseUsecase, cfg Config, log logger.Logger) *Sweeper {
	return &Sweeper{
		purchases: purchases,
		engine:    engine,
		cfg:       cfg.withDefaults(),
		log:       log,
	}
}

// Run блокируется до отмены контекста.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info("Background sweeper started",
		logger.AnyField("interval", s.cfg.Interval.String()),
		logger.AnyField("purchase_ttl", s.cfg.PurchaseTTL.String()))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Background sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	now := time.Now()
	purchases, err := s.purchases.ListForSweep(ctx, s.cfg.MinSpacing, now)
	if err != nil {
		s.log.Error("Sweep listing failed", logger.ErrorField("error", err))
		return
	}

	for _, purchase := range purchases {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.process(ctx, purchase, now)
	}
}

func (s *Sweeper) process(ctx context.Context, purchase models.OtpPurchase, now time.Time) {
	sweepProcessed.Inc()

	// Отметка времени ставится до опроса, чтобы ошибка провайдера не
	// приводила к немедленному повторному опросу того же заказа.
	if err := s.purchases.TouchBackgroundCheck(ctx, purchase.OrderID, now); err != nil {
		s.log.Error("Failed to touch background check",
			logger.StringField("order_id", purchase.OrderID),
			logger.ErrorField("error", err))
	}

	if now.Sub(purchase.CreatedAt) > s.cfg.PurchaseTTL {
		if err := s.engine.ExpireTimedOut(ctx, purchase.OrderID); err != nil {
			sweepOutcomes.WithLabelValues("error").Inc()
			s.log.Error("Sweep timeout handling failed",
				logger.StringField("order_id", purchase.OrderID),
				logger.ErrorField("error", err))
			return
		}
		sweepOutcomes.WithLabelValues("expired").Inc()
		return
	}

	updated, err := s.engine.CheckStatus(ctx, purchase.OrderID, usecase.CheckOptions{Background: true})
	if err != nil {
		sweepOutcomes.WithLabelValues("error").Inc()
		s.log.Warn("Sweep status check failed",
			logger.StringField("order_id", purchase.OrderID),
			logger.ErrorField("error", err))
		return
	}

	switch updated.Status {
	case models.PurchaseCompleted:
		sweepOutcomes.WithLabelValues("completed").Inc()
	case models.PurchaseCancelled:
		sweepOutcomes.WithLabelValues("cancelled").Inc()
	case models.PurchaseExpired:
		sweepOutcomes.WithLabelValues("expired").Inc()
	default:
		sweepOutcomes.WithLabelValues("still_waiting").Inc()
	}
}
