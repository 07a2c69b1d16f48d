package server

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/slok/go-http-metrics/metrics/prometheus"
	"github.com/slok/go-http-metrics/middleware"
	"github.com/slok/go-http-metrics/middleware/std"

	"github.com/Nzyazin/otpshop/internal/core/gateway"
	"github.com/Nzyazin/otpshop/internal/core/handler"
	"github.com/Nzyazin/otpshop/internal/core/logger"
	middlWre "github.com/Nzyazin/otpshop/internal/core/middleware"
	"github.com/Nzyazin/otpshop/internal/core/provider"
	"github.com/Nzyazin/otpshop/internal/core/repository/postgres"
	"github.com/Nzyazin/otpshop/internal/core/sweeper"
	"github.com/Nzyazin/otpshop/internal/core/usecase"
	"github.com/Nzyazin/otpshop/pkg/config"
	"github.com/Nzyazin/otpshop/pkg/postgresdb"
)

type Server struct {
	router     *mux.Router
	log        logger.Logger
	httpServer *http.Server
	db         *postgresdb.Database
	cfg        *config.Config

	sweeper       *sweeper.Sweeper
	sweeperCancel context.CancelFunc
	sweeperDone   chan struct{}
}

func NewServer(log logger.Logger) (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	db, err := postgresdb.NewPostgresDB(cfg.DB, log)
	if err != nil {
		return nil, err
	}

	// Схема приводится в порядок до того, как движок примет первый запрос.
	migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := postgres.Migrate(migrateCtx, db.DB, log); err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	ledgerRepo := postgres.NewPostgresLedgerRepo(db.DB, log)
	purchaseRepo := postgres.NewPostgresPurchaseRepo(db.DB, log)
	rechargeRepo := postgres.NewPostgresRechargeRepo(db.DB, log)

	providerClient := provider.NewClient(cfg.Provider.URL, cfg.Provider.APIKey, log)
	catalog := provider.NewCatalogCache(providerClient, cfg.Provider.SnapshotPath, cfg.Provider.CatalogTTL, log)
	gatewayClient := gateway.NewClient(cfg.Gateway.URL, cfg.Gateway.Secret, log)

	purchaseUsecase := usecase.NewPurchaseUsecase(purchaseRepo, ledgerRepo, providerClient, catalog, log)
	rechargeUsecase := usecase.NewRechargeUsecase(rechargeRepo, ledgerRepo, gatewayClient, usecase.RechargeConfig{
		MinAmount:   cfg.Gateway.MinRecharge,
		MaxAmount:   cfg.Gateway.MaxRecharge,
		CallbackURL: cfg.Gateway.CallbackURL,
	}, log)
	walletUsecase := usecase.NewWalletUsecase(ledgerRepo, log)

	purchaseHandler := handler.NewPurchaseHandler(purchaseUsecase, catalog, log)
	rechargeHandler := handler.NewRechargeHandler(rechargeUsecase, log)
	walletHandler := handler.NewWalletHandler(walletUsecase, log)

	bgSweeper := sweeper.New(purchaseRepo, purchaseUsecase, sweeper.Config{
		Interval:    cfg.Sweeper.Interval,
		MinSpacing:  cfg.Sweeper.MinSpacing,
		PurchaseTTL: cfg.Sweeper.PurchaseTTL,
	}, log)

	server := &Server{
		log:     log,
		router:  mux.NewRouter(),
		db:      db,
		cfg:     cfg,
		sweeper: bgSweeper,
	}

	server.router.Use(middlWre.Logging(log))

	mw := middleware.New(middleware.Config{
		Recorder: prometheus.NewRecorder(prometheus.Config{}),
	})
	server.router.Use(func(next http.Handler) http.Handler {
		return std.Handler("", mw, next)
	})

	server.router.Use(middlWre.Recovery(log))

	purchaseHandler.RegisterRoutes(server.router)
	rechargeHandler.RegisterRoutes(server.router)
	walletHandler.RegisterRoutes(server.router)
	server.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	server.router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	return server, nil
}

func (s *Server) Addr() string {
	return s.cfg.HTTPAddr
}

func (s *Server) Run(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       9 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 6 * time.Second,
	}

	s.httpServer = srv

	sweepCtx, cancel := context.WithCancel(context.Background())
	s.sweeperCancel = cancel
	s.sweeperDone = make(chan struct{})
	go func() {
		defer close(s.sweeperDone)
		s.sweeper.Run(sweepCtx)
	}()

	return srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	var shutdownErr error

	go func() {
		if s.sweeperCancel != nil {
			s.sweeperCancel()
			<-s.sweeperDone
		}

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.log.Error("failed to shutdown HTTP server", logger.ErrorField("error", err))
				shutdownErr = fmt.Errorf("HTTP server shutdown error: %w", err)
			}
		}

		if s.db != nil {
			if err := s.db.Close(); err != nil {
				s.log.Error("failed to close database connection", logger.ErrorField("error", err))
				shutdownErr = fmt.Errorf("database shutdown error: %w", err)
			}
		}

		close(done)
	}()

	select {
	case <-done:
		return shutdownErr
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}
