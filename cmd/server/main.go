// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/crm-campaigns/internal/audience"
	"github.com/unclebandit/crm-campaigns/internal/cache"
	"github.com/unclebandit/crm-campaigns/internal/config"
	"github.com/unclebandit/crm-campaigns/internal/controller"
	"github.com/unclebandit/crm-campaigns/internal/db"
	"github.com/unclebandit/crm-campaigns/internal/handler"
	"github.com/unclebandit/crm-campaigns/internal/queue"
	"github.com/unclebandit/crm-campaigns/internal/repository"
	"github.com/unclebandit/crm-campaigns/internal/service"
	"github.com/unclebandit/crm-campaigns/internal/vendor"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, db.Dialect(cfg.Database.Driver), cfg.Database.URL)
	if err != nil {
		return err
	}
	defer database.Close()

	customerRepo := &repository.CustomerRepository{DB: database}
	campaignRepo := &repository.CampaignRepository{DB: database}
	logRepo := &repository.CommunicationLogRepository{DB: database}

	var receiptCache cache.ReceiptCache = cache.Noop{}
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, receipts are deduplicated by the database only", "error", err)
		}
		receiptCache = cache.NewRedisReceiptCache(rdb, cfg.Redis.TTL)
	}

	var q queue.Queue
	switch cfg.Queue.Driver {
	case "amqp":
		aq, err := queue.DialAMQP(cfg.Queue.AMQPURL, cfg.Queue.Name, cfg.Dispatch.Workers, logger)
		if err != nil {
			return err
		}
		q = aq
	default:
		q = queue.NewInMemoryQueue(cfg.Dispatch.Workers, cfg.Dispatch.QueueSize, logger)
	}

	dispatcher := &service.Dispatcher{
		CampaignRepo: campaignRepo,
		LogRepo:      logRepo,
		Queue:        q,
		Vendor:       vendor.NewClient(cfg.Vendor.URL, cfg.Vendor.Timeout),
		CallbackURL:  cfg.CallbackURL(),
		Logger:       logger,
	}
	// With a broker, cmd/worker consumes the jobs. In-process workers are
	// detached from the signal so Close can drain the buffer.
	if cfg.Queue.Driver == "memory" {
		if err := q.Subscribe(context.WithoutCancel(ctx), dispatcher.Deliver); err != nil {
			return err
		}
	}

	campaignService := &service.CampaignService{
		CampaignRepo: campaignRepo,
		CustomerRepo: customerRepo,
		LogRepo:      logRepo,
		Resolver: audience.NewResolver(customerRepo,
			audience.WithPushdown(cfg.Audience.Pushdown),
			audience.WithLogger(logger),
		),
		Dispatcher: dispatcher,
		Logger:     logger,
	}
	receiptHandler := &handler.ReceiptHandler{
		Reconciler: &service.Reconciler{LogRepo: logRepo, Cache: receiptCache, Logger: logger},
		Logger:     logger,
	}

	routes := controller.RouterConfig{
		Campaigns: &controller.CampaignController{CampaignService: campaignService},
		Receipts:  receiptHandler.HandleReceipt,
		Auth:      &controller.Authenticator{Secret: cfg.Auth.JWTSecret, Logger: logger},
		Logger:    logger,
	}
	var sim *vendor.Simulator
	if cfg.Vendor.Simulator {
		sim = vendor.NewSimulator(cfg.Vendor.SuccessRate, cfg.Vendor.CallbackDelay, logger)
		routes.Vendor = sim
	}
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("AUTH_JWT_SECRET is empty, campaign endpoints are unauthenticated")
	}

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           controller.NewRouter(routes),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Address, "queue", cfg.Queue.Driver, "simulator", cfg.Vendor.Simulator)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := q.Close(); err != nil {
		logger.Error("queue shutdown", "error", err)
	}
	if sim != nil {
		sim.Wait()
	}
	return nil
}
