// cmd/worker/main.go
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/unclebandit/crm-campaigns/internal/config"
	"github.com/unclebandit/crm-campaigns/internal/db"
	"github.com/unclebandit/crm-campaigns/internal/queue"
	"github.com/unclebandit/crm-campaigns/internal/repository"
	"github.com/unclebandit/crm-campaigns/internal/service"
	"github.com/unclebandit/crm-campaigns/internal/vendor"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).With("component", "worker")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, db.Dialect(cfg.Database.Driver), cfg.Database.URL)
	if err != nil {
		return err
	}
	defer database.Close()

	q, err := queue.DialAMQP(cfg.Queue.AMQPURL, cfg.Queue.Name, cfg.Dispatch.Workers, logger)
	if err != nil {
		return err
	}
	defer q.Close()

	d := newDispatcher(cfg, database, q, logger)
	if err := q.Subscribe(ctx, d.Deliver); err != nil {
		return err
	}
	logger.Info("worker running, waiting for messages", "queue", cfg.Queue.Name, "workers", cfg.Dispatch.Workers)
	return q.Wait()
}

// newDispatcher builds the delivery side of the dispatcher. The worker
// never publishes, but Queue is set so the dispatcher stays complete.
func newDispatcher(cfg *config.Config, database *db.DB, q queue.Queue, logger *slog.Logger) *service.Dispatcher {
	return &service.Dispatcher{
		CampaignRepo: &repository.CampaignRepository{DB: database},
		LogRepo:      &repository.CommunicationLogRepository{DB: database},
		Queue:        q,
		Vendor:       vendor.NewClient(cfg.Vendor.URL, cfg.Vendor.Timeout),
		CallbackURL:  cfg.CallbackURL(),
		Logger:       logger,
	}
}
