package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	amqpclient "github.com/hackgods/clinic-booking-engine/internal/amqp"
	"github.com/hackgods/clinic-booking-engine/internal/appointment"
	"github.com/hackgods/clinic-booking-engine/internal/config"
	"github.com/hackgods/clinic-booking-engine/internal/db"
	"github.com/hackgods/clinic-booking-engine/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if cfg.Storage != config.StoragePostgres {
		zl.Fatal("event relay needs STORAGE=postgres", zap.String("storage", cfg.Storage))
	}
	if cfg.AMQPURL == "" {
		zl.Fatal("AMQP_URL is required")
	}

	zl.Info("event-relay starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.RelayInterval),
		zap.Int("batch_size", cfg.RelayBatchSize),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		zl.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	zl.Info("connected to Postgres")

	pub, err := amqpclient.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		zl.Fatal("amqp connection error", zap.Error(err))
	}
	defer func() {
		if err := pub.Close(); err != nil {
			zl.Warn("error closing amqp", zap.Error(err))
		}
	}()
	zl.Info("connected to RabbitMQ", zap.String("exchange", cfg.AMQPExchange))

	repo := appointment.NewPgRepository(pgPool)
	svc := appointment.NewService(repo, nil, cfg, zl)

	// Run once at startup
	runOnce(rootCtx, zl, svc, pub, cfg.RelayBatchSize)

	ticker := time.NewTicker(cfg.RelayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			zl.Info("shutdown signal received, stopping event relay")
			return
		case <-ticker.C:
			runOnce(rootCtx, zl, svc, pub, cfg.RelayBatchSize)
		}
	}
}

func runOnce(ctx context.Context, zl *zap.Logger, svc *appointment.Service, pub appointment.EventPublisher, batch int) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.RelayEvents(runCtx, pub, batch)
	if err != nil {
		zl.Error("relay run error", zap.Int("published", n), zap.Error(err))
		return
	}
	if n > 0 {
		zl.Info("relay run complete", zap.Int("published", n), zap.Duration("took", time.Since(start)))
	}
}
