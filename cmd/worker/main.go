package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gigmarket/backend/internal/config"
	"github.com/gigmarket/backend/internal/db"
	"github.com/gigmarket/backend/internal/events"
	"github.com/gigmarket/backend/internal/repositories"
	"github.com/gigmarket/backend/internal/services"
	"github.com/gigmarket/backend/internal/worker"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: int32(cfg.DBMaxConns)}, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repos
	contractRepo := repositories.NewContractRepo(pool)
	changeRepo := repositories.NewChangeRequestRepo(pool)
	jobRepo := repositories.NewJobRepo(pool)
	proposalRepo := repositories.NewProposalRepo(pool)
	userRepo := repositories.NewUserRepo(pool)
	balanceRepo := repositories.NewBalanceRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	notificationRepo := repositories.NewNotificationRepo(pool)

	// Services
	publisher := events.NewRedisPublisher(rdb, log)
	dispatcher := services.NewDispatcher(notificationRepo, userRepo, publisher, services.NewQueuedMailer(publisher), log)
	contractService := services.NewContractService(contractRepo, jobRepo, userRepo, balanceRepo, auditRepo, dispatcher, publisher, cfg, log)
	changeService := services.NewChangeService(contractService, changeRepo)
	automation := services.NewAutomationService(contractRepo, changeRepo, jobRepo, proposalRepo, userRepo,
		contractService, changeService, auditRepo, dispatcher, cfg, log)

	scheduler := worker.NewScheduler(automation.Sweeps(), cfg.SweepTimeout, log)
	if err := scheduler.Register(); err != nil {
		log.Fatal("invalid sweep schedule", zap.Error(err))
	}
	scheduler.Start(ctx)
	log.Info("worker started", zap.Int("concurrency", cfg.WorkerConcurrency))

	health := fiber.New(fiber.Config{DisableStartupMessage: true})
	health.Get("/health", func(c *fiber.Ctx) error {
		if err := pool.Ping(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "db unavailable"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	go func() {
		if err := health.Listen(":" + cfg.WorkerPort); err != nil {
			log.Error("health server stopped", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down worker")
	cancel()
	scheduler.Stop()
	_ = health.Shutdown()
}
