package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gigmarket/backend/internal/config"
	"github.com/gigmarket/backend/internal/db"
	"github.com/gigmarket/backend/internal/events"
	apphttp "github.com/gigmarket/backend/internal/http"
	"github.com/gigmarket/backend/internal/http/handlers"
	"github.com/gigmarket/backend/internal/repositories"
	"github.com/gigmarket/backend/internal/services"
	"github.com/gigmarket/backend/migrations"
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

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: int32(cfg.DBMaxConns)}, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	contractRepo := repositories.NewContractRepo(pool)
	changeRepo := repositories.NewChangeRequestRepo(pool)
	jobRepo := repositories.NewJobRepo(pool)
	userRepo := repositories.NewUserRepo(pool)
	balanceRepo := repositories.NewBalanceRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	notificationRepo := repositories.NewNotificationRepo(pool)
	ticketRepo := repositories.NewSupportTicketRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	dispatcher := services.NewDispatcher(notificationRepo, userRepo, publisher, services.NewQueuedMailer(publisher), log)
	contractService := services.NewContractService(contractRepo, jobRepo, userRepo, balanceRepo, auditRepo, dispatcher, publisher, cfg, log)
	changeService := services.NewChangeService(contractService, changeRepo)

	// Handlers
	wsHub := handlers.NewWSHub(cfg, subscriber, log)
	if err := wsHub.Start(ctx); err != nil {
		log.Fatal("failed to start websocket hub", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, apphttp.Handlers{
		Contracts:     handlers.NewContractHandler(contractService, auditRepo, ticketRepo, cfg, log),
		Changes:       handlers.NewChangeHandler(changeService, log),
		Notifications: handlers.NewNotificationHandler(notificationRepo, log),
		WS:            wsHub,
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
