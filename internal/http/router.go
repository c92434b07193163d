package http

import (
	"time"

	"github.com/gigmarket/backend/internal/config"
	"github.com/gigmarket/backend/internal/http/handlers"
	"github.com/gigmarket/backend/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Handlers struct {
	Contracts     *handlers.ContractHandler
	Changes       *handlers.ChangeHandler
	Notifications *handlers.NotificationHandler
	WS            *handlers.WSHub
}

// SetupRouter mounts every route. rdb may be nil, which disables rate limiting.
func SetupRouter(app *fiber.App, cfg *config.Config, log *zap.Logger, rdb *redis.Client, h Handlers) {
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1", middleware.AuthMiddleware(cfg, log))
	if rdb != nil {
		api.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute))
	}

	// Contracts
	api.Post("/contracts", h.Contracts.CreateContract)
	api.Get("/contracts", h.Contracts.ListContracts)
	api.Get("/contracts/:id", h.Contracts.GetContract)
	api.Delete("/contracts/:id", h.Contracts.Delete)
	api.Post("/contracts/:id/respond", h.Contracts.Respond)
	api.Post("/contracts/:id/fund", h.Contracts.FundEscrow)
	api.Get("/contracts/:id/pairing", h.Contracts.GetPairing)
	api.Post("/contracts/:id/pairing/confirm", h.Contracts.ConfirmPairing)
	api.Post("/contracts/:id/pairing/regenerate", h.Contracts.RegeneratePairing)
	api.Post("/contracts/:id/done", h.Contracts.MarkWorkDone)
	api.Post("/contracts/:id/confirm", h.Contracts.ConfirmCompletion)
	api.Post("/contracts/:id/extend", h.Contracts.Extend)
	api.Post("/contracts/:id/price", h.Contracts.ModifyPrice)
	api.Post("/contracts/:id/cancel", h.Contracts.Cancel)
	api.Post("/contracts/:id/dispute", h.Contracts.RaiseDispute)
	api.Get("/contracts/:id/audit", h.Contracts.AuditTrail)

	// Change requests
	api.Post("/contracts/:id/changes", h.Changes.RequestChange)
	api.Get("/contracts/:id/changes", h.Changes.ListChanges)
	api.Post("/changes/:id/respond", h.Changes.RespondChange)

	// Balance and notifications
	api.Get("/me/balance/transactions", h.Contracts.BalanceTransactions)
	api.Get("/me/notifications", h.Notifications.List)
	api.Post("/me/notifications/:id/read", h.Notifications.MarkRead)

	// Support
	support := api.Group("/support", middleware.SupportMiddleware(cfg))
	support.Post("/contracts/:id/resolve", h.Contracts.ResolveDispute)
	support.Post("/contracts/:id/cancel", h.Contracts.Cancel)
	support.Get("/contracts/:id/tickets", h.Contracts.Tickets)

	// WebSocket
	if h.WS != nil {
		app.Use("/ws", handlers.WSUpgradeMiddleware())
		app.Get("/ws", websocket.New(h.WS.HandleWS))
	}
}
