package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gigmarket/backend/internal/config"
	"github.com/gigmarket/backend/internal/db"
	"github.com/gigmarket/backend/internal/events"
	"github.com/gigmarket/backend/internal/services"
	"go.uber.org/zap"
)

// Mail bridge: drains the email queue published by the API and the worker
// and hands each message to the mail provider.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)
	mailer := services.NewMailClient(cfg.MailServiceURL, cfg.MailServiceToken, cfg.MailFrom, log)

	err = subscriber.Subscribe(ctx, events.StreamEmail, func(event events.Event) {
		email, ok := services.EmailFromEvent(event)
		if !ok {
			log.Warn("dropping malformed email event", zap.String("type", event.Type))
			return
		}
		sendCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
		defer cancel()
		if err := mailer.Send(sendCtx, email); err != nil {
			log.Warn("failed to send email", zap.String("subject", email.Subject), zap.Error(err))
			return
		}
		log.Info("email sent", zap.String("subject", email.Subject))
	})
	if err != nil {
		log.Fatal("failed to subscribe to email queue", zap.Error(err))
	}

	log.Info("mail-bridge started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down mail-bridge")
	cancel()
}
