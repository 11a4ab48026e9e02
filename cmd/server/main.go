package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/alcaldia/chatrelay/internal/config"
	"github.com/alcaldia/chatrelay/internal/metrics"
	"github.com/alcaldia/chatrelay/internal/scheduler"
	"github.com/alcaldia/chatrelay/internal/server/handlers"
	"github.com/alcaldia/chatrelay/internal/server/router"
	"github.com/alcaldia/chatrelay/internal/service/relay"
	"github.com/alcaldia/chatrelay/pkg/clients/n8n"
	"github.com/alcaldia/chatrelay/pkg/logger"
)

func main() {
	envFile := flag.String("env-file", "", "optional .env file to load before reading the environment")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New(cfg.Log.Level))
	defer func() { _ = baseLogger.Sync() }()

	zap.ReplaceGlobals(baseLogger)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	n8nClient := n8n.NewClient(cfg.N8N, logger.Named(baseLogger, "client.n8n"))
	relaySvc := relay.NewWebhookRelay(n8nClient, m, logger.Named(baseLogger, "svc.relay"))

	sched := scheduler.NewScheduler(cfg.Probe, n8nClient, m, logger.Named(baseLogger, "scheduler"))
	if err := sched.Start(); err != nil {
		baseLogger.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	chatHandler := handlers.NewChatHandler(relaySvc, sched, logger.Named(baseLogger, "handlers.chat"))
	engine := router.New(chatHandler, m, logger.Named(baseLogger, "router"))

	var handler http.Handler = engine
	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		handler = cors.Handler(cors.Options{
			AllowedOrigins: cfg.Server.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Origin", "Content-Type"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		})(engine)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.N8N.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		baseLogger.Info("server starting",
			zap.String("port", cfg.Server.Port),
			zap.String("webhook_url", cfg.N8N.WebhookURL),
			zap.Duration("request_timeout", cfg.N8N.Timeout))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Fatal("http server crashed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	baseLogger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("graceful shutdown failed", zap.Error(err))
	}
}
