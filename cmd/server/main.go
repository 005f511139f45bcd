package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sitewatch-dev/sitewatch-backend-go/internal/alerting"
	"github.com/sitewatch-dev/sitewatch-backend-go/internal/api"
	"github.com/sitewatch-dev/sitewatch-backend-go/internal/config"
	"github.com/sitewatch-dev/sitewatch-backend-go/internal/database"
	"github.com/sitewatch-dev/sitewatch-backend-go/internal/metricsource"
	"github.com/sitewatch-dev/sitewatch-backend-go/internal/websocket"
	"github.com/sitewatch-dev/sitewatch-backend-go/pkg/logger"
	"github.com/sitewatch-dev/sitewatch-backend-go/pkg/version"
)

func main() {
	// Initialize logger
	log := logger.New()
	logger.WithComponent(log, "server").WithField("build", version.Get().String()).Info("Starting sitewatch backend")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}

	// Initialize database
	db, err := database.Initialize(cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to initialize database: ", err)
	}
	defer db.Close()

	notifications, err := database.NewNotificationRepository(db, log)
	if err != nil {
		log.Fatal("Failed to initialize notification archive: ", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create WebSocket hub for dashboard event streaming
	hub := websocket.NewHub(log)
	go hub.Run(ctx)

	// Build the alerting engine against live host metrics
	source := metricsource.NewSystemSource(log)
	engine := alerting.NewEngine(cfg.Alerting.EngineConfig(), source, log)

	// Delivery channels beyond the built-in console handler
	engine.RegisterChannel(alerting.ChannelWebhook, alerting.NewWebhookHandler(log, engine.WebhookTimeout(), engine.Clock()))
	engine.RegisterChannel(alerting.ChannelChat, alerting.NewChatHandler(log, engine.WebhookTimeout()))
	engine.RegisterChannel(alerting.ChannelEmail, alerting.NewEmailHandler(log, nil))
	engine.RegisterChannel(alerting.ChannelDatabase, alerting.NewDatabaseHandler(log, notifications, engine.Clock()))

	// Stream alert lifecycle events to connected dashboards
	engine.OnAlertCreated(func(a alerting.Alert) { hub.BroadcastAlertEvent("alert_created", a) })
	engine.OnAlertAcknowledged(func(a alerting.Alert) { hub.BroadcastAlertEvent("alert_acknowledged", a) })
	engine.OnAlertResolved(func(a alerting.Alert) { hub.BroadcastAlertEvent("alert_resolved", a) })
	engine.OnAlertEscalated(func(a alerting.Alert) { hub.BroadcastAlertEvent("alert_escalated", a) })

	if err := engine.Start(ctx); err != nil {
		log.Fatal("Failed to start alerting engine: ", err)
	}

	// HTTP surface
	router := api.NewRouter(cfg, engine, notifications, hub, log)
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	httpLog := logger.WithComponent(log, "http")
	go func() {
		httpLog.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpLog.Fatal("HTTP server failed: ", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}

	engine.Stop()
	cancel()

	log.Info("Shutdown complete")
}
