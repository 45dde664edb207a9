package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"tag_tracker/internal/backend"
	"tag_tracker/internal/config"
	"tag_tracker/internal/controllers"
	"tag_tracker/internal/feed"
	"tag_tracker/internal/gateway"
	"tag_tracker/internal/logger"
	"tag_tracker/internal/metrics"
	"tag_tracker/internal/middleware"
	"tag_tracker/internal/routes"
	"tag_tracker/internal/telemetry"
	"tag_tracker/internal/watch"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration.")
	}

	// Initialize structured logging to file
	logOut, err := logger.Setup(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to set up logging.")
	}

	db, err := config.OpenDB(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Database unavailable.")
	}
	logrus.WithField("db_host", cfg.DBHost).Info("Database connection established.")

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	changes := feed.New(0)
	var notifier backend.Notifier
	if cfg.DBNotify {
		notifier = backend.NewPGNotifier(db, backend.DefaultChannel)
	}
	svc := backend.NewService(backend.NewRepo(db), changes, notifier)
	if cfg.DBNotify {
		go func() {
			if err := backend.Listen(ctx, cfg.DSN(), backend.DefaultChannel, svc); err != nil {
				logrus.WithError(err).Fatal("Change listener failed.")
			}
		}()
	}

	gw := gateway.New(svc, cfg.FenceRadiusMeters)
	ingestor := telemetry.NewIngestor(svc)

	if cfg.MQTTBroker != "" {
		sub, err := telemetry.Connect(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopicPrefix, ingestor)
		if err != nil {
			logrus.WithError(err).Fatal("MQTT broker unavailable.")
		}
		defer sub.Close()
	}

	registry := watch.NewRegistry()
	ticker, err := watch.StartTicker(registry, cfg.TickSpec)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid ALERT_TICK schedule.")
	}

	auth := middleware.NewAuth(cfg.JWTSecret)
	r := routes.SetupRouter(routes.Deps{
		Auth:      auth,
		Users:     controllers.NewAuthController(svc.Repo(), auth),
		Devices:   controllers.NewDeviceController(svc),
		Alerts:    controllers.NewAlertController(svc, gw),
		Telemetry: controllers.NewTelemetryController(ingestor),
		Watch: controllers.NewWatchController(svc, auth, watch.Options{
			Gateway:        gw,
			MovementRadius: cfg.FenceRadiusMeters,
			Location:       cfg.AlertTimezone,
			Registry:       registry,
			AlertOnOpen:    cfg.AlertOnOpen,
		}),
		AccessLog: logger.AccessLog(logOut, "/metrics"),
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		logrus.WithField("addr", cfg.HTTPAddr).Info("Server running.")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("HTTP server failed.")
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down.")
	<-ticker.Stop().Done()
	registry.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Graceful shutdown failed.")
	}
}
