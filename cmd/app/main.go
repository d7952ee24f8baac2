package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"referral_engine/internal/api"
	"referral_engine/internal/bootstrap"
	"referral_engine/internal/config"
	"referral_engine/internal/worker"
	"referral_engine/pkg/auth"
	"referral_engine/pkg/logger"

	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Getenv("APP_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	err = logger.Initialize(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	zapLogger := logger.Logger()

	rt, err := bootstrap.New(cfg)
	if err != nil {
		zapLogger.Fatal("Failed to initialize engine", zap.Error(err))
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := rt.Service
	if _, err := svc.Quests.EnsureQuestCatalogIntegrity(ctx); err != nil {
		zapLogger.Error("Failed to repair quest catalog", zap.Error(err))
	}

	if cfg.Reconcile.Interval > 0 {
		w := worker.NewReconcileWorker(svc.Reconciler, svc.Quests, svc.Leaderboard, worker.Config{
			Interval:   cfg.Reconcile.Interval,
			SampleSize: cfg.Reconcile.SampleSize,
		}, nil)
		if err := w.Start(ctx); err != nil {
			zapLogger.Fatal("Failed to start reconciliation worker", zap.Error(err))
		}
		defer w.Stop()
	}

	router := api.NewRouter(api.Deps{
		Service: svc,
		Auth:    auth.NewTelegramAuth(cfg.TelegramAuth.BotToken, cfg.TelegramAuth.Debug),
		Policy:  cfg.Rewards.Policy(),
		Leaderboard: api.LeaderboardConfig{
			DefaultLimit:   cfg.Leaderboard.DefaultLimit,
			StreamInterval: cfg.Leaderboard.StreamInterval,
		},
		Gatherer: rt.Registry,
	})

	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: router,
	}

	go func() {
		zapLogger.Info("Starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server shutdown failed", zap.Error(err))
	}
}
