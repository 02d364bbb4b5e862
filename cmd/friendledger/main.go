// Package main запускает HTTP-сервер учёта общих расходов.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/friendledger/internal/config"
	"github.com/mmeshcher/friendledger/internal/handler"
	"github.com/mmeshcher/friendledger/internal/metrics"
	"github.com/mmeshcher/friendledger/internal/middleware"
	"github.com/mmeshcher/friendledger/internal/repository"
	"github.com/mmeshcher/friendledger/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	// Денежные суммы отдаются клиенту числами, а не строками.
	decimal.MarshalJSONWithoutQuotes = true

	repo, err := repository.Open(repository.Options{
		Kind:        cfg.Storage,
		PostgresDSN: cfg.DatabaseURI,
		MongoURI:    cfg.MongoURI,
		MongoDB:     cfg.DBName,
	})
	if err != nil {
		sugar.Fatalw("storage initialization error", "storage", cfg.Storage, "error", err.Error())
	}
	defer repo.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), time.Minute)
	err = repo.Migrate(migrateCtx)
	cancelMigrate()
	if err != nil {
		sugar.Fatalw("storage migration error", "storage", cfg.Storage, "error", err.Error())
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := service.NewService(repo, repo, logger, metrics.NewLedger(reg))

	h := handler.NewHandler(svc, logger, handler.Options{
		RequestTimeout: cfg.RequestTimeout,
		CORSOrigins:    cfg.CORSOrigins,
		StaticDir:      cfg.StaticDir,
		Metrics:        middleware.NewHTTPMetrics(reg),
		Gatherer:       reg,
	})

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Фоновая сверка балансов
	g.Go(func() error {
		svc.StartReconciliation(ctx, cfg.ReconcileInterval)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting friendledger server", "addr", cfg.RunAddress, "storage", cfg.Storage)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
