package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/construmedicis/buildtracking/internal/bootstrap"
	"github.com/construmedicis/buildtracking/internal/config"
	"github.com/construmedicis/buildtracking/internal/core/ports"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: app.SyncMetrics.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("worker metrics server error: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	lookback := time.Duration(cfg.SyncLookbackHours) * time.Hour

	log.Printf("worker subscribed to %s", cfg.NATSSubject)
	err = app.Queue.SubscribeRunRequested(ctx, func(handlerCtx context.Context, sourceName string) error {
		runCtx, cancel := context.WithTimeout(handlerCtx, 5*time.Minute)
		defer cancel()

		after := time.Now().UTC().Add(-lookback)
		window := ports.FetchWindow{After: &after}

		app.SyncMetrics.StartRun()
		start := time.Now()
		result, err := app.SyncUC.Run(runCtx, sourceName, window)
		app.SyncMetrics.FinishRun(cfg.ServiceName, string(result.Status), time.Since(start))
		app.SyncMetrics.ObserveOutcomes(cfg.ServiceName, result.Created, result.Updated, result.AutoAssigned, result.PendingReview, len(result.Errors))
		return err
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}
