package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/content-publisher/internal/bootstrap"
	"github.com/kirillkom/content-publisher/internal/config"
	"github.com/kirillkom/content-publisher/internal/observability/logging"
	"github.com/kirillkom/content-publisher/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("worker", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	startOpsServer(ctx, cfg, app, workerMetrics)

	if app.ReconcileUC != nil {
		go func() {
			slog.Info("watcher_started", "interval_seconds", cfg.WatchIntervalSecs)
			app.ReconcileUC.Run(ctx, time.Duration(cfg.WatchIntervalSecs)*time.Second)
		}()
	}

	go func() {
		app.RelayUC.Run(ctx, time.Duration(cfg.EventRelayIntervalMs)*time.Millisecond)
	}()

	importSlots := make(chan struct{}, max(cfg.ImportConcurrency, 1))
	go func() {
		err := app.Queue.ConsumeImports(ctx, func(handlerCtx context.Context, documentID string) error {
			importSlots <- struct{}{}
			defer func() { <-importSlots }()

			importCtx, cancel := context.WithTimeout(handlerCtx, 5*time.Minute)
			defer cancel()

			start := time.Now()
			workerMetrics.StartImport()
			importErr := app.ImportUC.ImportByID(importCtx, documentID)
			workerMetrics.FinishImport("worker", time.Since(start), importErr)
			return importErr
		})
		if err != nil {
			log.Fatalf("import consumer error: %v", err)
		}
	}()

	publishSlots := make(chan struct{}, max(cfg.PublishConcurrency, 1))
	go func() {
		err := app.Queue.ConsumePublishes(ctx, func(handlerCtx context.Context, documentID, providerName string) error {
			publishSlots <- struct{}{}
			defer func() { <-publishSlots }()

			publishCtx, cancel := context.WithTimeout(handlerCtx, 15*time.Minute)
			defer cancel()

			start := time.Now()
			workerMetrics.StartPublish()
			publishErr := app.PublishUC.Run(publishCtx, documentID, providerName)
			workerMetrics.FinishPublish("worker", providerName, time.Since(start), publishErr)
			return publishErr
		})
		if err != nil {
			log.Fatalf("publish consumer error: %v", err)
		}
	}()

	// Cancel signals fan out to every worker; the one holding the run stops it.
	unsubscribeCancels, err := app.Queue.SubscribeCancels(ctx, func(_ context.Context, documentID string) {
		if app.PublishUC.CancelLocal(documentID) {
			slog.Info("publish_cancel_received", "document_id", documentID)
		}
	})
	if err != nil {
		log.Fatalf("cancel subscriber error: %v", err)
	}
	defer unsubscribeCancels()

	slog.Info("worker_started",
		"import_subject", cfg.NATSImportSubject,
		"publish_subject", cfg.NATSPublishSubject,
	)
	<-ctx.Done()
}

// startOpsServer exposes metrics and a health report. Health degrades when
// the watched folder keeps failing past the alert threshold.
func startOpsServer(ctx context.Context, cfg config.Config, app *bootstrap.App, workerMetrics *metrics.WorkerMetrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", workerMetrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		report := map[string]any{
			"status":         "ok",
			"relay_last_seq": app.RelayUC.LastSeq(),
		}
		status := http.StatusOK
		if app.ReconcileUC != nil {
			failures := app.ReconcileUC.ConsecutiveFailures()
			report["watcher_consecutive_failures"] = failures
			workerMetrics.SetWatcherConsecutiveFailures(failures)
			if failures >= cfg.WatchAlertThreshold {
				report["status"] = "degraded"
				status = http.StatusServiceUnavailable
			}
		}
		workerMetrics.SetRelayLastSeq(app.RelayUC.LastSeq())

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(report)
	})

	server := &http.Server{
		Addr:        ":" + cfg.WorkerMetricsPort,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		slog.Info("ops_listening", "port", cfg.WorkerMetricsPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ops server error: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
