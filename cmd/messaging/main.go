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

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/LeventeLantos/message-dispatch/internal/api"
	"github.com/LeventeLantos/message-dispatch/internal/app"
	"github.com/LeventeLantos/message-dispatch/internal/config"
	"github.com/LeventeLantos/message-dispatch/internal/dispatch"
	"github.com/LeventeLantos/message-dispatch/internal/logging"
	"github.com/LeventeLantos/message-dispatch/internal/scheduler"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatal(err)
	}

	base, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Open(ctx, cfg, base, "api")
	if err != nil {
		base.Fatal("failed to open dependencies", zap.Error(err))
	}
	logger := deps.Logger

	pipeline := dispatch.NewPipeline(deps.Messages, deps.Publisher(),
		dispatch.WithLogger(logger.Named("pipeline")),
		dispatch.WithContentMax(cfg.Dispatch.ContentMax),
	)

	policy := dispatch.RetryPolicy{MaxAttempts: cfg.Scheduler.MaxAttempts, BatchSize: cfg.Scheduler.BatchSize}
	sched, err := scheduler.New(cfg.Scheduler.Interval, func(ctx context.Context) error {
		_, err := pipeline.RetryFailed(ctx, policy)
		return err
	}, scheduler.WithLogger(logger.Named("scheduler")), scheduler.WithName("retry"))
	if err != nil {
		logger.Fatal("failed to create scheduler", zap.Error(err))
	}
	if policy.MaxAttempts > 0 {
		sched.Start()
	}

	handler := api.NewHandler(sched, deps.Messages, pipeline, deps.Receipts, logger.Named("api"))
	companies := api.NewCompanyHandler(deps.Companies, deps.Reports, deps.Gateways, logger.Named("api"))

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(logger.Named("http"))(api.Router(handler, companies)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server listening",
			zap.String("addr", cfg.Server.Address),
			zap.Duration("retry_interval", cfg.Scheduler.Interval),
			zap.Int("retry_batch", cfg.Scheduler.BatchSize),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	sched.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	if err := deps.Close(shutdownCtx); err != nil {
		base.Error("closing dependencies failed", zap.Error(err))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
