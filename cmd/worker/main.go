package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/message-dispatch/internal/app"
	"github.com/LeventeLantos/message-dispatch/internal/client"
	"github.com/LeventeLantos/message-dispatch/internal/config"
	"github.com/LeventeLantos/message-dispatch/internal/dispatch"
	"github.com/LeventeLantos/message-dispatch/internal/logging"
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

	deps, err := app.Open(ctx, cfg, base, "worker")
	if err != nil {
		base.Fatal("failed to open dependencies", zap.Error(err))
	}
	logger := deps.Logger

	gateway := client.NewEvolutionClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Instance,
		client.WithTimeout(cfg.Gateway.Timeout),
		client.WithLogger(logger.Named("gateway")),
	)

	opts := []dispatch.Option{
		dispatch.WithLogger(logger.Named("worker")),
		dispatch.WithContentMax(cfg.Dispatch.ContentMax),
	}
	if deps.Receipts != nil {
		opts = append(opts, dispatch.WithCache(deps.Receipts))
	}
	worker := dispatch.NewWorker(deps.Messages, gateway, opts...)

	hostname, _ := os.Hostname()
	logger.Info("worker starting",
		zap.String("broker", cfg.Broker.Kind),
		zap.Int("concurrency", cfg.Dispatch.Concurrency),
		zap.String("gateway_instance", cfg.Gateway.Instance),
	)

	err = runConsumers(ctx, cfg.Dispatch.Concurrency, func(i int) dispatch.Consumer {
		return deps.Consumer(consumerID(hostname, i))
	}, worker.Handle)
	if err != nil {
		logger.Error("consumers stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := deps.Close(shutdownCtx); err != nil {
		base.Error("closing dependencies failed", zap.Error(err))
	}
	if err != nil {
		os.Exit(1)
	}
}

// runConsumers runs n consumers until ctx is cancelled or one of them fails.
// Cancellation is a clean stop.
func runConsumers(ctx context.Context, n int, consumer func(i int) dispatch.Consumer, handle dispatch.Handler) error {
	if n <= 0 {
		n = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := range n {
		c := consumer(i)
		g.Go(func() error {
			if err := c.Consume(gctx, handle); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("consumer %d: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// consumerID is stable across restarts of the same host so a Redis
// consumer can recover its own processing list.
func consumerID(hostname string, i int) string {
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, i)
}
