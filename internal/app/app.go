// Package app wires the shared dependencies of the API and worker
// processes from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/LeventeLantos/message-dispatch/internal/broker/rabbitmq"
	"github.com/LeventeLantos/message-dispatch/internal/broker/redisq"
	"github.com/LeventeLantos/message-dispatch/internal/cache"
	"github.com/LeventeLantos/message-dispatch/internal/config"
	"github.com/LeventeLantos/message-dispatch/internal/dispatch"
	"github.com/LeventeLantos/message-dispatch/internal/hashid"
	"github.com/LeventeLantos/message-dispatch/internal/logging"
	"github.com/LeventeLantos/message-dispatch/internal/model"
	"github.com/LeventeLantos/message-dispatch/internal/record"
	"github.com/LeventeLantos/message-dispatch/internal/repo"
	"github.com/LeventeLantos/message-dispatch/internal/service"
	"github.com/LeventeLantos/message-dispatch/internal/store"
)

type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	DB       *store.Database
	Registry *record.Registry

	Messages  *repo.MongoMessageRepo
	Companies *service.CompanyService
	Reports   *service.ReportService
	Gateways  *service.GatewayService

	// Redis and Receipts are nil when REDIS_ADDR is unset.
	Redis    *redis.Client
	Receipts cache.MessageCache

	rabbit  *rabbitmq.Queue
	closers []func(context.Context) error
}

// Open connects to MongoDB, the broker and Redis. Log entries at info and
// above are also stored in the log collection under origin.
func Open(ctx context.Context, cfg *config.Config, base *zap.Logger, origin string) (_ *App, err error) {
	a := &App{Config: cfg, Logger: base}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.Registry, err = record.NewRegistry(cfg.Mongo.Collections, model.Descriptors()...)
	if err != nil {
		return nil, err
	}

	a.DB, err = store.Connect(ctx, store.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.DB.Close)
	if err := a.DB.EnsureIndexes(ctx); err != nil {
		return nil, err
	}

	logs, err := store.Open[model.LogEntry](a.DB, a.Registry, model.LogCollection)
	if err != nil {
		return nil, err
	}
	a.Logger = logging.WithStoreSink(base, logging.NewStoreCore(logs, zapcore.InfoLevel, origin))

	if err := a.openCollections(); err != nil {
		return nil, err
	}

	if cfg.Redis.Enabled {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, func(context.Context) error { return a.Redis.Close() })
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.Receipts = cache.NewRedisCache(a.Redis, cfg.Redis.TTL)
	}

	if cfg.Broker.Kind == config.BrokerRabbitMQ {
		a.rabbit, err = rabbitmq.Dial(cfg.Broker.RabbitMQURL, cfg.Broker.RabbitMQQueue,
			rabbitmq.WithPrefetch(cfg.Broker.RabbitMQPrefetch),
			rabbitmq.WithConsumerTag(hashid.ProcessID(origin)),
			rabbitmq.WithLogger(a.Logger.Named("rabbitmq")),
		)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return a.rabbit.Close() })
	}

	a.Logger.Info("dependencies ready",
		zap.String("env", cfg.Env),
		zap.String("database", cfg.Mongo.Database),
		zap.String("broker", cfg.Broker.Kind),
		zap.Bool("redis", cfg.Redis.Enabled),
	)
	return a, nil
}

func (a *App) openCollections() error {
	messages, err := store.Open[model.Message](a.DB, a.Registry, model.MessageCollection)
	if err != nil {
		return err
	}
	companies, err := store.Open[model.Company](a.DB, a.Registry, model.CompanyCollection)
	if err != nil {
		return err
	}
	reports, err := store.Open[model.Report](a.DB, a.Registry, model.ReportCollection)
	if err != nil {
		return err
	}
	gateways, err := store.Open[model.GatewayConfig](a.DB, a.Registry, model.GatewayConfigCollection)
	if err != nil {
		return err
	}

	a.Messages = repo.NewMongoMessageRepo(messages)
	a.Companies = service.NewCompanyService(companies, a.Logger.Named("companies"))
	a.Reports = service.NewReportService(reports)
	a.Gateways = service.NewGatewayService(gateways)
	return nil
}

// Publisher returns the configured broker's producer side.
func (a *App) Publisher() dispatch.Publisher {
	if a.rabbit != nil {
		return a.rabbit
	}
	return a.redisQueue("")
}

// Consumer returns a consumer for the configured broker. consumerID keeps a
// Redis consumer's processing list stable across restarts.
func (a *App) Consumer(consumerID string) dispatch.Consumer {
	if a.rabbit != nil {
		return a.rabbit
	}
	return a.redisQueue(consumerID)
}

func (a *App) redisQueue(consumerID string) *redisq.Queue {
	return redisq.New(a.Redis, a.Config.Broker.RedisQueue, consumerID,
		redisq.WithLogger(a.Logger.Named("redisq")))
}

// Close releases connections in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}
