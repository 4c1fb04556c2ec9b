package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/LeventeLantos/message-dispatch/internal/model"
)

const (
	EnvDev  = "dev"
	EnvProd = "prod"

	BrokerRabbitMQ = "rabbitmq"
	BrokerRedis    = "redis"
)

type Config struct {
	Env       string
	Server    ServerConfig
	Mongo     MongoConfig
	Broker    BrokerConfig
	Redis     RedisConfig
	Gateway   GatewayConfig
	Dispatch  DispatchConfig
	Scheduler SchedulerConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address string
}

type MongoConfig struct {
	URI         string
	Database    string
	Collections string
}

type BrokerConfig struct {
	Kind             string
	RabbitMQURL      string
	RabbitMQQueue    string
	RabbitMQPrefetch int
	RedisQueue       string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type GatewayConfig struct {
	BaseURL  string
	APIKey   string
	Instance string
	Timeout  time.Duration
}

type DispatchConfig struct {
	ContentMax  int
	Concurrency int
}

// SchedulerConfig drives the retry sweep. MaxAttempts 0 disables it.
type SchedulerConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
}

type LogConfig struct {
	Level  string
	Format string
}

// LoadAll reads the whole configuration from the environment and reports
// every problem it finds at once.
func LoadAll() (*Config, error) {
	var errs []error
	str := func(key string) string {
		v, err := requireEnv(key)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	num := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		Env: strings.ToLower(getEnv("ENV", EnvDev)),
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Mongo: MongoConfig{
			URI:         str("MONGO_URI"),
			Collections: getEnv("COLLECTIONS", model.DefaultCollections),
		},
		Broker: BrokerConfig{
			Kind:             strings.ToLower(getEnv("BROKER", BrokerRabbitMQ)),
			RabbitMQQueue:    getEnv("RABBITMQ_QUEUE", "mensagens"),
			RabbitMQPrefetch: num("RABBITMQ_PREFETCH", 1),
			RedisQueue:       getEnv("REDIS_QUEUE", "mensagens"),
		},
		Gateway: GatewayConfig{
			BaseURL:  str("EVOLUTION_BASE_URL"),
			APIKey:   str("EVOLUTION_API_KEY"),
			Instance: str("EVOLUTION_API_INSTANCE"),
			Timeout:  time.Duration(num("GATEWAY_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Dispatch: DispatchConfig{
			ContentMax:  num("CONTENT_MAX", 4096),
			Concurrency: num("WORKER_CONCURRENCY", 4),
		},
		Scheduler: SchedulerConfig{
			Interval:    time.Duration(num("RETRY_INTERVAL_SECONDS", 120)) * time.Second,
			BatchSize:   num("RETRY_BATCH_SIZE", 100),
			MaxAttempts: num("RETRY_MAX_ATTEMPTS", 3),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
	cfg.Mongo.Database = mongoDatabase(cfg.Env)

	redisCfg, err := loadRedisConfig()
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Redis = redisCfg

	if cfg.Broker.Kind == BrokerRabbitMQ {
		cfg.Broker.RabbitMQURL = str("RABBITMQ_URL")
	}

	errs = append(errs, validate(cfg)...)
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mongoDatabase prefers MONGO_DB_NAME and falls back to the per-environment
// database names.
func mongoDatabase(env string) string {
	if v := os.Getenv("MONGO_DB_NAME"); v != "" {
		return v
	}
	if env == EnvProd {
		return os.Getenv("LOCAL_MONGO_DATABASE_PROD")
	}
	return os.Getenv("LOCAL_MONGO_DATABASE_DEV")
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, dbErr := getEnvInt("REDIS_DB", 0)
	ttl, ttlErr := getEnvInt("REDIS_TTL_SECONDS", 86400)

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, errors.Join(dbErr, ttlErr)
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Env != EnvDev && cfg.Env != EnvProd {
		errs = append(errs, fmt.Errorf("ENV must be %q or %q, got %q", EnvDev, EnvProd, cfg.Env))
	}
	if cfg.Mongo.Database == "" {
		errs = append(errs, errors.New("missing required env var: MONGO_DB_NAME (or LOCAL_MONGO_DATABASE_DEV/LOCAL_MONGO_DATABASE_PROD)"))
	}
	switch cfg.Broker.Kind {
	case BrokerRabbitMQ:
	case BrokerRedis:
		if !cfg.Redis.Enabled {
			errs = append(errs, errors.New("BROKER=redis requires REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("BROKER must be %q or %q, got %q", BrokerRabbitMQ, BrokerRedis, cfg.Broker.Kind))
	}
	if cfg.Broker.RabbitMQPrefetch <= 0 {
		errs = append(errs, errors.New("RABBITMQ_PREFETCH must be > 0"))
	}
	if cfg.Gateway.Timeout <= 0 {
		errs = append(errs, errors.New("GATEWAY_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Dispatch.ContentMax <= 0 {
		errs = append(errs, errors.New("CONTENT_MAX must be > 0"))
	}
	if cfg.Dispatch.Concurrency <= 0 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY must be > 0"))
	}
	if cfg.Scheduler.BatchSize <= 0 {
		errs = append(errs, errors.New("RETRY_BATCH_SIZE must be > 0"))
	}
	if cfg.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("RETRY_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Scheduler.MaxAttempts < 0 {
		errs = append(errs, errors.New("RETRY_MAX_ATTEMPTS must be >= 0"))
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
