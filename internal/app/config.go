package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Драйверы шины событий.
const (
	BusDriverMemory = "memory"
	BusDriverKafka  = "kafka"
	BusDriverRedis  = "redis"
)

// Имена сервисов; используются как source outbox и префикс consumer group.
const (
	ServiceGateway = "gateway"
	ServiceLedger  = "ledger"
)

// Config описывает настройки запуска сервиса. Значения читаются из окружения.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"GRPC_ADDR" envDefault:":50051"`
	// NodeID: номер узла snowflake; должен различаться у экземпляров.
	NodeID int64 `env:"NODE_ID" envDefault:"1"`

	StorageDriver       string `env:"STORAGE_DRIVER" envDefault:"memory"`
	PostgresDSN         string `env:"POSTGRES_DSN"`
	PostgresAutoMigrate bool   `env:"POSTGRES_AUTO_MIGRATE" envDefault:"true"`

	BusDriver string `env:"BUS_DRIVER" envDefault:"memory"`
	Kafka     KafkaConfig
	Redis     RedisConfig
	Outbox    OutboxConfig
	Gateway   GatewayConfig
}

// KafkaConfig: подключение к Kafka.
type KafkaConfig struct {
	Brokers    []string `env:"KAFKA_BROKERS" envSeparator:","`
	ClientID   string   `env:"KAFKA_CLIENT_ID" envDefault:"paycore"`
	MaxRetries int      `env:"KAFKA_CONSUMER_MAX_RETRIES" envDefault:"3"`
}

// RedisConfig: подключение к Redis Streams.
type RedisConfig struct {
	Addr         string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password     string `env:"REDIS_PASSWORD"`
	DB           int    `env:"REDIS_DB" envDefault:"0"`
	StreamPrefix string `env:"REDIS_STREAM_PREFIX" envDefault:"paycore"`
	StreamMaxLen int64  `env:"REDIS_STREAM_MAX_LEN" envDefault:"100000"`
}

// OutboxConfig: публикация и очистка transactional outbox.
type OutboxConfig struct {
	PollInterval    time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	BatchSize       int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	MaxRetries      int           `env:"OUTBOX_MAX_RETRIES" envDefault:"5"`
	CleanupInterval time.Duration `env:"OUTBOX_CLEANUP_INTERVAL" envDefault:"1h"`
	Retention       time.Duration `env:"OUTBOX_RETENTION" envDefault:"168h"`
	// MaxPendingAge: порог, после которого backlog считается застрявшим в /healthz.
	MaxPendingAge time.Duration `env:"OUTBOX_MAX_PENDING_AGE" envDefault:"5m"`
}

// GatewayConfig: планировщики и политика state machine шлюза.
// Флаги включения задаются явно и не читаются планировщиками из глобального состояния.
type GatewayConfig struct {
	ClaimEnabled     bool          `env:"GATEWAY_CLAIM_ENABLED" envDefault:"true"`
	ClaimDelay       time.Duration `env:"GATEWAY_CLAIM_DELAY" envDefault:"1s"`
	SettleEnabled    bool          `env:"GATEWAY_SETTLE_ENABLED" envDefault:"true"`
	SettleDelay      time.Duration `env:"GATEWAY_SETTLE_DELAY" envDefault:"2s"`
	BatchSize        int           `env:"GATEWAY_BATCH_SIZE" envDefault:"20"`
	Parallelism      int           `env:"GATEWAY_PARALLELISM" envDefault:"8"`
	ProviderTimeout  time.Duration `env:"GATEWAY_PROVIDER_TIMEOUT" envDefault:"10s"`
	ProvidersFile    string        `env:"PROVIDERS_FILE"`
	TrustNegativeAck bool          `env:"GATEWAY_TRUST_NEGATIVE_ACK" envDefault:"false"`
}

// LoadConfig подгружает .env (если файл есть) и разбирает окружение.
func LoadConfig() (Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	}
	return ParseConfig()
}

// ParseConfig разбирает окружение без чтения .env.
func ParseConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfig возвращает значения по умолчанию, как при пустом окружении.
func DefaultConfig() Config {
	var cfg Config
	// envDefault-теги применяются к пустому окружению без ошибок.
	_ = env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	return cfg
}

// Validate проверяет согласованность драйверов и их параметров.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.StorageDriver) {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch strings.ToLower(c.BusDriver) {
	case BusDriverMemory:
	case BusDriverKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for kafka bus"))
		}
	case BusDriverRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for redis bus"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported bus driver %q", c.BusDriver))
	}

	if c.NodeID < 0 || c.NodeID > 1023 {
		errs = append(errs, fmt.Errorf("NODE_ID must be in [0, 1023], got %d", c.NodeID))
	}
	if c.Outbox.BatchSize <= 0 {
		errs = append(errs, errors.New("OUTBOX_BATCH_SIZE must be positive"))
	}
	if c.Outbox.MaxRetries <= 0 {
		errs = append(errs, errors.New("OUTBOX_MAX_RETRIES must be positive"))
	}
	return errors.Join(errs...)
}
