package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
	"github.com/vladislavdragonenkov/paycore/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/paycore/internal/messaging/membus"
	"github.com/vladislavdragonenkov/paycore/internal/messaging/redisstream"
)

// Subscription: запущенный потребитель шины.
type Subscription interface {
	Start(ctx context.Context) error
	Stop() error
}

// Bus объединяет паблишер outbox и фабрику потребителей одного транспорта.
type Bus struct {
	Driver string
	// Publisher публикует outbox-записи в topic записи.
	Publisher domain.EventPublisher
	// DeadLetter принимает записи, исчерпавшие ретраи. Может быть nil.
	DeadLetter domain.EventPublisher

	subscribe func(ctx context.Context, group string, topics []string, handler domain.EventHandler) (Subscription, error)
	ping      func(ctx context.Context) error
	closeFn   func() error
}

// NewMemoryBus оборачивает in-process шину. Подписчики и паблишеры должны жить
// в одном процессе. nil создаёт новую шину.
func NewMemoryBus(bus *membus.Bus) *Bus {
	if bus == nil {
		bus = membus.New(nil)
	}
	return &Bus{
		Driver:     BusDriverMemory,
		Publisher:  bus,
		DeadLetter: bus,
		subscribe: func(_ context.Context, group string, topics []string, handler domain.EventHandler) (Subscription, error) {
			for _, topic := range topics {
				bus.Subscribe(topic, group, handler)
			}
			return noopSubscription{}, nil
		},
		ping:    func(context.Context) error { return nil },
		closeFn: func() error { return nil },
	}
}

// NewKafkaBus создаёт producer и потребителей с DLQ.
func NewKafkaBus(cfg KafkaConfig) (*Bus, error) {
	producer, err := kafka.NewProducer(cfg.Brokers, kafka.WithClientID(cfg.ClientID))
	if err != nil {
		return nil, err
	}
	return &Bus{
		Driver:     BusDriverKafka,
		Publisher:  kafka.NewOutboxPublisher(producer, ""),
		DeadLetter: kafka.NewOutboxPublisher(producer, domain.TopicDeadLetter),
		subscribe: func(_ context.Context, group string, topics []string, handler domain.EventHandler) (Subscription, error) {
			consumer, err := kafka.NewConsumer(cfg.Brokers, group, topics, handler,
				kafka.WithDeadLetter(producer),
				kafka.WithMaxRetries(cfg.MaxRetries),
			)
			if err != nil {
				return nil, err
			}
			return consumer, nil
		},
		ping:    func(context.Context) error { return nil },
		closeFn: producer.Close,
	}, nil
}

// NewRedisBus подключается к Redis и публикует в streams с префиксом.
func NewRedisBus(ctx context.Context, cfg RedisConfig) (*Bus, error) {
	client, err := redisstream.NewClient(ctx, cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		return nil, err
	}
	return newRedisBus(client, cfg), nil
}

func newRedisBus(client *redis.Client, cfg RedisConfig) *Bus {
	publisher := redisstream.NewPublisher(client, cfg.StreamPrefix, cfg.StreamMaxLen)
	return &Bus{
		Driver:     BusDriverRedis,
		Publisher:  publisher,
		DeadLetter: publisher,
		subscribe: func(ctx context.Context, group string, topics []string, handler domain.EventHandler) (Subscription, error) {
			consumer, err := redisstream.NewConsumer(ctx, client, redisstream.ConsumerConfig{
				Prefix:     cfg.StreamPrefix,
				Group:      group,
				Name:       consumerName(group),
				Topics:     topics,
				Block:      2 * time.Second,
				Handler:    handler,
				DeadLetter: publisher,
			})
			if err != nil {
				return nil, err
			}
			return consumer, nil
		},
		ping:    func(ctx context.Context) error { return client.Ping(ctx).Err() },
		closeFn: client.Close,
	}
}

// OpenBus подключается к транспорту из конфигурации. shared используется
// для драйвера memory, чтобы сервисы одного процесса видели одну шину.
func OpenBus(ctx context.Context, cfg Config, shared *membus.Bus, logger *log.Entry) (*Bus, error) {
	switch strings.ToLower(cfg.BusDriver) {
	case BusDriverMemory:
		logger.Warn("using in-process bus, events do not leave this process")
		return NewMemoryBus(shared), nil
	case BusDriverKafka:
		return NewKafkaBus(cfg.Kafka)
	case BusDriverRedis:
		return NewRedisBus(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported bus driver %q", cfg.BusDriver)
	}
}

// Subscribe создаёт потребителя group для topics. Потребитель нужно запустить.
func (b *Bus) Subscribe(ctx context.Context, group string, topics []string, handler domain.EventHandler) (Subscription, error) {
	if b == nil || b.subscribe == nil {
		return nil, fmt.Errorf("bus is not initialized")
	}
	return b.subscribe(ctx, group, topics, handler)
}

// Ping проверяет доступность брокера.
func (b *Bus) Ping(ctx context.Context) error {
	if b == nil || b.ping == nil {
		return fmt.Errorf("bus is not initialized")
	}
	return b.ping(ctx)
}

// Close закрывает соединения с брокером.
func (b *Bus) Close() error {
	if b == nil || b.closeFn == nil {
		return nil
	}
	return b.closeFn()
}

// consumerName отличает экземпляры внутри группы, чтобы у каждого был свой PEL.
func consumerName(group string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return group
	}
	return group + "-" + host
}

type noopSubscription struct{}

func (noopSubscription) Start(context.Context) error { return nil }
func (noopSubscription) Stop() error                 { return nil }
