package kafka

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// Producer публикует записи синхронно: Send возвращается после подтверждения
// всех in-sync реплик, поэтому outbox помечает событие опубликованным только
// после реальной записи в лог.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

// ProducerOption настраивает sarama-конфигурацию producer.
type ProducerOption func(cfg *sarama.Config)

// WithClientID задаёт client.id, видимый в метриках брокера.
func WithClientID(clientID string) ProducerOption {
	return func(cfg *sarama.Config) {
		if clientID != "" {
			cfg.ClientID = clientID
		}
	}
}

// WithSendRetries переопределяет число повторов отправки внутри sarama.
func WithSendRetries(n int) ProducerOption {
	return func(cfg *sarama.Config) {
		if n >= 0 {
			cfg.Producer.Retry.Max = n
		}
	}
}

func producerConfig(opts ...ProducerOption) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Compression = sarama.CompressionSnappy
	// idempotent producer требует одного запроса в полёте на соединение
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// NewProducer подключается к брокерам и возвращает синхронный producer.
func NewProducer(brokers []string, opts ...ProducerOption) (*Producer, error) {
	syncProducer, err := sarama.NewSyncProducer(brokers, producerConfig(opts...))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return newProducer(syncProducer), nil
}

func newProducer(syncProducer sarama.SyncProducer) *Producer {
	return &Producer{
		producer: syncProducer,
		logger:   log.WithField("component", "kafka-producer"),
	}
}

// Send пишет одну запись. Ключ определяет партицию, поэтому события
// одного агрегата сохраняют порядок.
func (p *Producer) Send(topic, key string, value []byte, headers []sarama.RecordHeader) error {
	entry := p.logger.WithFields(log.Fields{"topic": topic, "key": key})

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Headers:   headers,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		entry.WithError(err).Error("kafka send failed")
		return fmt.Errorf("send to %s: %w", topic, err)
	}

	entry.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("kafka record written")
	return nil
}

// Close сбрасывает буферы и закрывает соединения с брокерами.
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
