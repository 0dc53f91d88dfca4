package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

const (
	defaultConsumerRetries = 3
	defaultRetryDelay      = 200 * time.Millisecond
)

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithDeadLetter включает пересылку неразрешимых сообщений в paycore.dlq.
func WithDeadLetter(producer *Producer) ConsumerOption {
	return func(c *Consumer) { c.dlq = producer }
}

// WithMaxRetries задаёт общее число попыток обработки одного сообщения.
func WithMaxRetries(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryDelay задаёт паузу между попытками.
func WithRetryDelay(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d >= 0 {
			c.retryDelay = d
		}
	}
}

// Consumer читает envelope-сообщения из Kafka и передаёт их обработчику.
// Offset фиксируется только после успешной обработки или пересылки в DLQ.
// Повторную доставку отсеивает сам обработчик (processed-event guard).
type Consumer struct {
	group      sarama.ConsumerGroup
	topics     []string
	handler    domain.EventHandler
	dlq        *Producer
	maxRetries int
	retryDelay time.Duration
	logger     *log.Entry
	wg         sync.WaitGroup
}

// NewConsumer подключается к consumer group groupID.
func NewConsumer(brokers []string, groupID string, topics []string, handler domain.EventHandler, opts ...ConsumerOption) (*Consumer, error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group %s: %w", groupID, err)
	}
	consumer := newConsumer(group, topics, handler, opts...)
	consumer.logger = consumer.logger.WithField("group", groupID)
	return consumer, nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler domain.EventHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		group:      group,
		topics:     topics,
		handler:    handler,
		maxRetries: defaultConsumerRetries,
		retryDelay: defaultRetryDelay,
		logger:     log.WithField("component", "kafka-consumer"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start запускает чтение в фоне и сразу возвращается.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		// Consume возвращается на каждом rebalance
		for ctx.Err() == nil {
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("consume session ended with error")
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Error("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает группу и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает партицию по порядку. Сообщение, которое не удалось
// ни обработать, ни переложить в DLQ, не маркируется и придёт снова после rebalance.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if err := c.process(ctx, message); err != nil {
				c.logger.WithError(err).WithFields(log.Fields{
					"topic":     message.Topic,
					"partition": message.Partition,
					"offset":    message.Offset,
				}).Error("message left unacknowledged")
				continue
			}
			session.MarkMessage(message, "")
		}
	}
}

// process доводит сообщение до обработчика. Попытки, уже потраченные
// предыдущими доставками (заголовок x-retry-count), вычитаются из бюджета.
// Неразбираемое сообщение отправляется в DLQ без попыток.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	env, err := DecodeEnvelope(message)
	if err != nil {
		return c.deadLetter(message, err)
	}

	budget := max(c.maxRetries-priorAttempts(message), 1)
	for attempt := 1; ; attempt++ {
		err = c.handler(ctx, env)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return err
		}

		c.logger.WithError(err).WithFields(log.Fields{
			"event_id":   env.EventID,
			"event_type": env.EventType,
			"attempt":    attempt,
			"budget":     budget,
		}).Warn("event handler failed")

		if attempt >= budget {
			return c.deadLetter(message, err)
		}
		if c.retryDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
	}
}

// deadLetter пересылает исходное сообщение в DLQ. Без DLQ возвращает cause,
// и сообщение остаётся непомеченным.
func (c *Consumer) deadLetter(message *sarama.ConsumerMessage, cause error) error {
	if c.dlq == nil {
		return cause
	}
	if err := c.dlq.Send(domain.TopicDeadLetter, string(message.Key), message.Value, c.deadLetterHeaders(message, cause)); err != nil {
		return fmt.Errorf("dead-letter %s/%d@%d: %w", message.Topic, message.Partition, message.Offset, err)
	}
	c.logger.WithError(cause).WithFields(log.Fields{
		"topic":  message.Topic,
		"offset": message.Offset,
	}).Warn("message moved to DLQ")
	return nil
}

// deadLetterHeaders сохраняет исходные заголовки и добавляет topic, причину
// и исчерпанный счётчик попыток.
func (c *Consumer) deadLetterHeaders(message *sarama.ConsumerMessage, cause error) []sarama.RecordHeader {
	headers := make([]sarama.RecordHeader, 0, len(message.Headers)+3)
	for _, h := range message.Headers {
		if h != nil && string(h.Key) != HeaderRetryCount {
			headers = append(headers, *h)
		}
	}
	return append(headers,
		sarama.RecordHeader{Key: []byte(HeaderOriginalTopic), Value: []byte(message.Topic)},
		sarama.RecordHeader{Key: []byte(HeaderErrorMessage), Value: []byte(cause.Error())},
		sarama.RecordHeader{Key: []byte(HeaderRetryCount), Value: []byte(strconv.Itoa(c.maxRetries))},
	)
}

func priorAttempts(message *sarama.ConsumerMessage) int {
	n, err := strconv.Atoi(headerValue(message, HeaderRetryCount))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
