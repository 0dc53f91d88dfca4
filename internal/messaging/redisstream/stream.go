// Package redisstream — альтернативный транспорт событий поверх Redis Streams.
// Один stream на topic, consumer group на потребителя, подтверждение через XACK.
package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

// EventTypeDeadLetter: тип события для записей, отправленных в DLQ.
const EventTypeDeadLetter = "stream.dead_letter"

// DeadLetterPayload описывает исходную запись stream в DLQ.
type DeadLetterPayload struct {
	Stream    string         `json:"stream"`
	MessageID string         `json:"message_id"`
	Values    map[string]any `json:"values"`
	Error     string         `json:"error"`
}

// Поля записи в stream.
const (
	FieldEventID   = "event_id"
	FieldEventType = "event_type"
	FieldEnvelope  = "envelope"
)

// Client: подмножество redis.Cmdable, которое использует транспорт.
type Client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

var _ Client = (*redis.Client)(nil)

// NewClient создаёт redis-клиент и проверяет соединение.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// StreamName возвращает имя stream для topic.
func StreamName(prefix, topic string) string {
	if prefix == "" {
		return topic
	}
	return prefix + ":" + topic
}

// Publisher пишет outbox-события в stream через XADD.
type Publisher struct {
	client Client
	prefix string
	maxLen int64
}

// NewPublisher создаёт паблишер. maxLen > 0 включает приблизительное усечение stream.
func NewPublisher(client Client, prefix string, maxLen int64) *Publisher {
	return &Publisher{client: client, prefix: prefix, maxLen: maxLen}
}

// Publish добавляет envelope в stream topic события.
func (p *Publisher) Publish(ctx context.Context, event domain.OutboxEvent) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("redis stream publisher is not initialized")
	}
	if event.Topic == "" {
		return fmt.Errorf("outbox event %s has no topic", event.EventID)
	}

	env := domain.EnvelopeOf(event)
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: StreamName(p.prefix, event.Topic),
		Values: map[string]any{
			FieldEventID:   env.EventID,
			FieldEventType: env.EventType,
			FieldEnvelope:  string(value),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrOutboxPublish, err)
	}
	return nil
}

var _ domain.EventPublisher = (*Publisher)(nil)

// ConsumerConfig описывает consumer group.
type ConsumerConfig struct {
	Prefix  string
	Group   string
	Name    string
	Topics  []string
	Count   int64
	Block   time.Duration
	Backoff time.Duration
	Handler domain.EventHandler
	Logger  *log.Entry
	// DeadLetter получает записи, которые нельзя разобрать.
	DeadLetter domain.EventPublisher
}

// Consumer читает stream через XREADGROUP. Запись подтверждается только после
// успешной обработки; неподтверждённая остаётся в pending entries list группы.
type Consumer struct {
	client  Client
	cfg     ConsumerConfig
	streams []string
	logger  *log.Entry

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewConsumer создаёт consumer group для каждого topic (BUSYGROUP игнорируется).
func NewConsumer(ctx context.Context, client Client, cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Handler == nil {
		return nil, errors.New("redis stream consumer requires a handler")
	}
	if cfg.Group == "" || len(cfg.Topics) == 0 {
		return nil, errors.New("redis stream consumer requires a group and topics")
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Group
	}
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithField("component", "redis-stream-consumer")
	}

	c := &Consumer{
		client: client,
		cfg:    cfg,
		logger: logger.WithField("group", cfg.Group),
	}
	for _, topic := range cfg.Topics {
		stream := StreamName(cfg.Prefix, topic)
		err := client.XGroupCreateMkStream(ctx, stream, cfg.Group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return nil, fmt.Errorf("failed to create consumer group for %s: %w", stream, err)
		}
		c.streams = append(c.streams, stream)
	}
	return c, nil
}

// Start запускает цикл чтения в фоне.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		// Сначала дочитываем собственный PEL, затем новые записи.
		// После неудачной обработки возвращаемся к PEL.
		backlog := true
		for ctx.Err() == nil {
			acked, unacked, err := c.ReadOnce(ctx, backlog)
			if err != nil && ctx.Err() != nil {
				return
			}
			if err != nil {
				c.logger.WithError(err).Warn("redis stream read failed")
			}
			if err != nil || unacked > 0 {
				backlog = true
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.cfg.Backoff):
				}
				continue
			}
			if backlog && acked == 0 {
				backlog = false
			}
		}
	}()

	c.logger.WithField("streams", c.streams).Info("redis stream consumer started")
	return nil
}

// Stop останавливает цикл и ждёт его завершения.
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Info("redis stream consumer stopped")
	return nil
}

// ReadOnce читает одну пачку и обрабатывает её. backlog=true перечитывает
// уже доставленные, но не подтверждённые записи этого consumer.
func (c *Consumer) ReadOnce(ctx context.Context, backlog bool) (acked, unacked int, err error) {
	start := ">"
	if backlog {
		start = "0"
	}
	streams := make([]string, 0, len(c.streams)*2)
	streams = append(streams, c.streams...)
	for range c.streams {
		streams = append(streams, start)
	}

	args := &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Name,
		Streams:  streams,
		Count:    c.cfg.Count,
		Block:    c.cfg.Block,
	}
	if backlog {
		args.Block = -1
	}
	result, err := c.client.XReadGroup(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}

	for _, stream := range result {
		for _, message := range stream.Messages {
			if !c.handle(ctx, stream.Stream, message) {
				unacked++
				continue
			}
			if ackErr := c.client.XAck(ctx, stream.Stream, c.cfg.Group, message.ID).Err(); ackErr != nil {
				c.logger.WithError(ackErr).WithField("message_id", message.ID).Error("failed to ack stream message")
				unacked++
				continue
			}
			acked++
		}
	}
	return acked, unacked, nil
}

// handle возвращает true, если запись можно подтвердить.
func (c *Consumer) handle(ctx context.Context, stream string, message redis.XMessage) bool {
	entry := c.logger.WithFields(log.Fields{"stream": stream, "message_id": message.ID})

	env, err := DecodeEnvelope(message)
	if err != nil {
		entry.WithError(err).Error("undecodable stream message")
		return c.deadLetter(ctx, stream, message, err)
	}

	if err := c.cfg.Handler(ctx, env); err != nil {
		entry.WithError(err).WithField("event_id", env.EventID).Warn("stream message processing failed")
		return false
	}
	return true
}

func (c *Consumer) deadLetter(ctx context.Context, stream string, message redis.XMessage, cause error) bool {
	if c.cfg.DeadLetter == nil {
		return false
	}
	event, err := domain.NewOutboxEvent(EventTypeDeadLetter, domain.TopicDeadLetter, "stream", stream, "", DeadLetterPayload{
		Stream:    stream,
		MessageID: message.ID,
		Values:    message.Values,
		Error:     cause.Error(),
	})
	if err != nil {
		c.logger.WithError(err).Error("failed to build DLQ event")
		return false
	}
	event.EventID = stream + "-" + message.ID
	if err := c.cfg.DeadLetter.Publish(ctx, event); err != nil {
		c.logger.WithError(err).Error("failed to publish stream message to DLQ")
		return false
	}
	return true
}

// DecodeEnvelope разбирает запись stream в envelope.
func DecodeEnvelope(message redis.XMessage) (domain.Envelope, error) {
	raw, ok := message.Values[FieldEnvelope].(string)
	if !ok {
		return domain.Envelope{}, fmt.Errorf("stream message %s has no envelope field", message.ID)
	}
	var env domain.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return domain.Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if env.EventID == "" {
		if id, ok := message.Values[FieldEventID].(string); ok {
			env.EventID = id
		}
	}
	if env.EventID == "" {
		return domain.Envelope{}, domain.ErrEventIDRequired
	}
	return env, nil
}
