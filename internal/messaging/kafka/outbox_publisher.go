package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

// OutboxPublisher публикует outbox-записи в topic, указанный в записи.
type OutboxPublisher struct {
	producer     *Producer
	defaultTopic string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
// defaultTopic используется для записей без topic.
func NewOutboxPublisher(producer *Producer, defaultTopic string) *OutboxPublisher {
	return &OutboxPublisher{
		producer:     producer,
		defaultTopic: defaultTopic,
	}
}

// Publish отправляет envelope; ключ — aggregate id, чтобы события одного агрегата
// попадали в одну партицию.
func (p *OutboxPublisher) Publish(ctx context.Context, event domain.OutboxEvent) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	topic := event.Topic
	if topic == "" {
		topic = p.defaultTopic
	}
	if topic == "" {
		return fmt.Errorf("outbox event %s has no topic", event.EventID)
	}

	key := event.AggregateID
	if key == "" {
		key = event.EventID
	}

	env := domain.EnvelopeOf(event)
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := p.producer.Send(topic, key, value, envelopeHeaders(env)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrOutboxPublish, err)
	}
	return nil
}

var _ domain.EventPublisher = (*OutboxPublisher)(nil)
