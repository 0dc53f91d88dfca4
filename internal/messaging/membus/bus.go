// Package membus — синхронная in-process шина для режима без брокера и тестов.
package membus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

// Bus доставляет событие всем подписчикам topic прямо внутри Publish.
// Ошибка любого подписчика возвращается паблишеру: outbox повторит доставку,
// а уже применившие событие подписчики отсеют дубль через processed-event guard.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]subscriber
	logger      *log.Entry
}

type subscriber struct {
	name    string
	handler domain.EventHandler
}

// New создаёт пустую шину.
func New(logger *log.Entry) *Bus {
	if logger == nil {
		logger = log.WithField("component", "membus")
	}
	return &Bus{
		subscribers: make(map[string][]subscriber),
		logger:      logger,
	}
}

// Subscribe регистрирует обработчик topic.
func (b *Bus) Subscribe(topic, name string, handler domain.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], subscriber{name: name, handler: handler})
}

// Publish прогоняет envelope через JSON, чтобы подписчики видели то же, что и с брокера.
func (b *Bus) Publish(ctx context.Context, event domain.OutboxEvent) error {
	data, err := json.Marshal(domain.EnvelopeOf(event))
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	b.mu.RLock()
	subs := append([]subscriber(nil), b.subscribers[event.Topic]...)
	b.mu.RUnlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.handler(ctx, env); err != nil {
			b.logger.WithError(err).WithFields(log.Fields{
				"subscriber": sub.name,
				"event_id":   env.EventID,
				"topic":      event.Topic,
			}).Warn("subscriber failed")
			errs = append(errs, fmt.Errorf("%s: %w", sub.name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", domain.ErrOutboxPublish, errors.Join(errs...))
	}
	return nil
}

var _ domain.EventPublisher = (*Bus)(nil)
