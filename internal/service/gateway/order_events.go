package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
	"github.com/vladislavdragonenkov/paycore/internal/service/inbox"
)

// ConsumerName: имя потребителя order.* событий в processed_events.
const ConsumerName = "gateway-order-events"

// OrderEvents превращает события ledger-сервиса в строки PaymentProcess в статусе UNKNOWN.
// Дальше строки подхватывает планировщик.
type OrderEvents struct {
	guard     *inbox.Guard
	converter *Converter
	processes domain.PaymentProcessRepository
	logger    *log.Entry
}

// NewOrderEvents создаёт потребителя.
func NewOrderEvents(guard *inbox.Guard, converter *Converter, processes domain.PaymentProcessRepository, logger *log.Entry) *OrderEvents {
	if logger == nil {
		logger = log.WithField("component", "order-events")
	}
	return &OrderEvents{
		guard:     guard,
		converter: converter,
		processes: processes,
		logger:    logger,
	}
}

// Handle: точка входа для транспорта шины.
func (c *OrderEvents) Handle(ctx context.Context, env domain.Envelope) error {
	switch env.EventType {
	case domain.EventTypeOrderPlaced, domain.EventTypeOrderCancelRequested:
	default:
		c.logger.WithField("event_type", env.EventType).Debug("ignoring unrelated event")
		return nil
	}
	return c.guard.Consume(ctx, env, c.apply)
}

func (c *OrderEvents) apply(ctx context.Context, env domain.Envelope) error {
	switch env.EventType {
	case domain.EventTypeOrderPlaced:
		var payload domain.OrderPlacedPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", env.EventType, err)
		}
		process, err := c.converter.FromRequest(payload.Request)
		if err != nil {
			return err
		}
		return c.create(ctx, env, process)
	default:
		var payload domain.OrderCancelRequestedPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", env.EventType, err)
		}
		origin, err := c.processes.FindApprovedByOrder(ctx, payload.OrderPublicID)
		if errors.Is(err, domain.ErrProcessNotFound) {
			return fmt.Errorf("%w: order %s", domain.ErrCancelOriginNotApproved, payload.OrderPublicID)
		}
		if err != nil {
			return err
		}
		process, err := c.converter.CancellationOf(&origin)
		if err != nil {
			return err
		}
		return c.create(ctx, env, process)
	}
}

func (c *OrderEvents) create(ctx context.Context, env domain.Envelope, process *domain.PaymentProcess) error {
	if err := c.processes.Create(ctx, process); err != nil {
		return fmt.Errorf("create payment process for order %s: %w", process.OrderPublicID, err)
	}
	c.logger.WithFields(log.Fields{
		"event_id":    env.EventID,
		"process_id":  process.ID,
		"kind":        process.Kind,
		"gateway_ref": process.GatewayReferenceID,
		"amount":      process.Amount,
	}).Info("payment process created")
	return nil
}
