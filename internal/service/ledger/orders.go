package ledger

import (
	"context"
	"fmt"
	"slices"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

// OrderLine: одна позиция заказа.
type OrderLine struct {
	ProductID string
	Qty       int64
}

// PlaceOrderCommand: уже провалидированный upstream запрос на заказ с оплатой.
type PlaceOrderCommand struct {
	Request domain.RequestContext
	Lines   []OrderLine
	TraceID string
}

// Orders списывает остатки по заказу и передаёт запрос на оплату шлюзу через outbox.
type Orders struct {
	tx           domain.TxManager
	ledger       domain.LedgerRepository
	reaggregator *Reaggregator
	outbox       domain.OutboxRepository
	logger       *log.Entry
}

// NewOrders создаёт Orders.
func NewOrders(tx domain.TxManager, ledger domain.LedgerRepository, reaggregator *Reaggregator, outbox domain.OutboxRepository, logger *log.Entry) *Orders {
	if logger == nil {
		logger = log.WithField("component", "orders")
	}
	return &Orders{tx: tx, ledger: ledger, reaggregator: reaggregator, outbox: outbox, logger: logger}
}

// PlaceOrder в одной транзакции пишет дельты -qty по каждой позиции, пересчитывает
// остатки и ставит в outbox событие order.placed. Нехватка остатка откатывает весь заказ.
func (o *Orders) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (domain.OutboxEvent, error) {
	if err := cmd.Request.Validate(); err != nil {
		return domain.OutboxEvent{}, err
	}
	if len(cmd.Lines) == 0 {
		return domain.OutboxEvent{}, domain.ErrOrderLinesRequired
	}
	lines, err := mergeLines(cmd.Lines)
	if err != nil {
		return domain.OutboxEvent{}, err
	}

	reason := placeReason(cmd.Request.OrderPublicID)
	var enqueued domain.OutboxEvent
	err = o.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		for _, line := range lines {
			if _, err := o.reaggregator.ApplyDelta(txCtx, domain.AggregateKindStock, line.ProductID, -line.Qty, reason); err != nil {
				return fmt.Errorf("reserve %s x%d: %w", line.ProductID, line.Qty, err)
			}
		}

		event, err := domain.NewOutboxEvent(
			domain.EventTypeOrderPlaced,
			domain.TopicOrderEvents,
			domain.AggregateTypeOrder,
			cmd.Request.OrderPublicID,
			cmd.TraceID,
			domain.OrderPlacedPayload{Request: cmd.Request},
		)
		if err != nil {
			return fmt.Errorf("build order.placed: %w", err)
		}
		enqueued, err = o.outbox.Enqueue(txCtx, event)
		return err
	})
	if err != nil {
		o.logger.WithError(err).WithField("order_public_id", cmd.Request.OrderPublicID).Warn("place order rejected")
		return domain.OutboxEvent{}, err
	}

	o.logger.WithFields(log.Fields{
		"order_public_id": cmd.Request.OrderPublicID,
		"event_id":        enqueued.EventID,
		"lines":           len(lines),
	}).Info("order placed")
	return enqueued, nil
}

// RequestCancellation ставит в outbox просьбу отменить одобренный платёж заказа.
func (o *Orders) RequestCancellation(ctx context.Context, orderPublicID, reason, traceID string) (domain.OutboxEvent, error) {
	if strings.TrimSpace(orderPublicID) == "" {
		return domain.OutboxEvent{}, domain.ErrOrderIDRequired
	}

	event, err := domain.NewOutboxEvent(
		domain.EventTypeOrderCancelRequested,
		domain.TopicOrderEvents,
		domain.AggregateTypeOrder,
		orderPublicID,
		traceID,
		domain.OrderCancelRequestedPayload{OrderPublicID: orderPublicID, Reason: reason},
	)
	if err != nil {
		return domain.OutboxEvent{}, fmt.Errorf("build order.cancel_requested: %w", err)
	}

	enqueued, err := o.outbox.Enqueue(ctx, event)
	if err != nil {
		return domain.OutboxEvent{}, err
	}

	o.logger.WithFields(log.Fields{
		"order_public_id": orderPublicID,
		"event_id":        enqueued.EventID,
	}).Info("order cancellation requested")
	return enqueued, nil
}

// ReleaseStock возвращает остатки компенсирующими дельтами +qty.
func (o *Orders) ReleaseStock(ctx context.Context, orderPublicID string, lines []OrderLine) error {
	if len(lines) == 0 {
		return nil
	}
	merged, err := mergeLines(lines)
	if err != nil {
		return err
	}

	reason := releaseReason(orderPublicID)
	return o.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		for _, line := range merged {
			if _, err := o.reaggregator.ApplyDelta(txCtx, domain.AggregateKindStock, line.ProductID, line.Qty, reason); err != nil {
				return fmt.Errorf("release %s x%d: %w", line.ProductID, line.Qty, err)
			}
		}
		return nil
	})
}

// ReleaseReserved возвращает всё, что заказ ещё держит: списания заказа за вычетом
// уже выполненных возвратов. Повторный вызов ничего не меняет.
func (o *Orders) ReleaseReserved(ctx context.Context, orderPublicID string) ([]OrderLine, error) {
	var released []OrderLine
	err := o.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		records, err := o.ledger.ListByReason(txCtx, domain.AggregateKindStock, []string{
			placeReason(orderPublicID),
			releaseReason(orderPublicID),
		})
		if err != nil {
			return fmt.Errorf("list reservations of order %s: %w", orderPublicID, err)
		}

		held := make(map[string]int64)
		for _, rec := range records {
			held[rec.AggregateID] -= rec.Delta
		}
		for productID, qty := range held {
			if qty > 0 {
				released = append(released, OrderLine{ProductID: productID, Qty: qty})
			}
		}
		return o.ReleaseStock(txCtx, orderPublicID, released)
	})
	if err != nil {
		return nil, err
	}
	if len(released) > 0 {
		slices.SortFunc(released, compareLines)
	}
	return released, nil
}

// mergeLines проверяет позиции, складывает повторы одного товара и сортирует по
// ProductID. Строки остатков блокируются в этом порядке, поэтому встречные заказы
// не ждут друг друга по кругу.
func mergeLines(lines []OrderLine) ([]OrderLine, error) {
	byProduct := make(map[string]int64, len(lines))
	for _, line := range lines {
		if line.Qty <= 0 {
			return nil, domain.ErrOrderLineQtyInvalid
		}
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, domain.ErrAggregateIDRequired
		}
		byProduct[productID] += line.Qty
	}

	merged := make([]OrderLine, 0, len(byProduct))
	for productID, qty := range byProduct {
		merged = append(merged, OrderLine{ProductID: productID, Qty: qty})
	}
	slices.SortFunc(merged, compareLines)
	return merged, nil
}

func compareLines(a, b OrderLine) int {
	return strings.Compare(a.ProductID, b.ProductID)
}

func placeReason(orderPublicID string) string   { return "order " + orderPublicID }
func releaseReason(orderPublicID string) string { return "release " + orderPublicID }
