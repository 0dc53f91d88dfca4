package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
	"github.com/vladislavdragonenkov/paycore/internal/service/inbox"
)

// ConsumerName: имя потребителя в processed_events.
const ConsumerName = "ledger-payment-results"

// StockReleaser возвращает на склад всё, что ещё держит заказ.
type StockReleaser interface {
	ReleaseReserved(ctx context.Context, orderPublicID string) ([]OrderLine, error)
}

// PaymentResults применяет терминальные результаты шлюза к финансовой правде:
// создаёт Payment и пишет дельту баланса пользователя, а при отказе в оплате
// возвращает зарезервированные остатки. Повторы отсекает guard.
type PaymentResults struct {
	guard        *inbox.Guard
	payments     domain.PaymentRepository
	reaggregator *Reaggregator
	stock        StockReleaser
	ids          domain.IDGenerator
	logger       *log.Entry
}

// NewPaymentResults создаёт потребителя payment.* событий.
func NewPaymentResults(guard *inbox.Guard, payments domain.PaymentRepository, reaggregator *Reaggregator, stock StockReleaser, ids domain.IDGenerator, logger *log.Entry) *PaymentResults {
	if logger == nil {
		logger = log.WithField("component", "payment-results")
	}
	return &PaymentResults{
		guard:        guard,
		payments:     payments,
		reaggregator: reaggregator,
		stock:        stock,
		ids:          ids,
		logger:       logger,
	}
}

// Handle: точка входа для транспорта шины.
func (c *PaymentResults) Handle(ctx context.Context, env domain.Envelope) error {
	switch env.EventType {
	case domain.EventTypePaymentApproved, domain.EventTypePaymentCancelled, domain.EventTypePaymentFailed:
	default:
		c.logger.WithField("event_type", env.EventType).Debug("ignoring unrelated event")
		return nil
	}
	return c.guard.Consume(ctx, env, c.apply)
}

func (c *PaymentResults) apply(ctx context.Context, env domain.Envelope) error {
	var result domain.PaymentResultPayload
	if err := json.Unmarshal(env.Payload, &result); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.EventType, err)
	}

	entry := c.logger.WithFields(log.Fields{
		"event_id":        env.EventID,
		"process_id":      result.ProcessID,
		"order_public_id": result.OrderPublicID,
	})

	switch env.EventType {
	case domain.EventTypePaymentApproved:
		return c.applyApproval(ctx, env, result, entry)
	case domain.EventTypePaymentCancelled:
		return c.applyCancellation(ctx, env, result, entry)
	default:
		return c.applyFailure(ctx, result, entry)
	}
}

// applyFailure снимает резерв заказа, если провайдер отказал в одобрении.
// Неудачная отмена деньги и остатки не трогает.
func (c *PaymentResults) applyFailure(ctx context.Context, result domain.PaymentResultPayload, entry *log.Entry) error {
	entry = entry.WithField("code", result.Code)
	if result.Kind != domain.ProcessKindApprove || result.OrderPublicID == "" {
		entry.Info("payment failed at provider, no ledger effect")
		return nil
	}

	released, err := c.stock.ReleaseReserved(ctx, result.OrderPublicID)
	if err != nil {
		return fmt.Errorf("release stock of order %s: %w", result.OrderPublicID, err)
	}
	entry.WithField("released_lines", len(released)).Info("payment failed at provider, order stock released")
	return nil
}

func (c *PaymentResults) applyApproval(ctx context.Context, env domain.Envelope, result domain.PaymentResultPayload, entry *log.Entry) error {
	payment := &domain.Payment{
		ID:            c.ids.NextID(),
		Type:          domain.PaymentTypeApprove,
		ProcessID:     result.ProcessID,
		OrderPublicID: result.OrderPublicID,
		UserPublicID:  result.UserPublicID,
		Provider:      result.Provider,
		Amount:        result.Amount,
		PGTransaction: result.PGTransaction,
		PGApprovalNo:  result.PGApprovalNo,
		SourceEventID: env.EventID,
	}
	if err := c.payments.Insert(ctx, payment); err != nil {
		return err
	}

	account, err := c.reaggregator.ApplyDelta(ctx, domain.AggregateKindBalance, result.UserPublicID, -result.Amount, paymentReason(result))
	if err != nil {
		return err
	}

	entry.WithFields(log.Fields{
		"payment_id": payment.ID,
		"balance":    account.CurrentValue,
	}).Info("payment approved and charged")
	return nil
}

func (c *PaymentResults) applyCancellation(ctx context.Context, env domain.Envelope, result domain.PaymentResultPayload, entry *log.Entry) error {
	if result.OriginProcessID == nil {
		return fmt.Errorf("cancellation %d has no origin process", result.ProcessID)
	}

	origin, err := c.payments.GetByProcess(ctx, *result.OriginProcessID)
	if err != nil {
		return fmt.Errorf("origin payment for process %d: %w", *result.OriginProcessID, err)
	}

	originID := origin.ID
	payment := &domain.Payment{
		ID:              c.ids.NextID(),
		Type:            domain.PaymentTypeCancel,
		ProcessID:       result.ProcessID,
		OrderPublicID:   result.OrderPublicID,
		UserPublicID:    result.UserPublicID,
		Provider:        result.Provider,
		Amount:          result.Amount,
		PGTransaction:   result.PGTransaction,
		PGApprovalNo:    result.PGApprovalNo,
		OriginPaymentID: &originID,
		SourceEventID:   env.EventID,
	}
	if err := c.payments.Insert(ctx, payment); err != nil {
		return err
	}

	// сумма отмены отрицательная, поэтому -amount возвращает деньги на счёт
	account, err := c.reaggregator.ApplyDelta(ctx, domain.AggregateKindBalance, result.UserPublicID, -result.Amount, paymentReason(result))
	if err != nil {
		return err
	}

	entry.WithFields(log.Fields{
		"payment_id":        payment.ID,
		"origin_payment_id": originID,
		"balance":           account.CurrentValue,
	}).Info("payment cancelled and refunded")
	return nil
}

func paymentReason(result domain.PaymentResultPayload) string {
	return string(result.Kind) + " process " + strconv.FormatInt(result.ProcessID, 10)
}
