package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
	"github.com/vladislavdragonenkov/paycore/internal/metrics"
	"github.com/vladislavdragonenkov/paycore/internal/provider"
)

// Outcome описывает, чем закончилась обработка строки этим экземпляром.
type Outcome string

const (
	// OutcomeSkipped: CAS проиграл: переход уже выполнил кто-то другой.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeAwaitingResult: запрос подтверждён или не дошёл, итог придёт позже.
	OutcomeAwaitingResult Outcome = "awaiting_result"
	// OutcomeFinalized: этот вызов перевёл строку в терминальный статус.
	OutcomeFinalized Outcome = "finalized"
)

// CodeRequestUnpreparable: код результата строки, запрос по которой не удалось собрать.
const CodeRequestUnpreparable = "REQUEST_UNPREPARABLE"

// ErrWebhookUnsupported: провайдер не присылает webhook.
var ErrWebhookUnsupported = errors.New("provider does not support webhooks")

// ErrSettlementUnsupported: у провайдера нет двухфазного расчёта.
var ErrSettlementUnsupported = errors.New("provider does not support settlement")

// Sender отправляет подготовленный запрос провайдеру.
type Sender interface {
	Send(ctx context.Context, adapter provider.Adapter, process *domain.PaymentProcess, payload []byte) ([]byte, int, error)
}

// ProcessorOptions задаёт политику state machine.
type ProcessorOptions struct {
	// TrustNegativeAck: отрицательное подтверждение сразу завершает строку FAILED.
	// По умолчанию строка остаётся PENDING до webhook или ручного разбора.
	TrustNegativeAck bool
	Metrics          *metrics.PaymentMetrics
	Now              func() time.Time
}

// Processor: драйвер state machine PaymentProcess. Все переходы выполняются CAS,
// поэтому несколько экземпляров могут обрабатывать одни и те же строки.
type Processor struct {
	tx        domain.TxManager
	processes domain.PaymentProcessRepository
	outbox    domain.OutboxRepository
	registry  *provider.Registry
	sender    Sender
	opts      ProcessorOptions
	logger    *log.Entry
}

// NewProcessor собирает Processor.
func NewProcessor(
	tx domain.TxManager,
	processes domain.PaymentProcessRepository,
	outbox domain.OutboxRepository,
	registry *provider.Registry,
	sender Sender,
	opts ProcessorOptions,
	logger *log.Entry,
) *Processor {
	if logger == nil {
		logger = log.WithField("component", "payment-processor")
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Processor{
		tx:        tx,
		processes: processes,
		outbox:    outbox,
		registry:  registry,
		sender:    sender,
		opts:      opts,
		logger:    logger,
	}
}

// Claim выполняет CAS UNKNOWN → PENDING без вызова провайдера.
func (p *Processor) Claim(ctx context.Context, process *domain.PaymentProcess, payload []byte) (bool, error) {
	claimed, err := p.processes.CasClaim(ctx, process.ID, payload, p.opts.Now())
	if err != nil {
		return false, fmt.Errorf("claim process %d: %w", process.ID, err)
	}
	p.opts.Metrics.RecordClaim(process.Provider, claimed)
	return claimed, nil
}

// Execute захватывает строку и, только если захват удался, вызывает провайдера.
// Сбой вызова оставляет строку PENDING: её разрешит webhook или оператор,
// повторной отправки из этого экземпляра не будет.
func (p *Processor) Execute(ctx context.Context, process domain.PaymentProcess) (Outcome, error) {
	entry := p.logger.WithFields(log.Fields{
		"process_id":  process.ID,
		"provider":    process.Provider,
		"gateway_ref": process.GatewayReferenceID,
	})

	adapter, err := p.registry.Get(process.Provider)
	if err != nil {
		return OutcomeSkipped, err
	}
	payload, err := adapter.PrepareRequest(ctx, &process)
	if err != nil {
		return p.rejectUnpreparable(ctx, process, fmt.Errorf("prepare %s request: %w", adapter.ID(), err), entry)
	}

	claimed, err := p.Claim(ctx, &process, payload)
	if err != nil {
		return OutcomeSkipped, err
	}
	if !claimed {
		entry.Debug("process already claimed elsewhere")
		return OutcomeSkipped, nil
	}

	started := time.Now()
	body, httpStatus, callErr := p.sender.Send(ctx, adapter, &process, payload)
	if callErr != nil {
		p.opts.Metrics.RecordProviderCall(adapter.ID(), "error", time.Since(started))
		entry.WithError(callErr).Warn("provider call failed, process left PENDING")
		return OutcomeAwaitingResult, nil
	}

	ack, parseErr := adapter.ParseAcknowledgementResponse(body, httpStatus)
	if parseErr != nil {
		ack.HTTPStatus = httpStatus
		ack.Message = parseErr.Error()
	}
	success := parseErr == nil && adapter.IsSuccess(ack)
	callResult := "ok"
	if !success {
		callResult = "rejected"
	}
	p.opts.Metrics.RecordProviderCall(adapter.ID(), callResult, time.Since(started))

	recorded, err := p.processes.CasRecordAck(ctx, process.ID, ack, body, p.opts.Now())
	if err != nil {
		return OutcomeAwaitingResult, fmt.Errorf("record ack for process %d: %w", process.ID, err)
	}
	if !recorded {
		p.opts.Metrics.RecordCASLost("record_ack")
		entry.Debug("ack discarded, process already left PENDING")
		return OutcomeSkipped, nil
	}

	entry = entry.WithFields(log.Fields{"code": ack.Code, "pg_transaction": ack.PGTransaction})
	switch {
	case success && ack.ApprovalNo != "":
		finalized, err := p.Finalize(ctx, process, domain.ProcessStatusPending, process.SuccessStatus(), domain.Settlement{
			PGTransaction: ack.PGTransaction,
			PGApprovalNo:  ack.ApprovalNo,
			Code:          ack.Code,
			Message:       ack.Message,
		}, metrics.SourceSync)
		if err != nil || !finalized {
			return OutcomeSkipped, err
		}
		return OutcomeFinalized, nil
	case !success && p.opts.TrustNegativeAck && parseErr == nil:
		finalized, err := p.Finalize(ctx, process, domain.ProcessStatusPending, domain.ProcessStatusFailed, domain.Settlement{
			Code:    ack.Code,
			Message: ack.Message,
		}, metrics.SourceSync)
		if err != nil || !finalized {
			return OutcomeSkipped, err
		}
		return OutcomeFinalized, nil
	case !success:
		if parseErr != nil {
			entry = entry.WithError(parseErr)
		}
		entry.Warn("negative acknowledgement, process left PENDING for review")
	default:
		entry.Info("provider acknowledged request")
	}
	return OutcomeAwaitingResult, nil
}

// rejectUnpreparable захватывает строку, запрос по которой собрать нельзя, и сразу
// завершает её FAILED без вызова провайдера. Иначе строка навсегда осталась бы UNKNOWN.
func (p *Processor) rejectUnpreparable(ctx context.Context, process domain.PaymentProcess, cause error, entry *log.Entry) (Outcome, error) {
	claimed, err := p.Claim(ctx, &process, nil)
	if err != nil {
		return OutcomeSkipped, err
	}
	if !claimed {
		return OutcomeSkipped, nil
	}

	entry.WithError(cause).Warn("provider request cannot be prepared, failing process")
	finalized, err := p.Finalize(ctx, process, domain.ProcessStatusPending, domain.ProcessStatusFailed, domain.Settlement{
		Code:    CodeRequestUnpreparable,
		Message: cause.Error(),
	}, metrics.SourceSync)
	if err != nil || !finalized {
		return OutcomeSkipped, err
	}
	return OutcomeFinalized, nil
}

// Finalize выполняет терминальный CAS from → to и в той же транзакции кладёт
// событие результата в outbox. false означает, что переход уже выполнен другим.
func (p *Processor) Finalize(ctx context.Context, process domain.PaymentProcess, from, to domain.ProcessStatus, settlement domain.Settlement, source string) (bool, error) {
	return p.finalize(ctx, process.ID, to, source, func(txCtx context.Context) (bool, error) {
		return p.processes.CasTransition(txCtx, process.ID, from, to, p.stamp(settlement))
	})
}

// Settle проводит двухфазный расчёт PENDING → PROCESSING → terminal для провайдеров
// с возможностью Settler. Каждая фаза — отдельный CAS.
func (p *Processor) Settle(ctx context.Context, process domain.PaymentProcess) (Outcome, error) {
	adapter, err := p.registry.Get(process.Provider)
	if err != nil {
		return OutcomeSkipped, err
	}
	settler, ok := adapter.(provider.Settler)
	if !ok {
		return OutcomeSkipped, fmt.Errorf("%w: %s", ErrSettlementUnsupported, adapter.ID())
	}
	entry := p.logger.WithFields(log.Fields{
		"process_id": process.ID,
		"provider":   process.Provider,
	})
	if process.AckReceivedAt == nil || process.PGTransaction == "" {
		entry.Debug("process not acknowledged yet, settlement postponed")
		return OutcomeAwaitingResult, nil
	}

	moved, err := p.processes.CasTransition(ctx, process.ID, domain.ProcessStatusPending, domain.ProcessStatusProcessing, domain.Settlement{At: p.opts.Now()})
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("move process %d to PROCESSING: %w", process.ID, err)
	}
	if !moved {
		p.opts.Metrics.RecordCASLost("pending_to_processing")
		return OutcomeSkipped, nil
	}

	settlement, approved, err := settler.Settle(ctx, process)
	if err != nil {
		entry.WithError(err).Warn("settlement failed, process left PROCESSING")
		return OutcomeAwaitingResult, nil
	}
	to := domain.ProcessStatusFailed
	if approved {
		to = process.SuccessStatus()
	}
	finalized, err := p.Finalize(ctx, process, domain.ProcessStatusProcessing, to, settlement, metrics.SourceSettle)
	if err != nil || !finalized {
		return OutcomeSkipped, err
	}
	return OutcomeFinalized, nil
}

// ApplyWebhook применяет асинхронный результат провайдера. Повторный webhook
// или webhook после расчёта планировщиком — no-op.
func (p *Processor) ApplyWebhook(ctx context.Context, providerID string, body []byte) (Outcome, error) {
	adapter, err := p.registry.Get(providerID)
	if err != nil {
		return OutcomeSkipped, err
	}
	parser, ok := adapter.(provider.WebhookParser)
	if !ok {
		return OutcomeSkipped, fmt.Errorf("%w: %s", ErrWebhookUnsupported, adapter.ID())
	}
	result, err := parser.ParseWebhook(body)
	if err != nil {
		return OutcomeSkipped, err
	}

	process, err := p.processes.FindByGatewayReference(ctx, result.GatewayReferenceID)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("find process %s: %w", result.GatewayReferenceID, err)
	}
	entry := p.logger.WithFields(log.Fields{
		"process_id":  process.ID,
		"provider":    adapter.ID(),
		"gateway_ref": result.GatewayReferenceID,
		"approved":    result.Approved,
	})
	if process.Status != domain.ProcessStatusPending {
		entry.WithField("status", process.Status).Debug("webhook for process not in PENDING ignored")
		return OutcomeSkipped, nil
	}

	to := domain.ProcessStatusFailed
	if result.Approved {
		to = process.SuccessStatus()
	}
	settlement := p.stamp(result.Settlement)
	finalized, err := p.finalize(ctx, process.ID, to, metrics.SourceWebhook, func(txCtx context.Context) (bool, error) {
		return p.processes.CasUpdateWebhookResponse(txCtx, process.ID, to, settlement)
	})
	if err != nil || !finalized {
		return OutcomeSkipped, err
	}
	return OutcomeFinalized, nil
}

func (p *Processor) finalize(ctx context.Context, id int64, to domain.ProcessStatus, source string, cas func(ctx context.Context) (bool, error)) (bool, error) {
	var final domain.PaymentProcess
	applied := false
	err := p.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		ok, err := cas(txCtx)
		if err != nil {
			return fmt.Errorf("finalize process %d: %w", id, err)
		}
		if !ok {
			return nil
		}
		final, err = p.processes.Get(txCtx, id)
		if err != nil {
			return err
		}
		event, err := resultEvent(final)
		if err != nil {
			return err
		}
		if _, err := p.outbox.Enqueue(txCtx, event); err != nil {
			return fmt.Errorf("enqueue %s: %w", event.EventType, err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if !applied {
		p.opts.Metrics.RecordCASLost("finalize")
		p.logger.WithField("process_id", id).Debug("terminal transition already applied elsewhere")
		return false, nil
	}

	p.opts.Metrics.RecordFinalized(final.Provider, string(to), source)
	p.logger.WithFields(log.Fields{
		"process_id":     id,
		"status":         to,
		"source":         source,
		"pg_transaction": final.PGTransaction,
		"pg_approval_no": final.PGApprovalNo,
	}).Info("payment process finalized")
	return true, nil
}

func (p *Processor) stamp(settlement domain.Settlement) domain.Settlement {
	if settlement.At.IsZero() {
		settlement.At = p.opts.Now()
	}
	return settlement
}

func resultEvent(process domain.PaymentProcess) (domain.OutboxEvent, error) {
	payload := domain.PaymentResultPayload{
		ProcessID:       process.ID,
		OriginProcessID: process.OriginProcessID,
		Kind:            process.Kind,
		Status:          process.Status,
		OrderPublicID:   process.OrderPublicID,
		UserPublicID:    process.UserPublicID,
		Provider:        process.Provider,
		Amount:          process.Amount,
		PGTransaction:   process.PGTransaction,
		PGApprovalNo:    process.PGApprovalNo,
		Code:            process.Code,
		Message:         process.Message,
	}
	return domain.NewOutboxEvent(
		domain.PaymentEventType(process.Status),
		domain.TopicPaymentEvents,
		domain.AggregateTypePaymentProcess,
		strconv.FormatInt(process.ID, 10),
		process.GatewayReferenceID,
		payload,
	)
}
