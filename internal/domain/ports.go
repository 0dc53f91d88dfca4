package domain

import (
	"context"
	"time"
)

// TxManager выполняет функцию в одной транзакции хранилища.
// Репозитории, вызванные с ctx из fn, работают внутри этой транзакции.
type TxManager interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// LedgerRepository: append-only хранилище дельт.
type LedgerRepository interface {
	Append(ctx context.Context, kind AggregateKind, aggregateID string, delta int64, reason string) (LedgerRecord, error)
	Sum(ctx context.Context, kind AggregateKind, aggregateID string) (int64, time.Time, error)
	List(ctx context.Context, kind AggregateKind, aggregateID string, limit int) ([]LedgerRecord, error)
	// ListByReason возвращает дельты вида kind с одним из оснований reasons.
	ListByReason(ctx context.Context, kind AggregateKind, reasons []string) ([]LedgerRecord, error)
}

// AggregateRepository хранит кеш текущего значения агрегата.
type AggregateRepository interface {
	Create(ctx context.Context, aggregate Aggregate) error
	Get(ctx context.Context, kind AggregateKind, id string) (Aggregate, error)
	// LockForUpdate берёт эксклюзивную блокировку строки до конца транзакции.
	LockForUpdate(ctx context.Context, kind AggregateKind, id string) (*Aggregate, error)
	// StoreCache записывает пересчитанный кеш; событий не порождает.
	StoreCache(ctx context.Context, aggregate *Aggregate) error
}

// PaymentProcessRepository хранит строки PaymentProcess. Все переходы статусов — CAS:
// false без ошибки означает, что строку уже перевёл кто-то другой.
type PaymentProcessRepository interface {
	Create(ctx context.Context, process *PaymentProcess) error
	Get(ctx context.Context, id int64) (PaymentProcess, error)
	FindByGatewayReference(ctx context.Context, ref string) (PaymentProcess, error)
	FindByPGTransaction(ctx context.Context, provider, pgTransaction string) (PaymentProcess, error)
	FindApprovedByOrder(ctx context.Context, orderPublicID string) (PaymentProcess, error)
	ListByStatus(ctx context.Context, status ProcessStatus, providers []string, limit int) ([]PaymentProcess, error)
	// ListSettleable выбирает строки PENDING, по которым уже получено подтверждение
	// с транзакцией провайдера, самые старые первыми.
	ListSettleable(ctx context.Context, providers []string, limit int) ([]PaymentProcess, error)

	CasClaim(ctx context.Context, id int64, requestPayload []byte, now time.Time) (bool, error)
	CasRecordAck(ctx context.Context, id int64, ack Ack, responsePayload []byte, now time.Time) (bool, error)
	CasTransition(ctx context.Context, id int64, from, to ProcessStatus, settlement Settlement) (bool, error)
	CasUpdateWebhookResponse(ctx context.Context, id int64, to ProcessStatus, settlement Settlement) (bool, error)
}

// PaymentRepository: insert-only хранилище подтверждённых платежей.
type PaymentRepository interface {
	Insert(ctx context.Context, payment *Payment) error
	GetByProcess(ctx context.Context, processID int64) (Payment, error)
	ListByOrder(ctx context.Context, orderPublicID string) ([]Payment, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, event OutboxEvent) (OutboxEvent, error)
	PullPending(ctx context.Context, limit int) ([]OutboxEvent, error)
	Get(ctx context.Context, eventID string) (OutboxEvent, error)
	MarkPublished(ctx context.Context, eventID string) error
	MarkFailedWithRetry(ctx context.Context, eventID, cause string, maxRetries int) (OutboxStatus, error)
	Requeue(ctx context.Context, eventIDs []string) (int, error)
	ListFailed(ctx context.Context, limit int) ([]OutboxEvent, error)
	Stats(ctx context.Context) (OutboxStats, error)
	DeletePublishedBefore(ctx context.Context, before time.Time, limit int) (int, error)
}

// ProcessedEventRepository: таблица processed-event guard.
type ProcessedEventRepository interface {
	Exists(ctx context.Context, originEventID string) (bool, error)
	// Insert возвращает ErrEventAlreadyProcessed при нарушении уникальности.
	Insert(ctx context.Context, event ProcessedEvent) error
}

// EventPublisher передаёт outbox-событие на шину; должен быть идемпотентным по EventID.
type EventPublisher interface {
	Publish(ctx context.Context, event OutboxEvent) error
}

// EventHandler обрабатывает одно событие, полученное с шины.
type EventHandler func(ctx context.Context, env Envelope) error

// IDGenerator выдаёт уникальные идентификаторы строк.
type IDGenerator interface {
	NextID() int64
}
