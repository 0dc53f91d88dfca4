package domain

// Типы событий между сервисами.
const (
	EventTypeOrderPlaced          = "order.placed"
	EventTypeOrderCancelRequested = "order.cancel_requested"

	EventTypePaymentApproved  = "payment.approved"
	EventTypePaymentCancelled = "payment.cancelled"
	EventTypePaymentFailed    = "payment.failed"
)

// Топики шины.
const (
	TopicOrderEvents   = "paycore.order.events"
	TopicPaymentEvents = "paycore.payment.events"
	TopicDeadLetter    = "paycore.dlq"
)

// Типы агрегатов в outbox.
const (
	AggregateTypeOrder          = "order"
	AggregateTypePaymentProcess = "payment_process"
)

// OrderPlacedPayload несёт провалидированный контекст запроса на оплату.
type OrderPlacedPayload struct {
	Request RequestContext `json:"request"`
}

// OrderCancelRequestedPayload просит шлюз отменить одобренный платёж по заказу.
type OrderCancelRequestedPayload struct {
	OrderPublicID string `json:"order_public_id"`
	Reason        string `json:"reason,omitempty"`
}

// PaymentResultPayload публикуется шлюзом при достижении терминального статуса.
type PaymentResultPayload struct {
	ProcessID       int64         `json:"process_id"`
	OriginProcessID *int64        `json:"origin_process_id,omitempty"`
	Kind            ProcessKind   `json:"kind"`
	Status          ProcessStatus `json:"status"`
	OrderPublicID   string        `json:"order_public_id"`
	UserPublicID    string        `json:"user_public_id"`
	Provider        string        `json:"provider"`
	Amount          int64         `json:"amount"`
	PGTransaction   string        `json:"pg_transaction,omitempty"`
	PGApprovalNo    string        `json:"pg_approval_no,omitempty"`
	Code            string        `json:"code,omitempty"`
	Message         string        `json:"message,omitempty"`
}

// PaymentEventType сопоставляет терминальный статус строки с типом события.
func PaymentEventType(status ProcessStatus) string {
	switch status {
	case ProcessStatusSuccess:
		return EventTypePaymentApproved
	case ProcessStatusCancelled:
		return EventTypePaymentCancelled
	default:
		return EventTypePaymentFailed
	}
}
