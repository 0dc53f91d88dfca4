package domain

import "errors"

var (
	// Ошибка отсутствующего кода платёжного провайдера.
	ErrPaymentProviderRequired = errors.New("payment provider is required")
	// Ошибка отсутствующего mid.
	ErrMIDRequired = errors.New("mid is required")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_public_id is required")
	// Ошибка неположительной суммы запроса.
	ErrPaymentAmountInvalid = errors.New("payment amount must be greater than zero")
	// Ошибка пустого заказа.
	ErrOrderLinesRequired = errors.New("order must contain at least one line")
	// Ошибка некорректного количества в строке заказа.
	ErrOrderLineQtyInvalid = errors.New("order line qty must be greater than zero")

	// ErrUnknownProvider — провайдер не зарегистрирован в реестре.
	ErrUnknownProvider = errors.New("unknown payment provider")
	// ErrProcessNotFound — строка PaymentProcess не найдена.
	ErrProcessNotFound = errors.New("payment process not found")
	// ErrProcessAlreadyActive — по тому же mid уже есть запрос в полёте.
	ErrProcessAlreadyActive = errors.New("payment process already active for mid")
	// ErrCancelOriginNotApproved — отменять можно только строку в статусе SUCCESS.
	ErrCancelOriginNotApproved = errors.New("cancel origin is not approved")
	// ErrInvalidTransition — переход не предусмотрен state machine.
	ErrInvalidTransition = errors.New("invalid payment process transition")

	// ErrLedgerDeltaZero — нулевая дельта не несёт информации и не записывается.
	ErrLedgerDeltaZero = errors.New("ledger delta must be non-zero")
	// ErrAggregateIDRequired — не указан идентификатор агрегата.
	ErrAggregateIDRequired = errors.New("aggregate id is required")
	// ErrAggregateKindInvalid — неизвестный тип агрегата.
	ErrAggregateKindInvalid = errors.New("aggregate kind is invalid")
	// ErrAggregateNotFound — агрегат отсутствует (integrity fault внутри бизнес-операции).
	ErrAggregateNotFound = errors.New("aggregate not found")
	// ErrAggregateAlreadyExists — агрегат с таким ключом уже создан.
	ErrAggregateAlreadyExists = errors.New("aggregate already exists")
	// ErrNegativeStock — пересчёт дал отрицательный остаток (integrity fault).
	ErrNegativeStock = errors.New("reaggregated stock is negative")
	// ErrNoTransaction — операция требует открытой транзакции.
	ErrNoTransaction = errors.New("operation requires an open transaction")

	// ErrPaymentAlreadyRecorded — Payment для этой строки шлюза уже создан.
	ErrPaymentAlreadyRecorded = errors.New("payment already recorded")
	// ErrPaymentNotFound — Payment не найден.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrOutboxDuplicateEvent — event_id уже есть в outbox.
	ErrOutboxDuplicateEvent = errors.New("outbox event id already exists")
	// ErrOutboxEventNotFound — запись outbox не найдена.
	ErrOutboxEventNotFound = errors.New("outbox event not found")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrEventAlreadyProcessed — событие уже применено этим потребителем.
	ErrEventAlreadyProcessed = errors.New("event already processed")
	// ErrEventIDRequired — у входящего события нет event_id.
	ErrEventIDRequired = errors.New("event id is required")
)

// IsIntegrityFault проверяет, является ли ошибка нарушением целостности данных.
// Такие ошибки прерывают транзакцию и не ретраятся.
func IsIntegrityFault(err error) bool {
	return errors.Is(err, ErrNegativeStock) || errors.Is(err, ErrAggregateNotFound)
}

// IsDuplicate проверяет, что ошибка означает повторную доставку или повторную вставку.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrEventAlreadyProcessed) ||
		errors.Is(err, ErrOutboxDuplicateEvent) ||
		errors.Is(err, ErrPaymentAlreadyRecorded)
}

// IsNotFound проверяет, что искомая строка отсутствует.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProcessNotFound) ||
		errors.Is(err, ErrAggregateNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrOutboxEventNotFound)
}
