package domain

import (
	"fmt"
	"strings"
	"time"
)

// ProcessStatus описывает жизненный цикл одной попытки общения с провайдером.
type ProcessStatus string

const (
	// ProcessStatusUnknown: строка только что создана конвертером, провайдер ещё не вызывался.
	ProcessStatusUnknown ProcessStatus = "UNKNOWN"
	// ProcessStatusPending: строка захвачена планировщиком (CAS), запрос к провайдеру отправлен.
	ProcessStatusPending ProcessStatus = "PENDING"
	// ProcessStatusProcessing: промежуточная фаза двухфазного расчёта (mock-провайдер).
	ProcessStatusProcessing ProcessStatus = "PROCESSING"
	// ProcessStatusSuccess: провайдер подтвердил одобрение.
	ProcessStatusSuccess ProcessStatus = "SUCCESS"
	// ProcessStatusFailed: провайдер отклонил операцию.
	ProcessStatusFailed ProcessStatus = "FAILED"
	// ProcessStatusCancelled: провайдер подтвердил отмену (только для строк отмены).
	ProcessStatusCancelled ProcessStatus = "CANCELLED"
)

// Valid проверяет, что статус поддерживается.
func (s ProcessStatus) Valid() bool {
	switch s {
	case ProcessStatusUnknown, ProcessStatusPending, ProcessStatusProcessing,
		ProcessStatusSuccess, ProcessStatusFailed, ProcessStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal сообщает, что из статуса больше нет переходов.
func (s ProcessStatus) IsTerminal() bool {
	switch s {
	case ProcessStatusSuccess, ProcessStatusFailed, ProcessStatusCancelled:
		return true
	default:
		return false
	}
}

var processTransitions = map[ProcessStatus][]ProcessStatus{
	ProcessStatusUnknown:    {ProcessStatusPending},
	ProcessStatusPending:    {ProcessStatusProcessing, ProcessStatusSuccess, ProcessStatusFailed, ProcessStatusCancelled},
	ProcessStatusProcessing: {ProcessStatusSuccess, ProcessStatusFailed, ProcessStatusCancelled},
}

// CanTransition проверяет, допустим ли переход from → to.
func CanTransition(from, to ProcessStatus) bool {
	for _, next := range processTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ProcessKind различает строки одобрения и отмены.
type ProcessKind string

const (
	ProcessKindApprove ProcessKind = "APPROVE"
	ProcessKindCancel  ProcessKind = "CANCEL"
)

// RequestContext: уже провалидированный upstream-запрос на оплату.
// Ядро не перепроверяет бизнес-правила, только обязательность полей.
type RequestContext struct {
	Provider      string `json:"provider"`
	MID           string `json:"mid"`
	Amount        int64  `json:"amount"`
	OrderPublicID string `json:"order_public_id"`
	UserPublicID  string `json:"user_public_id"`
	OrderNumber   string `json:"order_number"`
}

// Validate проверяет наличие полей, без которых строку нельзя создать.
func (r RequestContext) Validate() error {
	switch {
	case strings.TrimSpace(r.Provider) == "":
		return ErrPaymentProviderRequired
	case strings.TrimSpace(r.MID) == "":
		return ErrMIDRequired
	case strings.TrimSpace(r.OrderPublicID) == "":
		return ErrOrderIDRequired
	case r.Amount <= 0:
		return ErrPaymentAmountInvalid
	}
	return nil
}

// PaymentProcess: communication truth: что было сказано провайдеру и что он ответил.
type PaymentProcess struct {
	ID            int64
	Kind          ProcessKind
	OrderPublicID string
	UserPublicID  string
	OrderNumber   string
	Provider      string
	MID           string
	// Amount знаковый: у строк отмены сумма отрицательная.
	Amount             int64
	Status             ProcessStatus
	GatewayReferenceID string
	// ActiveRequestKey заполнен, пока строка не в терминальном статусе.
	ActiveRequestKey    string
	RequestPayload      []byte
	ResponsePayload     []byte
	PGTransaction       string
	PGApprovalNo        string
	Code                string
	Message             string
	RequestAttemptCount int
	RequestedAt         *time.Time
	AckReceivedAt       *time.Time
	LastPGResponseCode  int
	OriginProcessID     *int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsCancellation сообщает, что строка описывает отмену ранее одобренного платежа.
func (p *PaymentProcess) IsCancellation() bool {
	return p.Kind == ProcessKindCancel
}

// SuccessStatus возвращает терминальный статус успешного завершения для вида строки.
func (p *PaymentProcess) SuccessStatus() ProcessStatus {
	if p.IsCancellation() {
		return ProcessStatusCancelled
	}
	return ProcessStatusSuccess
}

// GatewayReferenceID детерминированно выводит ссылку шлюза из провайдера и mid.
func GatewayReferenceID(provider, mid string) string {
	return fmt.Sprintf("%s-%s", strings.ToUpper(provider), mid)
}

// ActiveRequestKey собирает ключ уникальности запроса, находящегося в полёте.
func ActiveRequestKey(provider, mid string, kind ProcessKind) string {
	return fmt.Sprintf("%s:%s:%s", strings.ToUpper(provider), mid, kind)
}

// Ack: разобранный ответ провайдера на запрос.
type Ack struct {
	Code          string
	Message       string
	PGTransaction string
	// ApprovalNo заполняется провайдерами, которые отвечают финальным результатом синхронно.
	ApprovalNo   string
	Acknowledged bool
	HTTPStatus   int
}

// Settlement описывает поля, которые фиксируются вместе с терминальным переходом.
type Settlement struct {
	PGTransaction   string
	PGApprovalNo    string
	Code            string
	Message         string
	ResponsePayload []byte
	At              time.Time
}
