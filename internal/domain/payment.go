package domain

import "time"

// PaymentType различает записи одобрения и отмены в ledger-сервисе.
type PaymentType string

const (
	// PaymentTypeApprove: подтверждённое списание.
	PaymentTypeApprove PaymentType = "APPROVE"
	// PaymentTypeCancel: подтверждённая отмена; ссылается на исходный платёж.
	PaymentTypeCancel PaymentType = "CANCEL"
)

// Payment: business truth ledger-сервиса. Запись только вставляется:
// отмена создаёт новую строку с OriginPaymentID, а не меняет существующую.
type Payment struct {
	ID              int64
	Type            PaymentType
	ProcessID       int64
	OrderPublicID   string
	UserPublicID    string
	Provider        string
	Amount          int64
	PGTransaction   string
	PGApprovalNo    string
	OriginPaymentID *int64
	SourceEventID   string
	CreatedAt       time.Time
}
