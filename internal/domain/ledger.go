package domain

import (
	"fmt"
	"time"
)

// AggregateKind определяет тип агрегата, значение которого выводится из ledger.
type AggregateKind string

const (
	// AggregateKindStock: складской остаток товара; не может быть отрицательным.
	AggregateKindStock AggregateKind = "stock"
	// AggregateKindBalance: баланс счёта пользователя; знак не ограничен.
	AggregateKindBalance AggregateKind = "balance"
)

// Valid проверяет, что тип агрегата поддерживается.
func (k AggregateKind) Valid() bool {
	switch k {
	case AggregateKindStock, AggregateKindBalance:
		return true
	default:
		return false
	}
}

// NonNegative сообщает, должно ли значение агрегата быть неотрицательным.
func (k AggregateKind) NonNegative() bool {
	return k == AggregateKindStock
}

// LedgerRecord: неизменяемая дельта агрегата. Записи никогда не обновляются и не удаляются,
// исправления делаются новой компенсирующей дельтой.
type LedgerRecord struct {
	ID          int64
	Kind        AggregateKind
	AggregateID string
	// Delta: знаковое изменение в минимальных единицах (штуки или копейки).
	Delta     int64
	Reason    string
	CreatedAt time.Time
}

// Aggregate хранит денормализованный кеш суммы дельт (Product для stock, Account для balance).
type Aggregate struct {
	Kind           AggregateKind
	ID             string
	CurrentValue   int64
	LastRecordedAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Key возвращает составной ключ агрегата для логов и in-memory индексов.
func (a Aggregate) Key() string {
	return AggregateKey(a.Kind, a.ID)
}

// AggregateKey собирает ключ вида "kind/id".
func AggregateKey(kind AggregateKind, id string) string {
	return fmt.Sprintf("%s/%s", kind, id)
}

// ValidateRecalculated проверяет инвариант неотрицательности для пересчитанной суммы.
// Ошибка относится к integrity faults и не должна исправляться автоматически.
func ValidateRecalculated(kind AggregateKind, id string, sum int64) error {
	if kind.NonNegative() && sum < 0 {
		return fmt.Errorf("%w: %s value=%d", ErrNegativeStock, AggregateKey(kind, id), sum)
	}
	return nil
}
