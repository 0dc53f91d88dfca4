// Package memory содержит in-memory реализации репозиториев для локального
// запуска и тестов. Транзакции сериализуются, откат выполняется журналом отмены.
package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

// Store: общее состояние всех in-memory репозиториев одного сервиса.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	ledger       []domain.LedgerRecord
	nextLedgerID int64
	aggregates   map[string]*domain.Aggregate

	processes  map[int64]*domain.PaymentProcess
	activeKeys map[string]int64

	payments map[int64]*domain.Payment

	outbox    map[string]*domain.OutboxEvent
	outboxSeq map[string]int64
	nextSeq   int64

	processed map[string]domain.ProcessedEvent
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		aggregates: make(map[string]*domain.Aggregate),
		processes:  make(map[int64]*domain.PaymentProcess),
		activeKeys: make(map[string]int64),
		payments:   make(map[int64]*domain.Payment),
		outbox:     make(map[string]*domain.OutboxEvent),
		outboxSeq:  make(map[string]int64),
		processed:  make(map[string]domain.ProcessedEvent),
	}
}

type txKey struct{}

// txJournal копит функции отмены изменений, сделанных внутри транзакции.
type txJournal struct {
	undo []func()
}

// WithinTransaction сериализует транзакции и откатывает все изменения, если fn вернула ошибку.
// Вложенный вызов переиспользует уже открытую транзакцию.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*txJournal); ok {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	journal := &txJournal{}
	if err := fn(context.WithValue(ctx, txKey{}, journal)); err != nil {
		s.mu.Lock()
		for i := len(journal.undo) - 1; i >= 0; i-- {
			journal.undo[i]()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// onRollback регистрирует отмену изменения. Вызывается под s.mu.
func onRollback(ctx context.Context, undo func()) {
	if journal, ok := ctx.Value(txKey{}).(*txJournal); ok {
		journal.undo = append(journal.undo, undo)
	}
}

func inTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*txJournal)
	return ok
}

var _ domain.TxManager = (*Store)(nil)
