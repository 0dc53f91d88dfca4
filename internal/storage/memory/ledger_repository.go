package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

type ledgerRepositoryInMemory struct {
	store *Store
}

// NewLedgerRepository создаёт in-memory реализацию LedgerRepository.
func NewLedgerRepository(store *Store) domain.LedgerRepository {
	return &ledgerRepositoryInMemory{store: store}
}

func (r *ledgerRepositoryInMemory) Append(ctx context.Context, kind domain.AggregateKind, aggregateID string, delta int64, reason string) (domain.LedgerRecord, error) {
	aggregateID, err := normalizeLedgerInput(kind, aggregateID)
	if err != nil {
		return domain.LedgerRecord{}, err
	}
	if delta == 0 {
		return domain.LedgerRecord{}, domain.ErrLedgerDeltaZero
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextLedgerID++
	record := domain.LedgerRecord{
		ID:          s.nextLedgerID,
		Kind:        kind,
		AggregateID: aggregateID,
		Delta:       delta,
		Reason:      reason,
		CreatedAt:   time.Now().UTC(),
	}
	s.ledger = append(s.ledger, record)

	onRollback(ctx, func() {
		for i := len(s.ledger) - 1; i >= 0; i-- {
			if s.ledger[i].ID == record.ID {
				s.ledger = append(s.ledger[:i], s.ledger[i+1:]...)
				return
			}
		}
	})

	return record, nil
}

func (r *ledgerRepositoryInMemory) Sum(_ context.Context, kind domain.AggregateKind, aggregateID string) (int64, time.Time, error) {
	aggregateID, err := normalizeLedgerInput(kind, aggregateID)
	if err != nil {
		return 0, time.Time{}, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var (
		sum  int64
		last time.Time
	)
	for _, rec := range r.store.ledger {
		if rec.Kind != kind || rec.AggregateID != aggregateID {
			continue
		}
		sum += rec.Delta
		if rec.CreatedAt.After(last) {
			last = rec.CreatedAt
		}
	}
	return sum, last, nil
}

func (r *ledgerRepositoryInMemory) List(_ context.Context, kind domain.AggregateKind, aggregateID string, limit int) ([]domain.LedgerRecord, error) {
	aggregateID, err := normalizeLedgerInput(kind, aggregateID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make([]domain.LedgerRecord, 0, limit)
	for _, rec := range r.store.ledger {
		if rec.Kind != kind || rec.AggregateID != aggregateID {
			continue
		}
		result = append(result, rec)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (r *ledgerRepositoryInMemory) ListByReason(_ context.Context, kind domain.AggregateKind, reasons []string) ([]domain.LedgerRecord, error) {
	if !kind.Valid() {
		return nil, domain.ErrAggregateKindInvalid
	}
	if len(reasons) == 0 {
		return nil, nil
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var result []domain.LedgerRecord
	for _, rec := range r.store.ledger {
		if rec.Kind == kind && slices.Contains(reasons, rec.Reason) {
			result = append(result, rec)
		}
	}
	return result, nil
}

type aggregateRepositoryInMemory struct {
	store *Store
}

// NewAggregateRepository создаёт in-memory реализацию AggregateRepository.
func NewAggregateRepository(store *Store) domain.AggregateRepository {
	return &aggregateRepositoryInMemory{store: store}
}

func (r *aggregateRepositoryInMemory) Create(ctx context.Context, aggregate domain.Aggregate) error {
	id, err := normalizeLedgerInput(aggregate.Kind, aggregate.ID)
	if err != nil {
		return err
	}
	aggregate.ID = id

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	key := aggregate.Key()
	if _, exists := s.aggregates[key]; exists {
		return domain.ErrAggregateAlreadyExists
	}

	now := time.Now().UTC()
	if aggregate.CreatedAt.IsZero() {
		aggregate.CreatedAt = now
	}
	if aggregate.UpdatedAt.IsZero() {
		aggregate.UpdatedAt = now
	}
	stored := aggregate
	s.aggregates[key] = &stored

	onRollback(ctx, func() { delete(s.aggregates, key) })
	return nil
}

func (r *aggregateRepositoryInMemory) Get(_ context.Context, kind domain.AggregateKind, id string) (domain.Aggregate, error) {
	id, err := normalizeLedgerInput(kind, id)
	if err != nil {
		return domain.Aggregate{}, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	stored, ok := r.store.aggregates[domain.AggregateKey(kind, id)]
	if !ok {
		return domain.Aggregate{}, fmt.Errorf("%w: %s", domain.ErrAggregateNotFound, domain.AggregateKey(kind, id))
	}
	return *stored, nil
}

// LockForUpdate возвращает копию строки. Эксклюзивность обеспечивает сериализация транзакций Store.
func (r *aggregateRepositoryInMemory) LockForUpdate(ctx context.Context, kind domain.AggregateKind, id string) (*domain.Aggregate, error) {
	if !inTransaction(ctx) {
		return nil, domain.ErrNoTransaction
	}
	aggregate, err := r.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	return &aggregate, nil
}

func (r *aggregateRepositoryInMemory) StoreCache(ctx context.Context, aggregate *domain.Aggregate) error {
	if aggregate == nil {
		return domain.ErrAggregateIDRequired
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	key := aggregate.Key()
	stored, ok := s.aggregates[key]
	if !ok {
		return domain.ErrAggregateNotFound
	}

	previous := *stored
	aggregate.UpdatedAt = time.Now().UTC()
	updated := *aggregate
	s.aggregates[key] = &updated

	onRollback(ctx, func() { s.aggregates[key] = &previous })
	return nil
}

// normalizeLedgerInput проверяет вид агрегата и возвращает id без окружающих
// пробелов: под этим ключом агрегат и пишется, и читается.
func normalizeLedgerInput(kind domain.AggregateKind, aggregateID string) (string, error) {
	if !kind.Valid() {
		return "", domain.ErrAggregateKindInvalid
	}
	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return "", domain.ErrAggregateIDRequired
	}
	return aggregateID, nil
}

var (
	_ domain.LedgerRepository    = (*ledgerRepositoryInMemory)(nil)
	_ domain.AggregateRepository = (*aggregateRepositoryInMemory)(nil)
)
