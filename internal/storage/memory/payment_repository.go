package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

type paymentRepositoryInMemory struct {
	store *Store
}

// NewPaymentRepository создаёт in-memory реализацию PaymentRepository.
func NewPaymentRepository(store *Store) domain.PaymentRepository {
	return &paymentRepositoryInMemory{store: store}
}

func (r *paymentRepositoryInMemory) Insert(ctx context.Context, payment *domain.Payment) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payments[payment.ProcessID]; exists {
		return fmt.Errorf("%w: process %d", domain.ErrPaymentAlreadyRecorded, payment.ProcessID)
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}

	stored := *payment
	s.payments[payment.ProcessID] = &stored

	processID := payment.ProcessID
	onRollback(ctx, func() { delete(s.payments, processID) })
	return nil
}

func (r *paymentRepositoryInMemory) GetByProcess(_ context.Context, processID int64) (domain.Payment, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	p, ok := r.store.payments[processID]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return *p, nil
}

func (r *paymentRepositoryInMemory) ListByOrder(_ context.Context, orderPublicID string) ([]domain.Payment, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var result []domain.Payment
	for _, p := range r.store.payments {
		if p.OrderPublicID == orderPublicID {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

var _ domain.PaymentRepository = (*paymentRepositoryInMemory)(nil)
