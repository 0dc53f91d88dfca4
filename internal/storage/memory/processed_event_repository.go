package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

type processedEventRepositoryInMemory struct {
	store *Store
}

// NewProcessedEventRepository создаёт in-memory реализацию ProcessedEventRepository.
func NewProcessedEventRepository(store *Store) domain.ProcessedEventRepository {
	return &processedEventRepositoryInMemory{store: store}
}

func (r *processedEventRepositoryInMemory) Exists(_ context.Context, originEventID string) (bool, error) {
	originEventID = strings.TrimSpace(originEventID)
	if originEventID == "" {
		return false, domain.ErrEventIDRequired
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	_, ok := r.store.processed[originEventID]
	return ok, nil
}

func (r *processedEventRepositoryInMemory) Insert(ctx context.Context, event domain.ProcessedEvent) error {
	event.OriginEventID = strings.TrimSpace(event.OriginEventID)
	if event.OriginEventID == "" {
		return domain.ErrEventIDRequired
	}
	if event.ProcessedAt.IsZero() {
		event.ProcessedAt = time.Now().UTC()
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.processed[event.OriginEventID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrEventAlreadyProcessed, event.OriginEventID)
	}
	s.processed[event.OriginEventID] = event

	id := event.OriginEventID
	onRollback(ctx, func() { delete(s.processed, id) })
	return nil
}

var _ domain.ProcessedEventRepository = (*processedEventRepositoryInMemory)(nil)
