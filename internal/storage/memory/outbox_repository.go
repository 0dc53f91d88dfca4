package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

// outboxRepositoryInMemory: in-memory хранилище для transactional outbox.
type outboxRepositoryInMemory struct {
	store *Store
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepositoryInMemory{store: store}
}

// Enqueue сохраняет событие со статусом PENDING. Повтор event_id отклоняется.
func (r *outboxRepositoryInMemory) Enqueue(ctx context.Context, event domain.OutboxEvent) (domain.OutboxEvent, error) {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	event.Status = domain.OutboxStatusPending
	event.RetryCount = 0
	event.PublishedAt = nil
	event.ErrorMessage = ""

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.outbox[event.EventID]; exists {
		return domain.OutboxEvent{}, fmt.Errorf("%w: %s", domain.ErrOutboxDuplicateEvent, event.EventID)
	}

	stored := cloneOutboxEvent(event)
	s.outbox[event.EventID] = &stored
	s.nextSeq++
	s.outboxSeq[event.EventID] = s.nextSeq

	id := event.EventID
	onRollback(ctx, func() {
		delete(s.outbox, id)
		delete(s.outboxSeq, id)
	})
	return cloneOutboxEvent(event), nil
}

// PullPending возвращает до limit событий PENDING в порядке записи.
func (r *outboxRepositoryInMemory) PullPending(_ context.Context, limit int) ([]domain.OutboxEvent, error) {
	return r.listByStatus(domain.OutboxStatusPending, limit), nil
}

func (r *outboxRepositoryInMemory) ListFailed(_ context.Context, limit int) ([]domain.OutboxEvent, error) {
	return r.listByStatus(domain.OutboxStatusFailed, limit), nil
}

func (r *outboxRepositoryInMemory) Get(_ context.Context, eventID string) (domain.OutboxEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	event, ok := r.store.outbox[eventID]
	if !ok {
		return domain.OutboxEvent{}, domain.ErrOutboxEventNotFound
	}
	return cloneOutboxEvent(*event), nil
}

func (r *outboxRepositoryInMemory) MarkPublished(ctx context.Context, eventID string) error {
	return r.update(ctx, eventID, func(event *domain.OutboxEvent) bool {
		now := time.Now().UTC()
		event.Status = domain.OutboxStatusPublished
		event.PublishedAt = &now
		event.ErrorMessage = ""
		return true
	})
}

func (r *outboxRepositoryInMemory) MarkFailedWithRetry(ctx context.Context, eventID, cause string, maxRetries int) (domain.OutboxStatus, error) {
	var status domain.OutboxStatus
	err := r.update(ctx, eventID, func(event *domain.OutboxEvent) bool {
		if event.Status != domain.OutboxStatusPending {
			return false
		}
		event.RetryCount++
		event.ErrorMessage = cause
		if event.RetryCount >= maxRetries {
			event.Status = domain.OutboxStatusFailed
		}
		status = event.Status
		return true
	})
	return status, err
}

func (r *outboxRepositoryInMemory) Requeue(ctx context.Context, eventIDs []string) (int, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := eventIDs
	if len(ids) == 0 {
		for id, event := range s.outbox {
			if event.Status == domain.OutboxStatusFailed {
				ids = append(ids, id)
			}
		}
	}

	requeued := 0
	for _, id := range ids {
		event, ok := s.outbox[id]
		if !ok || event.Status != domain.OutboxStatusFailed {
			continue
		}
		previous := cloneOutboxEvent(*event)
		event.Status = domain.OutboxStatusPending
		event.RetryCount = 0
		requeued++

		eventID := id
		onRollback(ctx, func() {
			restored := previous
			s.outbox[eventID] = &restored
		})
	}
	return requeued, nil
}

func (r *outboxRepositoryInMemory) Stats(_ context.Context) (domain.OutboxStats, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var stats domain.OutboxStats
	for _, event := range r.store.outbox {
		switch event.Status {
		case domain.OutboxStatusPending:
			stats.PendingCount++
			if stats.OldestPendingAt.IsZero() || event.CreatedAt.Before(stats.OldestPendingAt) {
				stats.OldestPendingAt = event.CreatedAt
			}
		case domain.OutboxStatusFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

func (r *outboxRepositoryInMemory) DeletePublishedBefore(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, event := range s.outbox {
		if event.Status != domain.OutboxStatusPublished || event.PublishedAt == nil || !event.PublishedAt.Before(before) {
			continue
		}

		previous, seq := cloneOutboxEvent(*event), s.outboxSeq[id]
		delete(s.outbox, id)
		delete(s.outboxSeq, id)
		removed++

		eventID := id
		onRollback(ctx, func() {
			restored := previous
			s.outbox[eventID] = &restored
			s.outboxSeq[eventID] = seq
		})

		if limit > 0 && removed >= limit {
			break
		}
	}
	return removed, nil
}

func (r *outboxRepositoryInMemory) update(ctx context.Context, eventID string, mutate func(event *domain.OutboxEvent) bool) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.outbox[eventID]
	if !ok {
		return domain.ErrOutboxEventNotFound
	}

	previous := cloneOutboxEvent(*event)
	if !mutate(event) {
		return domain.ErrOutboxEventNotFound
	}

	onRollback(ctx, func() {
		restored := previous
		s.outbox[eventID] = &restored
	})
	return nil
}

func (r *outboxRepositoryInMemory) listByStatus(status domain.OutboxStatus, limit int) []domain.OutboxEvent {
	if limit <= 0 {
		limit = 100
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	ids := make([]string, 0)
	for id, event := range r.store.outbox {
		if event.Status == status {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return r.store.outboxSeq[ids[i]] < r.store.outboxSeq[ids[j]]
	})
	if len(ids) > limit {
		ids = ids[:limit]
	}

	result := make([]domain.OutboxEvent, 0, len(ids))
	for _, id := range ids {
		result = append(result, cloneOutboxEvent(*r.store.outbox[id]))
	}
	return result
}

func cloneOutboxEvent(src domain.OutboxEvent) domain.OutboxEvent {
	dst := src
	dst.Payload = append([]byte(nil), src.Payload...)
	if src.PublishedAt != nil {
		v := *src.PublishedAt
		dst.PublishedAt = &v
	}
	return dst
}

var _ domain.OutboxRepository = (*outboxRepositoryInMemory)(nil)
