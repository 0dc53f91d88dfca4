package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

const processedEventsTable = "processed_events"

type processedEventRepository struct {
	store *Store
}

// NewProcessedEventRepository создаёт PostgreSQL-реализацию ProcessedEventRepository.
func NewProcessedEventRepository(store *Store) domain.ProcessedEventRepository {
	return &processedEventRepository{store: store}
}

func (r *processedEventRepository) Exists(ctx context.Context, originEventID string) (bool, error) {
	originEventID = strings.TrimSpace(originEventID)
	if originEventID == "" {
		return false, domain.ErrEventIDRequired
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query, args, err := r.store.Builder.
		Select("1").
		Prefix("SELECT EXISTS (").
		From(processedEventsTable).
		Where(squirrel.Eq{"origin_event_id": originEventID}).
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build processed event exists: %w", err)
	}

	var exists bool
	if err := r.store.executor(ctx).QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("check processed event: %w", err)
	}
	return exists, nil
}

func (r *processedEventRepository) Insert(ctx context.Context, event domain.ProcessedEvent) error {
	event.OriginEventID = strings.TrimSpace(event.OriginEventID)
	if event.OriginEventID == "" {
		return domain.ErrEventIDRequired
	}
	if event.ProcessedAt.IsZero() {
		event.ProcessedAt = time.Now().UTC()
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query, args, err := r.store.Builder.
		Insert(processedEventsTable).
		Columns("origin_event_id", "event_type", "origin_aggregate_id", "origin_aggregate_type",
			"trace_id", "consumed_by", "processed_at").
		Values(event.OriginEventID, event.EventType, event.OriginAggregateID, event.OriginAggregateType,
			nullString(event.TraceID), event.ConsumedBy, event.ProcessedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build processed event insert: %w", err)
	}

	if _, err := r.store.executor(ctx).ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrEventAlreadyProcessed, event.OriginEventID)
		}
		return fmt.Errorf("insert processed event: %w", err)
	}
	return nil
}

var _ domain.ProcessedEventRepository = (*processedEventRepository)(nil)
