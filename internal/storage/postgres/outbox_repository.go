package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

const outboxTable = "outbox_events"

var outboxColumns = []string{
	"event_id", "event_type", "aggregate_id", "aggregate_type", "topic", "payload",
	"trace_id", "status", "retry_count", "error_message", "created_at", "published_at",
}

// outboxRepository работает только со строками своего сервиса-источника:
// оба сервиса могут делить одну схему, но публикуют каждый свой outbox.
type outboxRepository struct {
	store  *Store
	source string
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository для сервиса source.
func NewOutboxRepository(store *Store, source string) domain.OutboxRepository {
	return &outboxRepository{store: store, source: source}
}

func (r *outboxRepository) Enqueue(ctx context.Context, event domain.OutboxEvent) (domain.OutboxEvent, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	event.Status = domain.OutboxStatusPending
	event.RetryCount = 0

	query, args, err := r.store.Builder.
		Insert(outboxTable).
		Columns("event_id", "source", "event_type", "aggregate_id", "aggregate_type", "topic",
			"payload", "trace_id", "status", "retry_count", "created_at").
		Values(event.EventID, r.source, event.EventType, event.AggregateID, event.AggregateType, event.Topic,
			event.Payload, nullString(event.TraceID), string(event.Status), 0, event.CreatedAt).
		ToSql()
	if err != nil {
		return domain.OutboxEvent{}, fmt.Errorf("build outbox insert: %w", err)
	}

	if _, err := r.store.executor(ctx).ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return domain.OutboxEvent{}, fmt.Errorf("%w: %s", domain.ErrOutboxDuplicateEvent, event.EventID)
		}
		return domain.OutboxEvent{}, fmt.Errorf("enqueue outbox event: %w", err)
	}

	return event, nil
}

func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, domain.OutboxStatusPending, limit)
}

func (r *outboxRepository) ListFailed(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, domain.OutboxStatusFailed, limit)
}

func (r *outboxRepository) Get(ctx context.Context, eventID string) (domain.OutboxEvent, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query, args, err := r.store.Builder.
		Select(outboxColumns...).
		From(outboxTable).
		Where(squirrel.Eq{"event_id": eventID, "source": r.source}).
		ToSql()
	if err != nil {
		return domain.OutboxEvent{}, fmt.Errorf("build outbox get: %w", err)
	}

	event, err := scanOutboxEvent(r.store.executor(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.OutboxEvent{}, domain.ErrOutboxEventNotFound
	}
	return event, err
}

func (r *outboxRepository) MarkPublished(ctx context.Context, eventID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query, args, err := r.store.Builder.
		Update(outboxTable).
		Set("status", string(domain.OutboxStatusPublished)).
		Set("published_at", time.Now().UTC()).
		Set("error_message", nil).
		Where(squirrel.Eq{"event_id": eventID, "source": r.source}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build outbox mark published: %w", err)
	}

	res, err := r.store.executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark outbox event published: %w", err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrOutboxEventNotFound
	}
	return nil
}

// MarkFailedWithRetry увеличивает счётчик попыток и переводит строку в FAILED,
// когда счётчик достиг maxRetries. Возвращает итоговый статус строки.
func (r *outboxRepository) MarkFailedWithRetry(ctx context.Context, eventID, cause string, maxRetries int) (domain.OutboxStatus, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query, args, err := r.store.Builder.
		Update(outboxTable).
		Set("retry_count", squirrel.Expr("retry_count + 1")).
		Set("error_message", cause).
		Set("status", squirrel.Expr("CASE WHEN retry_count + 1 >= ? THEN ? ELSE status END",
			maxRetries, string(domain.OutboxStatusFailed))).
		Where(squirrel.Eq{"event_id": eventID, "source": r.source, "status": string(domain.OutboxStatusPending)}).
		Suffix("RETURNING status").
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build outbox mark failed: %w", err)
	}

	var status string
	err = r.store.executor(ctx).QueryRowContext(ctx, query, args...).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrOutboxEventNotFound
	}
	if err != nil {
		return "", fmt.Errorf("mark outbox event failed: %w", err)
	}
	return domain.OutboxStatus(status), nil
}

func (r *outboxRepository) Requeue(ctx context.Context, eventIDs []string) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	where := squirrel.Eq{"source": r.source, "status": string(domain.OutboxStatusFailed)}
	if len(eventIDs) > 0 {
		where["event_id"] = eventIDs
	}

	query, args, err := r.store.Builder.
		Update(outboxTable).
		Set("status", string(domain.OutboxStatusPending)).
		Set("retry_count", 0).
		Where(where).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build outbox requeue: %w", err)
	}

	res, err := r.store.executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("requeue outbox events: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected for outbox requeue: %w", err)
	}
	return int(affected), nil
}

func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)

	query, args, err := r.store.Builder.
		Select(
			"COUNT(*) FILTER (WHERE status = 'PENDING')",
			"COUNT(*) FILTER (WHERE status = 'FAILED')",
			"MIN(created_at) FILTER (WHERE status = 'PENDING')",
		).
		From(outboxTable).
		Where(squirrel.Eq{"source": r.source}).
		ToSql()
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("build outbox stats: %w", err)
	}

	if err := r.store.executor(ctx).QueryRowContext(ctx, query, args...).
		Scan(&stats.PendingCount, &stats.FailedCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats query failed: %w", err)
	}

	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) DeletePublishedBefore(ctx context.Context, before time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	// подзапрос собирается с плейсхолдерами "?", внешний построитель нумерует их сам
	sub, subArgs, err := squirrel.
		Select("event_id").
		From(outboxTable).
		Where(squirrel.Eq{"source": r.source, "status": string(domain.OutboxStatusPublished)}).
		Where(squirrel.Lt{"published_at": before.UTC()}).
		OrderBy("published_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build outbox cleanup subquery: %w", err)
	}

	query, args, err := r.store.Builder.
		Delete(outboxTable).
		Where(squirrel.Expr("event_id IN ("+sub+")", subArgs...)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build outbox cleanup: %w", err)
	}

	res, err := r.store.executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete published outbox events: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected for outbox cleanup: %w", err)
	}
	return int(affected), nil
}

func (r *outboxRepository) list(ctx context.Context, status domain.OutboxStatus, limit int) ([]domain.OutboxEvent, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query, args, err := r.store.Builder.
		Select(outboxColumns...).
		From(outboxTable).
		Where(squirrel.Eq{"source": r.source, "status": string(status)}).
		OrderBy("created_at ASC", "event_id ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build outbox list: %w", err)
	}

	rows, err := r.store.executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list outbox events: %w", err)
	}
	defer rows.Close()

	result := make([]domain.OutboxEvent, 0, limit)
	for rows.Next() {
		event, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return result, nil
}

func scanOutboxEvent(row rowScanner) (domain.OutboxEvent, error) {
	var (
		event          domain.OutboxEvent
		status         string
		traceID, cause sql.NullString
		publishedAt    sql.NullTime
	)
	if err := row.Scan(
		&event.EventID, &event.EventType, &event.AggregateID, &event.AggregateType, &event.Topic, &event.Payload,
		&traceID, &status, &event.RetryCount, &cause, &event.CreatedAt, &publishedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OutboxEvent{}, err
		}
		return domain.OutboxEvent{}, fmt.Errorf("scan outbox event: %w", err)
	}
	event.Status = domain.OutboxStatus(status)
	event.TraceID = traceID.String
	event.ErrorMessage = cause.String
	event.CreatedAt = event.CreatedAt.UTC()
	event.PublishedAt = timePtr(publishedAt)
	return event, nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
