package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

const (
	ledgerTable     = "ledger_records"
	aggregatesTable = "aggregates"
)

type ledgerRepository struct {
	store *Store
}

// NewLedgerRepository создаёт PostgreSQL-реализацию LedgerRepository.
func NewLedgerRepository(store *Store) domain.LedgerRepository {
	return &ledgerRepository{store: store}
}

func (r *ledgerRepository) Append(ctx context.Context, kind domain.AggregateKind, aggregateID string, delta int64, reason string) (domain.LedgerRecord, error) {
	aggregateID, err := normalizeLedgerInput(kind, aggregateID)
	if err != nil {
		return domain.LedgerRecord{}, err
	}
	if delta == 0 {
		return domain.LedgerRecord{}, domain.ErrLedgerDeltaZero
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	record := domain.LedgerRecord{
		Kind:        kind,
		AggregateID: aggregateID,
		Delta:       delta,
		Reason:      reason,
		CreatedAt:   time.Now().UTC(),
	}

	query, args, err := r.store.Builder.
		Insert(ledgerTable).
		Columns("kind", "aggregate_id", "delta", "reason", "created_at").
		Values(string(kind), aggregateID, delta, reason, record.CreatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return domain.LedgerRecord{}, fmt.Errorf("build ledger insert: %w", err)
	}

	if err := r.store.executor(ctx).QueryRowContext(ctx, query, args...).Scan(&record.ID); err != nil {
		return domain.LedgerRecord{}, fmt.Errorf("insert ledger record: %w", err)
	}

	return record, nil
}

func (r *ledgerRepository) Sum(ctx context.Context, kind domain.AggregateKind, aggregateID string) (int64, time.Time, error) {
	aggregateID, err := normalizeLedgerInput(kind, aggregateID)
	if err != nil {
		return 0, time.Time{}, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query, args, err := r.store.Builder.
		Select("COALESCE(SUM(delta), 0)", "MAX(created_at)").
		From(ledgerTable).
		Where(squirrel.Eq{"kind": string(kind), "aggregate_id": aggregateID}).
		ToSql()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("build ledger sum: %w", err)
	}

	var (
		sum  int64
		last sql.NullTime
	)
	if err := r.store.executor(ctx).QueryRowContext(ctx, query, args...).Scan(&sum, &last); err != nil {
		return 0, time.Time{}, fmt.Errorf("sum ledger records: %w", err)
	}

	var lastAt time.Time
	if last.Valid {
		lastAt = last.Time.UTC()
	}
	return sum, lastAt, nil
}

func (r *ledgerRepository) List(ctx context.Context, kind domain.AggregateKind, aggregateID string, limit int) ([]domain.LedgerRecord, error) {
	aggregateID, err := normalizeLedgerInput(kind, aggregateID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query, args, err := r.store.Builder.
		Select("id", "kind", "aggregate_id", "delta", "reason", "created_at").
		From(ledgerTable).
		Where(squirrel.Eq{"kind": string(kind), "aggregate_id": aggregateID}).
		OrderBy("created_at ASC", "id ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ledger list: %w", err)
	}

	rows, err := r.store.executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger records: %w", err)
	}
	defer rows.Close()

	return scanLedgerRecords(rows, limit)
}

func scanLedgerRecords(rows *sql.Rows, capacity int) ([]domain.LedgerRecord, error) {
	result := make([]domain.LedgerRecord, 0, capacity)
	for rows.Next() {
		var (
			rec     domain.LedgerRecord
			kindRaw string
		)
		if err := rows.Scan(&rec.ID, &kindRaw, &rec.AggregateID, &rec.Delta, &rec.Reason, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger record: %w", err)
		}
		rec.Kind = domain.AggregateKind(kindRaw)
		rec.CreatedAt = rec.CreatedAt.UTC()
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger rows: %w", err)
	}
	return result, nil
}

func (r *ledgerRepository) ListByReason(ctx context.Context, kind domain.AggregateKind, reasons []string) ([]domain.LedgerRecord, error) {
	if !kind.Valid() {
		return nil, domain.ErrAggregateKindInvalid
	}
	if len(reasons) == 0 {
		return nil, nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query, args, err := r.store.Builder.
		Select("id", "kind", "aggregate_id", "delta", "reason", "created_at").
		From(ledgerTable).
		Where(squirrel.Eq{"kind": string(kind), "reason": reasons}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ledger list by reason: %w", err)
	}

	rows, err := r.store.executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger records by reason: %w", err)
	}
	defer rows.Close()

	return scanLedgerRecords(rows, 0)
}

type aggregateRepository struct {
	store *Store
}

// NewAggregateRepository создаёт PostgreSQL-реализацию AggregateRepository.
func NewAggregateRepository(store *Store) domain.AggregateRepository {
	return &aggregateRepository{store: store}
}

func (r *aggregateRepository) Create(ctx context.Context, aggregate domain.Aggregate) error {
	id, err := normalizeLedgerInput(aggregate.Kind, aggregate.ID)
	if err != nil {
		return err
	}
	aggregate.ID = id

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	if aggregate.CreatedAt.IsZero() {
		aggregate.CreatedAt = now
	}
	if aggregate.UpdatedAt.IsZero() {
		aggregate.UpdatedAt = now
	}

	var lastRecorded any
	if !aggregate.LastRecordedAt.IsZero() {
		lastRecorded = aggregate.LastRecordedAt.UTC()
	}

	query, args, err := r.store.Builder.
		Insert(aggregatesTable).
		Columns("kind", "id", "current_value", "last_recorded_at", "created_at", "updated_at").
		Values(string(aggregate.Kind), aggregate.ID, aggregate.CurrentValue, lastRecorded, aggregate.CreatedAt, aggregate.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build aggregate insert: %w", err)
	}

	if _, err := r.store.executor(ctx).ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAggregateAlreadyExists
		}
		return fmt.Errorf("insert aggregate: %w", err)
	}
	return nil
}

func (r *aggregateRepository) Get(ctx context.Context, kind domain.AggregateKind, id string) (domain.Aggregate, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	aggregate, err := r.selectOne(ctx, kind, id, "")
	if err != nil {
		return domain.Aggregate{}, err
	}
	return *aggregate, nil
}

func (r *aggregateRepository) LockForUpdate(ctx context.Context, kind domain.AggregateKind, id string) (*domain.Aggregate, error) {
	if !inTransaction(ctx) {
		return nil, domain.ErrNoTransaction
	}
	return r.selectOne(ctx, kind, id, "FOR UPDATE")
}

func (r *aggregateRepository) StoreCache(ctx context.Context, aggregate *domain.Aggregate) error {
	if aggregate == nil {
		return domain.ErrAggregateIDRequired
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	aggregate.UpdatedAt = time.Now().UTC()

	var lastRecorded any
	if !aggregate.LastRecordedAt.IsZero() {
		lastRecorded = aggregate.LastRecordedAt.UTC()
	}

	query, args, err := r.store.Builder.
		Update(aggregatesTable).
		Set("current_value", aggregate.CurrentValue).
		Set("last_recorded_at", lastRecorded).
		Set("updated_at", aggregate.UpdatedAt).
		Where(squirrel.Eq{"kind": string(aggregate.Kind), "id": aggregate.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build aggregate cache update: %w", err)
	}

	res, err := r.store.executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store aggregate cache: %w", err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrAggregateNotFound
	}
	return nil
}

func (r *aggregateRepository) selectOne(ctx context.Context, kind domain.AggregateKind, id, suffix string) (*domain.Aggregate, error) {
	id, err := normalizeLedgerInput(kind, id)
	if err != nil {
		return nil, err
	}

	builder := r.store.Builder.
		Select("kind", "id", "current_value", "last_recorded_at", "created_at", "updated_at").
		From(aggregatesTable).
		Where(squirrel.Eq{"kind": string(kind), "id": id})
	if suffix != "" {
		builder = builder.Suffix(suffix)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build aggregate select: %w", err)
	}

	var (
		aggregate domain.Aggregate
		kindRaw   string
		last      sql.NullTime
	)
	err = r.store.executor(ctx).QueryRowContext(ctx, query, args...).Scan(
		&kindRaw, &aggregate.ID, &aggregate.CurrentValue, &last, &aggregate.CreatedAt, &aggregate.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAggregateNotFound, domain.AggregateKey(kind, id))
	}
	if err != nil {
		return nil, fmt.Errorf("select aggregate: %w", err)
	}

	aggregate.Kind = domain.AggregateKind(kindRaw)
	if last.Valid {
		aggregate.LastRecordedAt = last.Time.UTC()
	}
	aggregate.CreatedAt = aggregate.CreatedAt.UTC()
	aggregate.UpdatedAt = aggregate.UpdatedAt.UTC()
	return &aggregate, nil
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
	_ domain.LedgerRepository    = (*ledgerRepository)(nil)
	_ domain.AggregateRepository = (*aggregateRepository)(nil)
)
