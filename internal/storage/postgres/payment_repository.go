package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

const paymentsTable = "payments"

var paymentColumns = []string{
	"id", "type", "process_id", "order_public_id", "user_public_id", "provider",
	"amount", "pg_transaction", "pg_approval_no", "origin_payment_id", "source_event_id", "created_at",
}

type paymentRepository struct {
	store *Store
}

// NewPaymentRepository создаёт PostgreSQL-реализацию PaymentRepository.
func NewPaymentRepository(store *Store) domain.PaymentRepository {
	return &paymentRepository{store: store}
}

func (r *paymentRepository) Insert(ctx context.Context, payment *domain.Payment) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}

	var origin sql.NullInt64
	if payment.OriginPaymentID != nil {
		origin = sql.NullInt64{Int64: *payment.OriginPaymentID, Valid: true}
	}

	query, args, err := r.store.Builder.
		Insert(paymentsTable).
		Columns(paymentColumns...).
		Values(
			payment.ID, string(payment.Type), payment.ProcessID, payment.OrderPublicID, payment.UserPublicID,
			payment.Provider, payment.Amount, nullString(payment.PGTransaction), nullString(payment.PGApprovalNo),
			origin, payment.SourceEventID, payment.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build payment insert: %w", err)
	}

	if _, err := r.store.executor(ctx).ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: process %d", domain.ErrPaymentAlreadyRecorded, payment.ProcessID)
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) GetByProcess(ctx context.Context, processID int64) (domain.Payment, error) {
	payments, err := r.list(ctx, squirrel.Eq{"process_id": processID}, 1)
	if err != nil {
		return domain.Payment{}, err
	}
	if len(payments) == 0 {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return payments[0], nil
}

func (r *paymentRepository) ListByOrder(ctx context.Context, orderPublicID string) ([]domain.Payment, error) {
	return r.list(ctx, squirrel.Eq{"order_public_id": orderPublicID}, 0)
}

func (r *paymentRepository) list(ctx context.Context, where squirrel.Sqlizer, limit uint64) ([]domain.Payment, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	builder := r.store.Builder.
		Select(paymentColumns...).
		From(paymentsTable).
		Where(where).
		OrderBy("created_at ASC", "id ASC")
	if limit > 0 {
		builder = builder.Limit(limit)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build payment select: %w", err)
	}

	rows, err := r.store.executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	var result []domain.Payment
	for rows.Next() {
		var (
			p              domain.Payment
			paymentType    string
			pgTx, approval sql.NullString
			origin         sql.NullInt64
		)
		if err := rows.Scan(
			&p.ID, &paymentType, &p.ProcessID, &p.OrderPublicID, &p.UserPublicID, &p.Provider,
			&p.Amount, &pgTx, &approval, &origin, &p.SourceEventID, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.Type = domain.PaymentType(paymentType)
		p.PGTransaction = pgTx.String
		p.PGApprovalNo = approval.String
		if origin.Valid {
			v := origin.Int64
			p.OriginPaymentID = &v
		}
		p.CreatedAt = p.CreatedAt.UTC()
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment rows: %w", err)
	}
	return result, nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
