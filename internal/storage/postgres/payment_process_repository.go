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

const paymentProcessesTable = "payment_processes"

var paymentProcessColumns = []string{
	"id", "kind", "order_public_id", "user_public_id", "order_number",
	"provider", "mid", "amount", "status", "gateway_reference_id",
	"active_request_key", "request_payload", "response_payload",
	"pg_transaction", "pg_approval_no", "code", "message",
	"request_attempt_count", "requested_at", "ack_received_at",
	"last_pg_response_code", "origin_process_id", "created_at", "updated_at",
}

type paymentProcessRepository struct {
	store *Store
}

// NewPaymentProcessRepository создаёт PostgreSQL-реализацию PaymentProcessRepository.
func NewPaymentProcessRepository(store *Store) domain.PaymentProcessRepository {
	return &paymentProcessRepository{store: store}
}

func (r *paymentProcessRepository) Create(ctx context.Context, p *domain.PaymentProcess) error {
	if p == nil {
		return domain.ErrProcessNotFound
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt

	var origin sql.NullInt64
	if p.OriginProcessID != nil {
		origin = sql.NullInt64{Int64: *p.OriginProcessID, Valid: true}
	}

	query, args, err := r.store.Builder.
		Insert(paymentProcessesTable).
		Columns(paymentProcessColumns...).
		Values(
			p.ID, string(p.Kind), p.OrderPublicID, p.UserPublicID, p.OrderNumber,
			p.Provider, p.MID, p.Amount, string(p.Status), p.GatewayReferenceID,
			nullString(p.ActiveRequestKey), p.RequestPayload, p.ResponsePayload,
			nullString(p.PGTransaction), nullString(p.PGApprovalNo), nullString(p.Code), nullString(p.Message),
			p.RequestAttemptCount, nullTime(p.RequestedAt), nullTime(p.AckReceivedAt),
			p.LastPGResponseCode, origin, p.CreatedAt, p.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build payment process insert: %w", err)
	}

	if _, err := r.store.executor(ctx).ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrProcessAlreadyActive, p.ActiveRequestKey)
		}
		return fmt.Errorf("insert payment process: %w", err)
	}
	return nil
}

func (r *paymentProcessRepository) Get(ctx context.Context, id int64) (domain.PaymentProcess, error) {
	return r.findOne(ctx, squirrel.Eq{"id": id}, "id")
}

// FindByGatewayReference отдаёт предпочтение строке, которая ещё в полёте.
func (r *paymentProcessRepository) FindByGatewayReference(ctx context.Context, ref string) (domain.PaymentProcess, error) {
	return r.findOne(ctx, squirrel.Eq{"gateway_reference_id": ref}, "(active_request_key IS NULL)", "created_at DESC", "id DESC")
}

func (r *paymentProcessRepository) FindByPGTransaction(ctx context.Context, provider, pgTransaction string) (domain.PaymentProcess, error) {
	return r.findOne(ctx, squirrel.Eq{
		"provider":       strings.ToUpper(provider),
		"pg_transaction": pgTransaction,
	}, "created_at DESC", "id DESC")
}

func (r *paymentProcessRepository) FindApprovedByOrder(ctx context.Context, orderPublicID string) (domain.PaymentProcess, error) {
	return r.findOne(ctx, squirrel.Eq{
		"order_public_id": orderPublicID,
		"kind":            string(domain.ProcessKindApprove),
		"status":          string(domain.ProcessStatusSuccess),
	}, "created_at DESC", "id DESC")
}

func (r *paymentProcessRepository) ListByStatus(ctx context.Context, status domain.ProcessStatus, providers []string, limit int) ([]domain.PaymentProcess, error) {
	return r.list(ctx, squirrel.And{squirrel.Eq{"status": string(status)}}, providers, limit)
}

func (r *paymentProcessRepository) ListSettleable(ctx context.Context, providers []string, limit int) ([]domain.PaymentProcess, error) {
	return r.list(ctx, squirrel.And{
		squirrel.Eq{"status": string(domain.ProcessStatusPending)},
		squirrel.NotEq{"ack_received_at": nil},
		squirrel.NotEq{"pg_transaction": nil},
		squirrel.NotEq{"pg_transaction": ""},
	}, providers, limit)
}

func (r *paymentProcessRepository) list(ctx context.Context, where squirrel.And, providers []string, limit int) ([]domain.PaymentProcess, error) {
	if limit <= 0 {
		limit = 20
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if len(providers) > 0 {
		upper := make([]string, 0, len(providers))
		for _, p := range providers {
			upper = append(upper, strings.ToUpper(p))
		}
		where = append(where, squirrel.Eq{"provider": upper})
	}

	query, args, err := r.store.Builder.
		Select(paymentProcessColumns...).
		From(paymentProcessesTable).
		Where(where).
		OrderBy("created_at ASC", "id ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build payment process list: %w", err)
	}

	rows, err := r.store.executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payment processes: %w", err)
	}
	defer rows.Close()

	result := make([]domain.PaymentProcess, 0, limit)
	for rows.Next() {
		p, err := scanPaymentProcess(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment process rows: %w", err)
	}
	return result, nil
}

func (r *paymentProcessRepository) CasClaim(ctx context.Context, id int64, requestPayload []byte, now time.Time) (bool, error) {
	now = now.UTC()
	return r.cas(ctx, r.store.Builder.
		Update(paymentProcessesTable).
		Set("status", string(domain.ProcessStatusPending)).
		Set("request_attempt_count", squirrel.Expr("request_attempt_count + 1")).
		Set("requested_at", now).
		Set("request_payload", requestPayload).
		Set("updated_at", now).
		Where(squirrel.Eq{"id": id, "status": string(domain.ProcessStatusUnknown)}))
}

func (r *paymentProcessRepository) CasRecordAck(ctx context.Context, id int64, ack domain.Ack, responsePayload []byte, now time.Time) (bool, error) {
	now = now.UTC()
	builder := r.store.Builder.
		Update(paymentProcessesTable).
		Set("ack_received_at", now).
		Set("code", nullString(ack.Code)).
		Set("message", nullString(ack.Message)).
		Set("last_pg_response_code", ack.HTTPStatus).
		Set("response_payload", responsePayload).
		Set("updated_at", now).
		Where(squirrel.Eq{"id": id, "status": string(domain.ProcessStatusPending)})
	if ack.PGTransaction != "" {
		builder = builder.Set("pg_transaction", ack.PGTransaction)
	}
	if ack.ApprovalNo != "" {
		builder = builder.Set("pg_approval_no", ack.ApprovalNo)
	}
	return r.cas(ctx, builder)
}

func (r *paymentProcessRepository) CasTransition(ctx context.Context, id int64, from, to domain.ProcessStatus, settlement domain.Settlement) (bool, error) {
	if !domain.CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}

	at := settlement.At
	if at.IsZero() {
		at = time.Now()
	}

	builder := r.store.Builder.
		Update(paymentProcessesTable).
		Set("status", string(to)).
		Set("updated_at", at.UTC()).
		Where(squirrel.Eq{"id": id, "status": string(from)})
	if to.IsTerminal() {
		builder = builder.Set("active_request_key", nil)
	}
	if settlement.PGTransaction != "" {
		builder = builder.Set("pg_transaction", settlement.PGTransaction)
	}
	if settlement.PGApprovalNo != "" {
		builder = builder.Set("pg_approval_no", settlement.PGApprovalNo)
	}
	if settlement.Code != "" {
		builder = builder.Set("code", settlement.Code)
	}
	if settlement.Message != "" {
		builder = builder.Set("message", settlement.Message)
	}
	if settlement.ResponsePayload != nil {
		builder = builder.Set("response_payload", settlement.ResponsePayload)
	}
	return r.cas(ctx, builder)
}

func (r *paymentProcessRepository) CasUpdateWebhookResponse(ctx context.Context, id int64, to domain.ProcessStatus, settlement domain.Settlement) (bool, error) {
	if !to.IsTerminal() {
		return false, fmt.Errorf("%w: webhook target %s", domain.ErrInvalidTransition, to)
	}
	return r.CasTransition(ctx, id, domain.ProcessStatusPending, to, settlement)
}

func (r *paymentProcessRepository) cas(ctx context.Context, builder squirrel.UpdateBuilder) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query, args, err := builder.ToSql()
	if err != nil {
		return false, fmt.Errorf("build payment process cas: %w", err)
	}

	res, err := r.store.executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("payment process cas: %w", err)
	}
	return affectedOne(res)
}

func (r *paymentProcessRepository) findOne(ctx context.Context, where squirrel.Sqlizer, orderBy ...string) (domain.PaymentProcess, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query, args, err := r.store.Builder.
		Select(paymentProcessColumns...).
		From(paymentProcessesTable).
		Where(where).
		OrderBy(orderBy...).
		Limit(1).
		ToSql()
	if err != nil {
		return domain.PaymentProcess{}, fmt.Errorf("build payment process select: %w", err)
	}

	rows, err := r.store.executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return domain.PaymentProcess{}, fmt.Errorf("select payment process: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return domain.PaymentProcess{}, fmt.Errorf("iterate payment process rows: %w", err)
		}
		return domain.PaymentProcess{}, domain.ErrProcessNotFound
	}
	return scanPaymentProcess(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaymentProcess(row rowScanner) (domain.PaymentProcess, error) {
	var (
		p            domain.PaymentProcess
		kind, status string
		activeKey    sql.NullString
		pgTx         sql.NullString
		approval     sql.NullString
		code         sql.NullString
		msg          sql.NullString
		requestedAt  sql.NullTime
		ackAt        sql.NullTime
		origin       sql.NullInt64
	)
	err := row.Scan(
		&p.ID, &kind, &p.OrderPublicID, &p.UserPublicID, &p.OrderNumber,
		&p.Provider, &p.MID, &p.Amount, &status, &p.GatewayReferenceID,
		&activeKey, &p.RequestPayload, &p.ResponsePayload,
		&pgTx, &approval, &code, &msg,
		&p.RequestAttemptCount, &requestedAt, &ackAt,
		&p.LastPGResponseCode, &origin, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PaymentProcess{}, domain.ErrProcessNotFound
	}
	if err != nil {
		return domain.PaymentProcess{}, fmt.Errorf("scan payment process: %w", err)
	}

	p.Kind = domain.ProcessKind(kind)
	p.Status = domain.ProcessStatus(status)
	p.ActiveRequestKey = activeKey.String
	p.PGTransaction = pgTx.String
	p.PGApprovalNo = approval.String
	p.Code = code.String
	p.Message = msg.String
	p.RequestedAt = timePtr(requestedAt)
	p.AckReceivedAt = timePtr(ackAt)
	if origin.Valid {
		v := origin.Int64
		p.OriginProcessID = &v
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

var _ domain.PaymentProcessRepository = (*paymentProcessRepository)(nil)
