// Package ledger реализует сторону финансовой правды: дельты остатков и балансов,
// пересчёт агрегатов и применение результатов платежей.
package ledger

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

// Reaggregator пересчитывает кеш агрегата из его дельт.
// Пересчёт не является бизнес-событием и никогда не пишет в outbox.
type Reaggregator struct {
	tx         domain.TxManager
	ledger     domain.LedgerRepository
	aggregates domain.AggregateRepository
	logger     *log.Entry
}

// NewReaggregator создаёт Reaggregator.
func NewReaggregator(tx domain.TxManager, ledger domain.LedgerRepository, aggregates domain.AggregateRepository, logger *log.Entry) *Reaggregator {
	if logger == nil {
		logger = log.WithField("component", "reaggregator")
	}
	return &Reaggregator{tx: tx, ledger: ledger, aggregates: aggregates, logger: logger}
}

// ReadRecalculated возвращает агрегат со значением, выведенным из ledger, ничего не сохраняя.
func (r *Reaggregator) ReadRecalculated(ctx context.Context, kind domain.AggregateKind, id string) (domain.Aggregate, error) {
	aggregate, err := r.aggregates.Get(ctx, kind, id)
	if err != nil {
		return domain.Aggregate{}, err
	}

	sum, lastAt, err := r.ledger.Sum(ctx, kind, id)
	if err != nil {
		return domain.Aggregate{}, fmt.Errorf("sum %s: %w", aggregate.Key(), err)
	}

	aggregate.CurrentValue = sum
	aggregate.LastRecordedAt = lastAt
	return aggregate, nil
}

// WriteRecalculated пересчитывает строку, уже заблокированную в текущей транзакции.
// Отрицательный остаток возвращается как integrity fault, строка при этом не меняется.
func (r *Reaggregator) WriteRecalculated(ctx context.Context, locked *domain.Aggregate) (domain.Aggregate, error) {
	if locked == nil {
		return domain.Aggregate{}, domain.ErrAggregateNotFound
	}

	sum, lastAt, err := r.ledger.Sum(ctx, locked.Kind, locked.ID)
	if err != nil {
		return domain.Aggregate{}, fmt.Errorf("sum %s: %w", locked.Key(), err)
	}

	if err := domain.ValidateRecalculated(locked.Kind, locked.ID, sum); err != nil {
		r.logger.WithFields(log.Fields{
			"aggregate":    locked.Key(),
			"cached_value": locked.CurrentValue,
			"ledger_sum":   sum,
		}).Error("ledger integrity fault: negative reaggregated value")
		return domain.Aggregate{}, err
	}

	locked.CurrentValue = sum
	locked.LastRecordedAt = lastAt
	if err := r.aggregates.StoreCache(ctx, locked); err != nil {
		return domain.Aggregate{}, fmt.Errorf("store cache %s: %w", locked.Key(), err)
	}
	return *locked, nil
}

// Recalculate открывает транзакцию, блокирует строку и пересчитывает её.
func (r *Reaggregator) Recalculate(ctx context.Context, kind domain.AggregateKind, id string) (domain.Aggregate, error) {
	var result domain.Aggregate
	err := r.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		locked, err := r.aggregates.LockForUpdate(txCtx, kind, id)
		if err != nil {
			return err
		}
		result, err = r.WriteRecalculated(txCtx, locked)
		return err
	})
	if err != nil {
		return domain.Aggregate{}, err
	}
	return result, nil
}

// ApplyDelta дописывает дельту и сразу пересчитывает агрегат в той же транзакции.
// Если транзакция уже открыта в ctx, используется она.
func (r *Reaggregator) ApplyDelta(ctx context.Context, kind domain.AggregateKind, id string, delta int64, reason string) (domain.Aggregate, error) {
	var result domain.Aggregate
	err := r.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		locked, err := r.aggregates.LockForUpdate(txCtx, kind, id)
		if err != nil {
			return err
		}
		if _, err := r.ledger.Append(txCtx, kind, id, delta, reason); err != nil {
			return fmt.Errorf("append %s: %w", domain.AggregateKey(kind, id), err)
		}
		result, err = r.WriteRecalculated(txCtx, locked)
		return err
	})
	if err != nil {
		return domain.Aggregate{}, err
	}
	return result, nil
}
