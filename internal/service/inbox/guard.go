// Package inbox реализует processed-event guard на стороне потребителя.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

var consumedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "paycore_inbox_events_total",
	Help: "Total number of consumed events grouped by consumer and result.",
}, []string{"consumer", "result"})

// Guard гарантирует, что эффект события применяется не более одного раза.
type Guard struct {
	tx       domain.TxManager
	repo     domain.ProcessedEventRepository
	consumer string
	logger   *log.Entry
}

// NewGuard создаёт guard для потребителя consumer.
func NewGuard(tx domain.TxManager, repo domain.ProcessedEventRepository, consumer string, logger *log.Entry) *Guard {
	if logger == nil {
		logger = log.WithField("component", "inbox-guard")
	}
	return &Guard{
		tx:       tx,
		repo:     repo,
		consumer: consumer,
		logger:   logger.WithField("consumer", consumer),
	}
}

// HasProcessed сообщает, применено ли уже событие.
func (g *Guard) HasProcessed(ctx context.Context, originEventID string) (bool, error) {
	return g.repo.Exists(ctx, originEventID)
}

// RecordProcessed фиксирует факт применения события.
// Повтор возвращает domain.ErrEventAlreadyProcessed.
func (g *Guard) RecordProcessed(ctx context.Context, env domain.Envelope) error {
	return g.repo.Insert(ctx, domain.ProcessedEventOf(env, g.consumer))
}

// Consume выполняет проверку, запись guard и применение эффекта в одной транзакции.
// Повторная доставка молча пропускается и не считается ошибкой.
func (g *Guard) Consume(ctx context.Context, env domain.Envelope, apply domain.EventHandler) error {
	if strings.TrimSpace(env.EventID) == "" {
		consumedEvents.WithLabelValues(g.consumer, "rejected").Inc()
		return domain.ErrEventIDRequired
	}

	err := g.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		done, err := g.HasProcessed(txCtx, env.EventID)
		if err != nil {
			return fmt.Errorf("check processed event: %w", err)
		}
		if done {
			return domain.ErrEventAlreadyProcessed
		}
		if err := g.RecordProcessed(txCtx, env); err != nil {
			return err
		}
		return apply(txCtx, env)
	})

	entry := g.logger.WithFields(log.Fields{
		"event_id":   env.EventID,
		"event_type": env.EventType,
		"trace_id":   env.TraceID,
	})
	switch {
	case err == nil:
		consumedEvents.WithLabelValues(g.consumer, "applied").Inc()
		entry.Debug("event applied")
		return nil
	case domain.IsDuplicate(err):
		consumedEvents.WithLabelValues(g.consumer, "duplicate").Inc()
		entry.Debug("duplicate delivery skipped")
		return nil
	case errors.Is(err, context.Canceled):
		return err
	default:
		consumedEvents.WithLabelValues(g.consumer, "failed").Inc()
		entry.WithError(err).Warn("event apply failed")
		return err
	}
}
