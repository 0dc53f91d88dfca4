package scheduler

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
	"github.com/vladislavdragonenkov/paycore/internal/service/gateway"
)

// DefaultBatchSize: сколько строк берёт один прогон.
const DefaultBatchSize = 20

const defaultParallelism = 8

// Executor ведёт строку UNKNOWN через захват и вызов провайдера.
type Executor interface {
	Execute(ctx context.Context, process domain.PaymentProcess) (gateway.Outcome, error)
}

// Settler проводит двухфазный расчёт строки PENDING.
type Settler interface {
	Settle(ctx context.Context, process domain.PaymentProcess) (gateway.Outcome, error)
}

// BatchOptions: общие параметры пакетных задач.
type BatchOptions struct {
	BatchSize   int
	Parallelism int
	Logger      *log.Entry
}

func (o BatchOptions) normalized(component string) BatchOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Parallelism <= 0 {
		o.Parallelism = defaultParallelism
	}
	if o.Logger == nil {
		o.Logger = log.WithField("component", component)
	}
	return o
}

// ClaimJob выбирает строки UNKNOWN и обрабатывает каждую в отдельной горутине.
// Строки чужих провайдеров в выборку не попадают и не занимают место в пакете.
type ClaimJob struct {
	processes domain.PaymentProcessRepository
	executor  Executor
	providers []string
	opts      BatchOptions
}

// NewClaimJob создаёт задачу захвата для перечисленных провайдеров.
// Пустой список означает всех.
func NewClaimJob(processes domain.PaymentProcessRepository, executor Executor, providers []string, opts BatchOptions) *ClaimJob {
	return &ClaimJob{
		processes: processes,
		executor:  executor,
		providers: providers,
		opts:      opts.normalized("claim-job"),
	}
}

func (j *ClaimJob) Name() string { return "claim" }

// RunOnce возвращает ошибку только если не удалась выборка; сбои строк логируются.
func (j *ClaimJob) RunOnce(ctx context.Context) error {
	rows, err := j.processes.ListByStatus(ctx, domain.ProcessStatusUnknown, j.providers, j.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("select unknown processes: %w", err)
	}
	runBatch(ctx, rows, j.opts, func(ctx context.Context, process domain.PaymentProcess) (gateway.Outcome, error) {
		return j.executor.Execute(ctx, process)
	})
	return nil
}

// SettleJob двигает подтверждённые строки провайдеров с двухфазным расчётом.
// Строки PENDING без подтверждения ждут webhook или оператора и в выборку не входят.
type SettleJob struct {
	processes domain.PaymentProcessRepository
	settler   Settler
	providers []string
	opts      BatchOptions
}

// NewSettleJob создаёт задачу расчёта для перечисленных провайдеров.
func NewSettleJob(processes domain.PaymentProcessRepository, settler Settler, providers []string, opts BatchOptions) *SettleJob {
	return &SettleJob{
		processes: processes,
		settler:   settler,
		providers: providers,
		opts:      opts.normalized("settle-job"),
	}
}

func (j *SettleJob) Name() string { return "settle" }

func (j *SettleJob) RunOnce(ctx context.Context) error {
	if len(j.providers) == 0 {
		return nil
	}
	rows, err := j.processes.ListSettleable(ctx, j.providers, j.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("select settleable processes: %w", err)
	}
	runBatch(ctx, rows, j.opts, func(ctx context.Context, process domain.PaymentProcess) (gateway.Outcome, error) {
		return j.settler.Settle(ctx, process)
	})
	return nil
}

// runBatch обрабатывает строки с ограничением параллелизма. Ошибка или паника
// одной строки не влияет на остальные.
func runBatch(ctx context.Context, rows []domain.PaymentProcess, opts BatchOptions, handle func(context.Context, domain.PaymentProcess) (gateway.Outcome, error)) {
	if len(rows) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(opts.Parallelism)
	for _, row := range rows {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			entry := opts.Logger.WithFields(log.Fields{
				"process_id": row.ID,
				"provider":   row.Provider,
			})
			defer func() {
				if r := recover(); r != nil {
					entry.WithField("panic", r).Error("process handler panicked")
				}
			}()

			outcome, err := handle(ctx, row)
			if err != nil {
				entry.WithError(err).Warn("process handling failed")
				return nil
			}
			entry.WithField("outcome", outcome).Debug("process handled")
			return nil
		})
	}
	_ = g.Wait()
}
