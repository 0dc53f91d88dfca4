// Package scheduler запускает периодические задачи шлюза с фиксированной задержкой
// между окончанием одного прогона и началом следующего.
package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paycore/internal/metrics"
)

const defaultDelay = time.Second

// Job: одна периодическая задача.
type Job interface {
	Name() string
	RunOnce(ctx context.Context) error
}

// RunnerOptions задаёт параметры Runner.
type RunnerOptions struct {
	Logger       *log.Entry
	Metrics      *metrics.PaymentMetrics
	Delay        time.Duration
	InitialDelay time.Duration
}

// Option настраивает Runner.
type Option func(*RunnerOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *RunnerOptions) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики тиков.
func WithMetrics(m *metrics.PaymentMetrics) Option {
	return func(opts *RunnerOptions) {
		opts.Metrics = m
	}
}

// WithDelay задаёт паузу между окончанием прогона и началом следующего.
func WithDelay(delay time.Duration) Option {
	return func(opts *RunnerOptions) {
		opts.Delay = delay
	}
}

// WithInitialDelay откладывает первый прогон после старта.
func WithInitialDelay(delay time.Duration) Option {
	return func(opts *RunnerOptions) {
		opts.InitialDelay = delay
	}
}

// Runner выполняет Job в цикле. Прогоны одного Runner никогда не пересекаются.
type Runner struct {
	job          Job
	enabled      bool
	logger       *log.Entry
	metrics      *metrics.PaymentMetrics
	delay        time.Duration
	initialDelay time.Duration
	running      atomic.Bool
}

// NewRunner создаёт Runner. enabled передаётся явно из конфигурации запуска.
func NewRunner(job Job, enabled bool, options ...Option) *Runner {
	opts := RunnerOptions{Delay: defaultDelay}
	for _, option := range options {
		option(&opts)
	}
	if opts.Delay <= 0 {
		opts.Delay = defaultDelay
	}
	if opts.InitialDelay < 0 {
		opts.InitialDelay = 0
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "scheduler")
	}

	return &Runner{
		job:          job,
		enabled:      enabled,
		logger:       logger.WithField("job", job.Name()),
		metrics:      opts.Metrics,
		delay:        opts.Delay,
		initialDelay: opts.InitialDelay,
	}
}

// Enabled сообщает, будет ли Run выполнять задачу.
func (r *Runner) Enabled() bool {
	return r.enabled
}

// Run крутит цикл до отмены ctx. Таймер перезапускается только после завершения прогона.
func (r *Runner) Run(ctx context.Context) {
	if !r.enabled {
		r.logger.Info("scheduler is disabled")
		return
	}

	r.logger.WithField("delay", r.delay.String()).Info("scheduler started")
	timer := time.NewTimer(r.initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("scheduler stopped")
			return
		case <-timer.C:
			_ = r.RunOnce(ctx)
			timer.Reset(r.delay)
		}
	}
}

// RunOnce выполняет один прогон. Параллельный вызов, пока идёт прогон, пропускается.
func (r *Runner) RunOnce(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Debug("previous run still in progress, skipping")
		return nil
	}
	defer r.running.Store(false)

	started := time.Now()
	err := r.job.RunOnce(ctx)
	r.metrics.RecordSchedulerRun(r.job.Name(), err, time.Since(started))
	if err != nil && !errors.Is(err, context.Canceled) {
		r.logger.WithError(err).Warn("scheduler run failed, next tick will retry")
	}
	return err
}
