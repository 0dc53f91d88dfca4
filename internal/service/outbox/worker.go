// Package outbox публикует записи transactional outbox на шину и чистит опубликованные.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

const (
	defaultSource       = "default"
	defaultPollInterval = time.Second
	defaultBatchSize    = 100
	defaultMaxRetries   = 5
)

// WorkerOptions задаёт параметры outbox worker.
type WorkerOptions struct {
	Logger       *log.Entry
	DLQPublisher domain.EventPublisher
	Source       string
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) { opts.Logger = logger }
}

// WithDLQPublisher задаёт publisher для записей, ушедших в FAILED.
func WithDLQPublisher(publisher domain.EventPublisher) Option {
	return func(opts *WorkerOptions) { opts.DLQPublisher = publisher }
}

// WithSource задаёт сервис-владельца outbox; попадает в логи и метрики.
func WithSource(source string) Option {
	return func(opts *WorkerOptions) { opts.Source = source }
}

// WithPollInterval задаёт паузу между проходами.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) { opts.PollInterval = interval }
}

// WithBatchSize ограничивает число записей за проход.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) { opts.BatchSize = batchSize }
}

// WithMaxRetries задаёт число неудачных попыток, после которого запись становится FAILED.
func WithMaxRetries(maxRetries int) Option {
	return func(opts *WorkerOptions) { opts.MaxRetries = maxRetries }
}

func (o *WorkerOptions) normalize() {
	if o.Source == "" {
		o.Source = defaultSource
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.Logger == nil {
		o.Logger = log.WithField("component", "outbox-worker")
	}
}

// Worker публикует pending-записи из outbox. За один проход каждая запись получает
// ровно одну попытку; неудача увеличивает retry_count и оставляет запись следующему проходу.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.EventPublisher
	opts      WorkerOptions
	logger    *log.Entry
	metrics   sourceMetrics
	inFlight  atomic.Bool
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.EventPublisher, options ...Option) *Worker {
	var opts WorkerOptions
	for _, option := range options {
		option(&opts)
	}
	opts.normalize()

	return &Worker{
		repo:      repo,
		publisher: publisher,
		opts:      opts,
		logger:    opts.Logger.WithField("source", opts.Source),
		metrics:   metricsFor(opts.Source),
	}
}

// Run опрашивает outbox до отмены ctx. Первый проход выполняется сразу.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker disabled: no repository or publisher")
		return
	}

	for {
		w.ProcessOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.opts.PollInterval):
		}
	}
}

// ProcessOnce выполняет один проход. Если предыдущий проход ещё идёт, вызов пропускается.
func (w *Worker) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !w.inFlight.CompareAndSwap(false, true) {
		w.logger.Debug("outbox pass already running")
		return
	}
	defer w.inFlight.Store(false)

	events, err := w.repo.PullPending(ctx, w.opts.BatchSize)
	if err != nil {
		w.logger.WithError(err).Warn("pull pending outbox records failed")
		return
	}

	for _, event := range events {
		if ctx.Err() != nil {
			return
		}
		w.metrics.attempt(w.deliver(ctx, event))
	}

	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("outbox stats unavailable")
		return
	}
	w.metrics.backlog(stats.PendingCount, stats.FailedCount, stats.OldestPendingAt, time.Now())
}

// deliver делает одну попытку публикации и возвращает её исход.
func (w *Worker) deliver(ctx context.Context, event domain.OutboxEvent) string {
	entry := w.logger.WithFields(log.Fields{
		"event_id":   event.EventID,
		"event_type": event.EventType,
		"topic":      event.Topic,
	})

	publishErr := w.publisher.Publish(ctx, event)
	if publishErr == nil {
		if err := w.repo.MarkPublished(ctx, event.EventID); err != nil {
			// запись останется PENDING и уйдёт повторно, потребитель отсеет дубль
			entry.WithError(err).Warn("mark outbox record published failed")
		}
		return resultPublished
	}

	status, err := w.repo.MarkFailedWithRetry(ctx, event.EventID, publishErr.Error(), w.opts.MaxRetries)
	if err != nil {
		entry.WithError(err).Warn("record outbox publish failure failed")
		return resultRetry
	}
	if status != domain.OutboxStatusFailed {
		entry.WithError(publishErr).WithField("retry_count", event.RetryCount+1).Warn("outbox publish failed, will retry")
		return resultRetry
	}

	entry.WithError(publishErr).Error("outbox record marked FAILED after retries")
	if err := w.deadLetter(ctx, event, publishErr); err != nil {
		entry.WithError(err).Warn("dead-letter publish failed")
		return resultDLQFailed
	}
	return resultFailed
}

func (w *Worker) deadLetter(ctx context.Context, event domain.OutboxEvent, cause error) error {
	if w.opts.DLQPublisher == nil {
		return nil
	}

	payload, err := json.Marshal(domain.DeadLetterOf(event, cause, time.Now()))
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	letter := event
	letter.Topic = domain.TopicDeadLetter
	letter.Payload = payload
	if err := w.opts.DLQPublisher.Publish(ctx, letter); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}
