package outbox

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	defaultRetention        = 7 * 24 * time.Hour
)

// CleanupOptions задаёт параметры воркера очистки outbox.
type CleanupOptions struct {
	Logger    *log.Entry
	Source    string
	Interval  time.Duration
	BatchSize int
	Retention time.Duration
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupOptions)

func WithCleanupLogger(logger *log.Entry) CleanupOption {
	return func(opts *CleanupOptions) { opts.Logger = logger }
}

func WithCleanupSource(source string) CleanupOption {
	return func(opts *CleanupOptions) { opts.Source = source }
}

func WithCleanupInterval(interval time.Duration) CleanupOption {
	return func(opts *CleanupOptions) { opts.Interval = interval }
}

// WithCleanupBatchSize ограничивает число строк в одном DELETE.
func WithCleanupBatchSize(batchSize int) CleanupOption {
	return func(opts *CleanupOptions) { opts.BatchSize = batchSize }
}

// WithRetention задаёт, сколько хранить опубликованные записи.
func WithRetention(retention time.Duration) CleanupOption {
	return func(opts *CleanupOptions) { opts.Retention = retention }
}

// CleanupWorker удаляет PUBLISHED записи старше retention.
// PENDING и FAILED не трогаются: первые ещё ждут публикации, вторые ручного requeue.
type CleanupWorker struct {
	repo    domain.OutboxRepository
	opts    CleanupOptions
	logger  *log.Entry
	metrics sourceMetrics
}

// NewCleanupWorker создаёт воркер очистки outbox.
func NewCleanupWorker(repo domain.OutboxRepository, options ...CleanupOption) *CleanupWorker {
	var opts CleanupOptions
	for _, option := range options {
		option(&opts)
	}
	if opts.Source == "" {
		opts.Source = defaultSource
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultCleanupInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultCleanupBatchSize
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "outbox-cleanup-worker")
	}

	return &CleanupWorker{
		repo:    repo,
		opts:    opts,
		logger:  opts.Logger.WithField("source", opts.Source),
		metrics: metricsFor(opts.Source),
	}
}

// Run чистит outbox сразу и затем раз в Interval до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("outbox cleanup disabled: no repository")
		return
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx, time.Now().UTC())

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context, now time.Time) {
	deleted, err := w.DeletePublished(ctx, now.Add(-w.opts.Retention))
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		w.metrics.cleanupRuns.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("outbox cleanup failed")
		return
	}

	w.metrics.cleanupRuns.WithLabelValues("ok").Inc()
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("outbox cleanup completed")
	}
}

// DeletePublished удаляет опубликованные записи старше before порциями BatchSize,
// пока очередная порция не окажется неполной.
func (w *CleanupWorker) DeletePublished(ctx context.Context, before time.Time) (int, error) {
	total := 0
	for ctx.Err() == nil {
		deleted, err := w.repo.DeletePublishedBefore(ctx, before, w.opts.BatchSize)
		if err != nil {
			return total, err
		}
		total += deleted
		w.metrics.cleanupDeleted.Add(float64(deleted))

		if deleted < w.opts.BatchSize {
			return total, nil
		}
	}
	return total, ctx.Err()
}
