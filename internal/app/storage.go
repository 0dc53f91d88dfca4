package app

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
	"github.com/vladislavdragonenkov/paycore/internal/storage/memory"
	"github.com/vladislavdragonenkov/paycore/internal/storage/postgres"
)

// Storage: набор репозиториев поверх одного хранилища.
type Storage struct {
	Driver     string
	Tx         domain.TxManager
	Ledger     domain.LedgerRepository
	Aggregates domain.AggregateRepository
	Processes  domain.PaymentProcessRepository
	Payments   domain.PaymentRepository
	Outbox     domain.OutboxRepository
	Processed  domain.ProcessedEventRepository

	ping    func(ctx context.Context) error
	closeFn func() error
}

// NewMemoryStorage собирает in-memory хранилище.
func NewMemoryStorage() *Storage {
	store := memory.NewStore()
	return &Storage{
		Driver:     StorageDriverMemory,
		Tx:         store,
		Ledger:     memory.NewLedgerRepository(store),
		Aggregates: memory.NewAggregateRepository(store),
		Processes:  memory.NewPaymentProcessRepository(store),
		Payments:   memory.NewPaymentRepository(store),
		Outbox:     memory.NewOutboxRepository(store),
		Processed:  memory.NewProcessedEventRepository(store),
		ping:       func(context.Context) error { return nil },
		closeFn:    func() error { return nil },
	}
}

// NewPostgresStorage собирает репозитории поверх открытого Store.
// source попадает в колонку source записей outbox.
func NewPostgresStorage(store *postgres.Store, source string) *Storage {
	return &Storage{
		Driver:     StorageDriverPostgres,
		Tx:         store,
		Ledger:     postgres.NewLedgerRepository(store),
		Aggregates: postgres.NewAggregateRepository(store),
		Processes:  postgres.NewPaymentProcessRepository(store),
		Payments:   postgres.NewPaymentRepository(store),
		Outbox:     postgres.NewOutboxRepository(store, source),
		Processed:  postgres.NewProcessedEventRepository(store),
		ping:       store.Ping,
		closeFn:    store.Close,
	}
}

// OpenStorage открывает хранилище, выбранное в конфигурации.
func OpenStorage(ctx context.Context, cfg Config, source string, logger *log.Entry) (*Storage, error) {
	switch strings.ToLower(cfg.StorageDriver) {
	case StorageDriverMemory:
		logger.Warn("using in-memory storage, data is lost on restart")
		return NewMemoryStorage(), nil
	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres schema is up to date")
		}
		return NewPostgresStorage(store, source), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// Ping проверяет доступность хранилища.
func (s *Storage) Ping(ctx context.Context) error {
	if s == nil || s.ping == nil {
		return fmt.Errorf("storage is not initialized")
	}
	return s.ping(ctx)
}

// Close освобождает подключение.
func (s *Storage) Close() error {
	if s == nil || s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}
