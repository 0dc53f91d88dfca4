package app

import (
	"context"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/paycore/internal/storage/postgres"
)

// openPostgresStorages поднимает оба сервиса на одной базе: outbox разделён по source,
// а processed_events по имени потребителя.
func openPostgresStorages(t *testing.T) (*Storage, *Storage) {
	t.Helper()
	dsn := postgresTestDSN()
	if dsn == "" {
		t.Skip("postgres dsn is not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	_, err = store.DB().ExecContext(ctx, `
		TRUNCATE TABLE
			processed_events,
			outbox_events,
			payments,
			payment_processes,
			aggregates,
			ledger_records
		RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("truncate tables: %v", err)
	}

	return NewPostgresStorage(store, ServiceGateway), NewPostgresStorage(store, ServiceLedger)
}
