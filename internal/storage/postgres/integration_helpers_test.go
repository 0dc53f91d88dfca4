package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// Интеграционные тесты запускаются только при заданном PAYCORE_POSTGRES_TEST_DSN.
const testDSNEnv = "PAYCORE_POSTGRES_TEST_DSN"

var integrationTables = []string{
	"processed_events",
	"outbox_events",
	"payments",
	"payment_processes",
	"aggregates",
	"ledger_records",
}

// connectTestStore открывает store без миграций.
func connectTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv(testDSNEnv))
	if dsn == "" {
		t.Skipf("%s is not set", testDSNEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	store, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres is not reachable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// migratedTestStore возвращает store со свежей схемой и пустыми таблицами.
func migratedTestStore(t *testing.T) *Store {
	t.Helper()

	store := connectTestStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	stmt := "TRUNCATE TABLE " + strings.Join(integrationTables, ", ") + " RESTART IDENTITY CASCADE"
	if _, err := store.DB().ExecContext(ctx, stmt); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return store
}
