package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
	"github.com/vladislavdragonenkov/paycore/internal/storage/memory"
)

func TestStore_RollbackUndoesEveryRepository(t *testing.T) {
	store := memory.NewStore()
	ledger := memory.NewLedgerRepository(store)
	aggregates := memory.NewAggregateRepository(store)
	outbox := memory.NewOutboxRepository(store)
	processed := memory.NewProcessedEventRepository(store)
	ctx := context.Background()

	require.NoError(t, aggregates.Create(ctx, domain.Aggregate{Kind: domain.AggregateKindStock, ID: "sku-1", CurrentValue: 5}))

	boom := errors.New("boom")
	err := store.WithinTransaction(ctx, func(txCtx context.Context) error {
		_, err := ledger.Append(txCtx, domain.AggregateKindStock, "sku-1", -2, "order")
		require.NoError(t, err)

		locked, err := aggregates.LockForUpdate(txCtx, domain.AggregateKindStock, "sku-1")
		require.NoError(t, err)
		locked.CurrentValue = 3
		require.NoError(t, aggregates.StoreCache(txCtx, locked))

		_, err = outbox.Enqueue(txCtx, domain.OutboxEvent{EventType: domain.EventTypeOrderPlaced, Payload: []byte(`{}`)})
		require.NoError(t, err)

		require.NoError(t, processed.Insert(txCtx, domain.ProcessedEvent{OriginEventID: "evt-1", ConsumedBy: "ledger"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	sum, _, err := ledger.Sum(ctx, domain.AggregateKindStock, "sku-1")
	require.NoError(t, err)
	require.Zero(t, sum)

	got, err := aggregates.Get(ctx, domain.AggregateKindStock, "sku-1")
	require.NoError(t, err)
	require.Equal(t, int64(5), got.CurrentValue)

	pending, err := outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	exists, err := processed.Exists(ctx, "evt-1")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestStore_NestedTransactionReusesOuter(t *testing.T) {
	store := memory.NewStore()
	ledger := memory.NewLedgerRepository(store)
	ctx := context.Background()

	err := store.WithinTransaction(ctx, func(txCtx context.Context) error {
		return store.WithinTransaction(txCtx, func(inner context.Context) error {
			_, err := ledger.Append(inner, domain.AggregateKindBalance, "acc-1", 100, "deposit")
			return err
		})
	})
	require.NoError(t, err)

	sum, _, err := ledger.Sum(ctx, domain.AggregateKindBalance, "acc-1")
	require.NoError(t, err)
	require.Equal(t, int64(100), sum)
}

func TestAggregateRepository_LockRequiresTransaction(t *testing.T) {
	store := memory.NewStore()
	aggregates := memory.NewAggregateRepository(store)
	ctx := context.Background()

	require.NoError(t, aggregates.Create(ctx, domain.Aggregate{Kind: domain.AggregateKindStock, ID: "sku-1"}))
	require.ErrorIs(t, aggregates.Create(ctx, domain.Aggregate{Kind: domain.AggregateKindStock, ID: "sku-1"}), domain.ErrAggregateAlreadyExists)

	_, err := aggregates.LockForUpdate(ctx, domain.AggregateKindStock, "sku-1")
	require.ErrorIs(t, err, domain.ErrNoTransaction)

	_, err = aggregates.Get(ctx, domain.AggregateKindBalance, "sku-1")
	require.ErrorIs(t, err, domain.ErrAggregateNotFound)
}

func TestLedgerRepository_Validation(t *testing.T) {
	store := memory.NewStore()
	ledger := memory.NewLedgerRepository(store)
	ctx := context.Background()

	_, err := ledger.Append(ctx, domain.AggregateKindStock, "sku-1", 0, "")
	require.ErrorIs(t, err, domain.ErrLedgerDeltaZero)

	_, err = ledger.Append(ctx, domain.AggregateKindStock, " ", 1, "")
	require.ErrorIs(t, err, domain.ErrAggregateIDRequired)

	_, err = ledger.Append(ctx, domain.AggregateKind("points"), "x", 1, "")
	require.ErrorIs(t, err, domain.ErrAggregateKindInvalid)

	for _, d := range []int64{3, 4, -1} {
		_, err := ledger.Append(ctx, domain.AggregateKindStock, "sku-1", d, "")
		require.NoError(t, err)
	}
	records, err := ledger.List(ctx, domain.AggregateKindStock, "sku-1", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, int64(3), records[0].Delta)
}
