package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
	"github.com/vladislavdragonenkov/paycore/internal/storage/memory"
)

func TestLedgerRepository_AggregateIDIsTrimmedOnEveryPath(t *testing.T) {
	store := memory.NewStore()
	ledger := memory.NewLedgerRepository(store)
	aggregates := memory.NewAggregateRepository(store)
	ctx := context.Background()

	require.NoError(t, aggregates.Create(ctx, domain.Aggregate{Kind: domain.AggregateKindStock, ID: " sku-1 "}))
	_, err := ledger.Append(ctx, domain.AggregateKindStock, "sku-1\t", 4, "restock")
	require.NoError(t, err)

	for _, id := range []string{"sku-1", " sku-1 "} {
		sum, _, err := ledger.Sum(ctx, domain.AggregateKindStock, id)
		require.NoError(t, err)
		require.Equal(t, int64(4), sum, id)

		records, err := ledger.List(ctx, domain.AggregateKindStock, id, 10)
		require.NoError(t, err)
		require.Len(t, records, 1, id)

		aggregate, err := aggregates.Get(ctx, domain.AggregateKindStock, id)
		require.NoError(t, err)
		require.Equal(t, "sku-1", aggregate.ID)
	}

	err = store.WithinTransaction(ctx, func(txCtx context.Context) error {
		locked, err := aggregates.LockForUpdate(txCtx, domain.AggregateKindStock, "  sku-1")
		if err != nil {
			return err
		}
		require.Equal(t, "sku-1", locked.ID)
		return nil
	})
	require.NoError(t, err)

	_, _, err = ledger.Sum(ctx, domain.AggregateKindStock, "   ")
	require.ErrorIs(t, err, domain.ErrAggregateIDRequired)
}

func TestLedgerRepository_ListByReason(t *testing.T) {
	store := memory.NewStore()
	ledger := memory.NewLedgerRepository(store)
	ctx := context.Background()

	for _, rec := range []struct {
		kind   domain.AggregateKind
		id     string
		delta  int64
		reason string
	}{
		{domain.AggregateKindStock, "sku-1", -2, "order o-1"},
		{domain.AggregateKindStock, "sku-1", 1, "release o-1"},
		{domain.AggregateKindStock, "sku-1", -5, "order o-2"},
		{domain.AggregateKindBalance, "user-1", -2, "order o-1"},
	} {
		_, err := ledger.Append(ctx, rec.kind, rec.id, rec.delta, rec.reason)
		require.NoError(t, err)
	}

	records, err := ledger.ListByReason(ctx, domain.AggregateKindStock, []string{"order o-1", "release o-1"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, int64(-2), records[0].Delta)
	require.Equal(t, int64(1), records[1].Delta)

	none, err := ledger.ListByReason(ctx, domain.AggregateKindStock, nil)
	require.NoError(t, err)
	require.Empty(t, none)

	_, err = ledger.ListByReason(ctx, domain.AggregateKind("bogus"), []string{"x"})
	require.ErrorIs(t, err, domain.ErrAggregateKindInvalid)
}
