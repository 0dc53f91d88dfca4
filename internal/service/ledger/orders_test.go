package ledger

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

func validRequest(orderID string) domain.RequestContext {
	return domain.RequestContext{
		Provider:      "DUMMY",
		MID:           "mid-" + orderID,
		Amount:        1000,
		OrderPublicID: orderID,
		UserPublicID:  "user-1",
		OrderNumber:   "N-" + orderID,
	}
}

func TestOrders_PlaceOrderReservesStockAndEnqueuesEvent(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()

	_, err := f.catalog.CreateProduct(ctx, "sku-1", 10)
	require.NoError(t, err)
	_, err = f.catalog.CreateProduct(ctx, "sku-2", 4)
	require.NoError(t, err)

	event, err := f.orders.PlaceOrder(ctx, PlaceOrderCommand{
		Request: validRequest("order-1"),
		Lines:   []OrderLine{{ProductID: "sku-1", Qty: 3}, {ProductID: "sku-2", Qty: 4}},
		TraceID: "trace-1",
	})
	require.NoError(t, err)
	require.Equal(t, domain.EventTypeOrderPlaced, event.EventType)
	require.Equal(t, domain.TopicOrderEvents, event.Topic)

	var payload domain.OrderPlacedPayload
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	require.Equal(t, "order-1", payload.Request.OrderPublicID)

	sku1, err := f.aggregates.Get(ctx, domain.AggregateKindStock, "sku-1")
	require.NoError(t, err)
	require.Equal(t, int64(7), sku1.CurrentValue)

	sku2, err := f.aggregates.Get(ctx, domain.AggregateKindStock, "sku-2")
	require.NoError(t, err)
	require.Zero(t, sku2.CurrentValue)
}

func TestOrders_InsufficientStockRollsBackWholeOrder(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()

	_, err := f.catalog.CreateProduct(ctx, "sku-1", 10)
	require.NoError(t, err)
	_, err = f.catalog.CreateProduct(ctx, "sku-2", 1)
	require.NoError(t, err)

	_, err = f.orders.PlaceOrder(ctx, PlaceOrderCommand{
		Request: validRequest("order-1"),
		Lines:   []OrderLine{{ProductID: "sku-1", Qty: 3}, {ProductID: "sku-2", Qty: 2}},
	})
	require.ErrorIs(t, err, domain.ErrNegativeStock)

	sum, _, err := f.ledger.Sum(ctx, domain.AggregateKindStock, "sku-1")
	require.NoError(t, err)
	require.Equal(t, int64(10), sum)

	pending, err := f.outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestOrders_Validation(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()

	_, err := f.orders.PlaceOrder(ctx, PlaceOrderCommand{Request: validRequest("order-1")})
	require.ErrorIs(t, err, domain.ErrOrderLinesRequired)

	_, err = f.orders.PlaceOrder(ctx, PlaceOrderCommand{
		Request: validRequest("order-1"),
		Lines:   []OrderLine{{ProductID: "sku-1", Qty: 0}},
	})
	require.ErrorIs(t, err, domain.ErrOrderLineQtyInvalid)

	bad := validRequest("order-1")
	bad.Amount = 0
	_, err = f.orders.PlaceOrder(ctx, PlaceOrderCommand{Request: bad, Lines: []OrderLine{{ProductID: "sku-1", Qty: 1}}})
	require.ErrorIs(t, err, domain.ErrPaymentAmountInvalid)
}

func TestOrders_ReleaseStockAndCancellationRequest(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()

	_, err := f.catalog.CreateProduct(ctx, "sku-1", 2)
	require.NoError(t, err)
	_, err = f.orders.PlaceOrder(ctx, PlaceOrderCommand{
		Request: validRequest("order-1"),
		Lines:   []OrderLine{{ProductID: "sku-1", Qty: 2}},
	})
	require.NoError(t, err)

	require.NoError(t, f.orders.ReleaseStock(ctx, "order-1", []OrderLine{{ProductID: "sku-1", Qty: 2}}))
	sku, err := f.aggregates.Get(ctx, domain.AggregateKindStock, "sku-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), sku.CurrentValue)

	event, err := f.orders.RequestCancellation(ctx, "order-1", "customer request", "trace-2")
	require.NoError(t, err)
	require.Equal(t, domain.EventTypeOrderCancelRequested, event.EventType)

	_, err = f.orders.RequestCancellation(ctx, "", "", "")
	require.ErrorIs(t, err, domain.ErrOrderIDRequired)
}

func TestOrders_PlaceOrderMergesAndSortsLines(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()

	_, err := f.catalog.CreateProduct(ctx, "sku-1", 10)
	require.NoError(t, err)
	_, err = f.catalog.CreateProduct(ctx, "sku-2", 10)
	require.NoError(t, err)

	_, err = f.orders.PlaceOrder(ctx, PlaceOrderCommand{
		Request: validRequest("order-1"),
		Lines: []OrderLine{
			{ProductID: "sku-2", Qty: 1},
			{ProductID: "sku-1", Qty: 2},
			{ProductID: " sku-1 ", Qty: 3},
		},
	})
	require.NoError(t, err)

	records, err := f.ledger.ListByReason(ctx, domain.AggregateKindStock, []string{"order order-1"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "sku-1", records[0].AggregateID)
	require.Equal(t, int64(-5), records[0].Delta)
	require.Equal(t, "sku-2", records[1].AggregateID)
	require.Equal(t, int64(-1), records[1].Delta)
}

func TestMergeLines(t *testing.T) {
	cases := []struct {
		name    string
		lines   []OrderLine
		want    []OrderLine
		wantErr error
	}{
		{
			name:  "sorted by product",
			lines: []OrderLine{{ProductID: "b", Qty: 1}, {ProductID: "a", Qty: 1}},
			want:  []OrderLine{{ProductID: "a", Qty: 1}, {ProductID: "b", Qty: 1}},
		},
		{
			name:  "duplicates summed",
			lines: []OrderLine{{ProductID: "a", Qty: 1}, {ProductID: "b", Qty: 2}, {ProductID: "a", Qty: 4}},
			want:  []OrderLine{{ProductID: "a", Qty: 5}, {ProductID: "b", Qty: 2}},
		},
		{
			name:    "non-positive qty",
			lines:   []OrderLine{{ProductID: "a", Qty: -1}},
			wantErr: domain.ErrOrderLineQtyInvalid,
		},
		{
			name:    "blank product",
			lines:   []OrderLine{{ProductID: "  ", Qty: 1}},
			wantErr: domain.ErrAggregateIDRequired,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := mergeLines(tc.lines)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestOrders_ReleaseReservedReturnsOnlyWhatOrderHolds(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()

	_, err := f.catalog.CreateProduct(ctx, "sku-1", 10)
	require.NoError(t, err)
	_, err = f.catalog.CreateProduct(ctx, "sku-2", 10)
	require.NoError(t, err)
	_, err = f.orders.PlaceOrder(ctx, PlaceOrderCommand{
		Request: validRequest("order-1"),
		Lines:   []OrderLine{{ProductID: "sku-1", Qty: 4}, {ProductID: "sku-2", Qty: 2}},
	})
	require.NoError(t, err)
	_, err = f.orders.PlaceOrder(ctx, PlaceOrderCommand{
		Request: validRequest("order-other"),
		Lines:   []OrderLine{{ProductID: "sku-1", Qty: 1}},
	})
	require.NoError(t, err)

	require.NoError(t, f.orders.ReleaseStock(ctx, "order-1", []OrderLine{{ProductID: "sku-1", Qty: 1}}))

	released, err := f.orders.ReleaseReserved(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, []OrderLine{{ProductID: "sku-1", Qty: 3}, {ProductID: "sku-2", Qty: 2}}, released)

	again, err := f.orders.ReleaseReserved(ctx, "order-1")
	require.NoError(t, err)
	require.Empty(t, again)

	sku1, err := f.aggregates.Get(ctx, domain.AggregateKindStock, "sku-1")
	require.NoError(t, err)
	require.Equal(t, int64(9), sku1.CurrentValue)
	sku2, err := f.aggregates.Get(ctx, domain.AggregateKindStock, "sku-2")
	require.NoError(t, err)
	require.Equal(t, int64(10), sku2.CurrentValue)
}
