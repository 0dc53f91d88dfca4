package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
	"github.com/vladislavdragonenkov/paycore/internal/health"
	"github.com/vladislavdragonenkov/paycore/internal/provider"
	"github.com/vladislavdragonenkov/paycore/internal/service/gateway"
	"github.com/vladislavdragonenkov/paycore/internal/service/ledger"
	"github.com/vladislavdragonenkov/paycore/internal/storage/memory"
)

type stubApplier struct {
	provider string
	body     []byte
	outcome  gateway.Outcome
	err      error
}

func (s *stubApplier) ApplyWebhook(_ context.Context, providerID string, body []byte) (gateway.Outcome, error) {
	s.provider = providerID
	s.body = body
	return s.outcome, s.err
}

type ledgerEnv struct {
	router   http.Handler
	outbox   domain.OutboxRepository
	payments domain.PaymentRepository
}

func newLedgerEnv(t *testing.T) *ledgerEnv {
	t.Helper()
	store := memory.NewStore()
	aggregates := memory.NewAggregateRepository(store)
	outbox := memory.NewOutboxRepository(store)
	payments := memory.NewPaymentRepository(store)
	ledgerRepo := memory.NewLedgerRepository(store)
	reaggregator := ledger.NewReaggregator(store, ledgerRepo, aggregates, nil)

	api := NewLedgerAPI(
		ledger.NewCatalog(store, aggregates, reaggregator, nil),
		ledger.NewOrders(store, ledgerRepo, reaggregator, outbox, nil),
		reaggregator,
		payments,
	)
	return &ledgerEnv{
		router:   NewRouter(Options{Ledger: api, Health: health.NewHandler("ledger", "test")}),
		outbox:   outbox,
		payments: payments,
	}
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		data, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookRoute(t *testing.T) {
	applier := &stubApplier{outcome: gateway.OutcomeFinalized}
	router := NewRouter(Options{Webhooks: applier})

	rec := do(t, router, http.MethodPost, "/webhooks/pghub", `{"merchant_reference":"PGHUB-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "pghub", applier.provider)
	require.JSONEq(t, `{"merchant_reference":"PGHUB-1"}`, string(applier.body))

	var resp webhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, gateway.OutcomeFinalized, resp.Outcome)
}

func TestWebhookRouteErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		body string
		want int
	}{
		{name: "unknown provider", err: domain.ErrUnknownProvider, body: "{}", want: http.StatusNotFound},
		{name: "no webhook support", err: gateway.ErrWebhookUnsupported, body: "{}", want: http.StatusNotFound},
		{name: "unknown process", err: domain.ErrProcessNotFound, body: "{}", want: http.StatusNotFound},
		{name: "malformed", err: provider.ErrMalformedWebhook, body: "{}", want: http.StatusBadRequest},
		{name: "storage failure", err: errors.New("connection reset"), body: "{}", want: http.StatusInternalServerError},
		{name: "empty body", body: "", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(Options{Webhooks: &stubApplier{err: tt.err}})
			rec := do(t, router, http.MethodPost, "/webhooks/PGHUB", tt.body)
			require.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestOpsRoutes(t *testing.T) {
	router := NewRouter(Options{Health: health.NewHandler("gateway", "test")})

	require.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/livez", nil).Code)
	require.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/healthz", nil).Code)
	require.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/readyz", nil).Code)
	require.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/metrics", nil).Code)

	// Маршруты ledger не поднимаются без зависимостей.
	require.Equal(t, http.StatusNotFound, do(t, router, http.MethodPost, "/v1/orders", "{}").Code)
	require.Equal(t, http.StatusNotFound, do(t, router, http.MethodPost, "/webhooks/DUMMY", "{}").Code)
}

func TestLedgerPlaceOrderFlow(t *testing.T) {
	env := newLedgerEnv(t)

	rec := do(t, env.router, http.MethodPost, "/v1/products", map[string]any{"id": "sku-1", "opening": 5})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = do(t, env.router, http.MethodPost, "/v1/accounts", map[string]any{"id": "user-1", "opening": 10000})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, env.router, http.MethodPost, "/v1/products", map[string]any{"id": "sku-1"})
	require.Equal(t, http.StatusConflict, rec.Code)

	order := map[string]any{
		"order_public_id": "order-1",
		"user_public_id":  "user-1",
		"provider":        "DUMMY",
		"mid":             "mid-1",
		"amount":          2500,
		"lines":           []map[string]any{{"product_id": "sku-1", "qty": 2}},
	}
	rec = do(t, env.router, http.MethodPost, "/v1/orders", order)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var enqueued enqueuedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &enqueued))
	require.Equal(t, domain.EventTypeOrderPlaced, enqueued.EventType)

	stored, err := env.outbox.Get(context.Background(), enqueued.EventID)
	require.NoError(t, err)
	require.Equal(t, domain.TopicOrderEvents, stored.Topic)

	rec = do(t, env.router, http.MethodGet, "/v1/aggregates/stock/sku-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var aggregate aggregateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &aggregate))
	require.Equal(t, int64(3), aggregate.CurrentValue)

	// Нехватка остатка откатывает заказ целиком.
	order["order_public_id"] = "order-2"
	order["mid"] = "mid-2"
	order["lines"] = []map[string]any{{"product_id": "sku-1", "qty": 4}}
	rec = do(t, env.router, http.MethodPost, "/v1/orders", order)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, env.router, http.MethodPost, "/v1/orders/order-1/release", map[string]any{
		"lines": []map[string]any{{"product_id": "sku-1", "qty": 2}},
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, env.router, http.MethodGet, "/v1/aggregates/stock/sku-1", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &aggregate))
	require.Equal(t, int64(5), aggregate.CurrentValue)
}

func TestLedgerValidation(t *testing.T) {
	env := newLedgerEnv(t)

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{name: "broken json", path: "/v1/orders", body: "{", want: http.StatusBadRequest},
		{name: "unknown field", path: "/v1/products", body: `{"id":"a","color":"red"}`, want: http.StatusBadRequest},
		{name: "missing lines", path: "/v1/orders", body: map[string]any{
			"order_public_id": "o", "user_public_id": "u", "provider": "DUMMY", "mid": "m", "amount": 1,
		}, want: http.StatusBadRequest},
		{name: "zero qty", path: "/v1/orders", body: map[string]any{
			"order_public_id": "o", "user_public_id": "u", "provider": "DUMMY", "mid": "m", "amount": 1,
			"lines": []map[string]any{{"product_id": "p", "qty": 0}},
		}, want: http.StatusBadRequest},
		{name: "missing id", path: "/v1/accounts", body: map[string]any{"opening": 1}, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, do(t, env.router, http.MethodPost, tt.path, tt.body).Code)
		})
	}

	require.Equal(t, http.StatusUnprocessableEntity, do(t, env.router, http.MethodGet, "/v1/aggregates/wallet/x", nil).Code)
	require.Equal(t, http.StatusNotFound, do(t, env.router, http.MethodGet, "/v1/aggregates/stock/missing", nil).Code)
}

func TestLedgerCancelAndPayments(t *testing.T) {
	env := newLedgerEnv(t)

	rec := do(t, env.router, http.MethodPost, "/v1/orders/order-9/cancel", map[string]any{"reason": "customer"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var enqueued enqueuedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &enqueued))
	require.Equal(t, domain.EventTypeOrderCancelRequested, enqueued.EventType)

	rec = do(t, env.router, http.MethodPost, "/v1/orders/order-9/cancel", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.NoError(t, env.payments.Insert(context.Background(), &domain.Payment{
		ID:            7,
		Type:          domain.PaymentTypeApprove,
		ProcessID:     42,
		OrderPublicID: "order-9",
		UserPublicID:  "user-1",
		Provider:      "DUMMY",
		Amount:        2500,
		SourceEventID: "evt-1",
	}))

	rec = do(t, env.router, http.MethodGet, "/v1/orders/order-9/payments", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Payments []paymentResponse `json:"payments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Payments, 1)
	require.Equal(t, int64(42), body.Payments[0].ProcessID)
}
