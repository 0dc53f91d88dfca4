package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
	"github.com/vladislavdragonenkov/paycore/internal/service/ledger"
)

// CatalogService создаёт товары и счета.
type CatalogService interface {
	CreateProduct(ctx context.Context, productID string, openingStock int64) (domain.Aggregate, error)
	CreateAccount(ctx context.Context, accountID string, openingBalance int64) (domain.Aggregate, error)
}

// OrderService размещает и отменяет заказы.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd ledger.PlaceOrderCommand) (domain.OutboxEvent, error)
	RequestCancellation(ctx context.Context, orderPublicID, reason, traceID string) (domain.OutboxEvent, error)
	ReleaseStock(ctx context.Context, orderPublicID string, lines []ledger.OrderLine) error
}

// AggregateReader отдаёт пересчитанное из ledger значение агрегата.
type AggregateReader interface {
	ReadRecalculated(ctx context.Context, kind domain.AggregateKind, id string) (domain.Aggregate, error)
}

// PaymentLister перечисляет платежи заказа.
type PaymentLister interface {
	ListByOrder(ctx context.Context, orderPublicID string) ([]domain.Payment, error)
}

var (
	_ CatalogService  = (*ledger.Catalog)(nil)
	_ OrderService    = (*ledger.Orders)(nil)
	_ AggregateReader = (*ledger.Reaggregator)(nil)
)

// LedgerAPI: операционные ручки ledger-сервиса.
type LedgerAPI struct {
	catalog    CatalogService
	orders     OrderService
	aggregates AggregateReader
	payments   PaymentLister
	validate   *validator.Validate
}

// NewLedgerAPI создаёт обработчики ledger-сервиса.
func NewLedgerAPI(catalog CatalogService, orders OrderService, aggregates AggregateReader, payments PaymentLister) *LedgerAPI {
	return &LedgerAPI{
		catalog:    catalog,
		orders:     orders,
		aggregates: aggregates,
		payments:   payments,
		validate:   validator.New(),
	}
}

type createAggregateRequest struct {
	ID      string `json:"id" validate:"required,max=128"`
	Opening int64  `json:"opening"`
}

type aggregateResponse struct {
	Kind           domain.AggregateKind `json:"kind"`
	ID             string               `json:"id"`
	CurrentValue   int64                `json:"current_value"`
	LastRecordedAt *time.Time           `json:"last_recorded_at,omitempty"`
}

type orderLineRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Qty       int64  `json:"qty" validate:"gt=0"`
}

type placeOrderRequest struct {
	OrderPublicID string             `json:"order_public_id" validate:"required"`
	UserPublicID  string             `json:"user_public_id" validate:"required"`
	OrderNumber   string             `json:"order_number"`
	Provider      string             `json:"provider" validate:"required"`
	MID           string             `json:"mid" validate:"required"`
	Amount        int64              `json:"amount" validate:"gt=0"`
	Lines         []orderLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type releaseStockRequest struct {
	Lines []orderLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type enqueuedResponse struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
}

type paymentResponse struct {
	ID              int64              `json:"id"`
	Type            domain.PaymentType `json:"type"`
	ProcessID       int64              `json:"process_id"`
	Provider        string             `json:"provider"`
	Amount          int64              `json:"amount"`
	PGTransaction   string             `json:"pg_transaction,omitempty"`
	PGApprovalNo    string             `json:"pg_approval_no,omitempty"`
	OriginPaymentID *int64             `json:"origin_payment_id,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

func (a *LedgerAPI) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := decodeJSON(w, r, dst); err != nil {
		return err
	}
	if err := a.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (a *LedgerAPI) createProduct(w http.ResponseWriter, r *http.Request) {
	a.createAggregate(w, r, a.catalog.CreateProduct)
}

func (a *LedgerAPI) createAccount(w http.ResponseWriter, r *http.Request) {
	a.createAggregate(w, r, a.catalog.CreateAccount)
}

func (a *LedgerAPI) createAggregate(w http.ResponseWriter, r *http.Request, create func(context.Context, string, int64) (domain.Aggregate, error)) {
	var req createAggregateRequest
	if err := a.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	aggregate, err := create(r.Context(), req.ID, req.Opening)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAggregateResponse(aggregate))
}

func (a *LedgerAPI) getAggregate(w http.ResponseWriter, r *http.Request) {
	kind := domain.AggregateKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		writeError(w, domain.ErrAggregateKindInvalid)
		return
	}
	aggregate, err := a.aggregates.ReadRecalculated(r.Context(), kind, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAggregateResponse(aggregate))
}

func (a *LedgerAPI) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := a.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	cmd := ledger.PlaceOrderCommand{
		Request: domain.RequestContext{
			Provider:      req.Provider,
			MID:           req.MID,
			Amount:        req.Amount,
			OrderPublicID: req.OrderPublicID,
			UserPublicID:  req.UserPublicID,
			OrderNumber:   req.OrderNumber,
		},
		Lines:   toOrderLines(req.Lines),
		TraceID: middleware.GetReqID(r.Context()),
	}
	event, err := a.orders.PlaceOrder(r.Context(), cmd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueuedResponse{EventID: event.EventID, EventType: event.EventType})
}

func (a *LedgerAPI) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if r.ContentLength != 0 {
		if err := a.decode(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	event, err := a.orders.RequestCancellation(r.Context(), chi.URLParam(r, "orderID"), req.Reason, middleware.GetReqID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueuedResponse{EventID: event.EventID, EventType: event.EventType})
}

func (a *LedgerAPI) releaseStock(w http.ResponseWriter, r *http.Request) {
	var req releaseStockRequest
	if err := a.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := a.orders.ReleaseStock(r.Context(), chi.URLParam(r, "orderID"), toOrderLines(req.Lines)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *LedgerAPI) listPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := a.payments.ListByOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]paymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, paymentResponse{
			ID:              p.ID,
			Type:            p.Type,
			ProcessID:       p.ProcessID,
			Provider:        p.Provider,
			Amount:          p.Amount,
			PGTransaction:   p.PGTransaction,
			PGApprovalNo:    p.PGApprovalNo,
			OriginPaymentID: p.OriginPaymentID,
			CreatedAt:       p.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": out})
}

func toOrderLines(lines []orderLineRequest) []ledger.OrderLine {
	out := make([]ledger.OrderLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, ledger.OrderLine{ProductID: line.ProductID, Qty: line.Qty})
	}
	return out
}

func toAggregateResponse(a domain.Aggregate) aggregateResponse {
	resp := aggregateResponse{Kind: a.Kind, ID: a.ID, CurrentValue: a.CurrentValue}
	if !a.LastRecordedAt.IsZero() {
		recorded := a.LastRecordedAt
		resp.LastRecordedAt = &recorded
	}
	return resp
}
