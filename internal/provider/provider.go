// Package provider описывает адаптеры внешних платёжных провайдеров и реестр для их выбора.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

// ErrMalformedWebhook: тело webhook не удалось разобрать.
var ErrMalformedWebhook = errors.New("malformed provider webhook")

// Adapter: минимальный контракт провайдера, который нужен state machine шлюза.
type Adapter interface {
	ID() string
	Endpoint() string
	PrepareRequest(ctx context.Context, process *domain.PaymentProcess) ([]byte, error)
	ParseAcknowledgementResponse(body []byte, httpStatus int) (domain.Ack, error)
	IsSuccess(ack domain.Ack) bool
}

// Caller реализуют провайдеры, которые обслуживаются внутри процесса без HTTP.
type Caller interface {
	Call(ctx context.Context, process *domain.PaymentProcess, payload []byte) (body []byte, httpStatus int, err error)
}

// Settler реализуют провайдеры с двухфазным расчётом: после подтверждения запроса
// итог получается отдельным шагом PENDING → PROCESSING → terminal.
type Settler interface {
	Settle(ctx context.Context, process domain.PaymentProcess) (settlement domain.Settlement, approved bool, err error)
}

// WebhookParser реализуют провайдеры, присылающие результат асинхронно.
type WebhookParser interface {
	ParseWebhook(body []byte) (WebhookResult, error)
}

// WebhookResult: разобранное уведомление провайдера.
type WebhookResult struct {
	GatewayReferenceID string
	PGTransaction      string
	Approved           bool
	Settlement         domain.Settlement
}

// Registry выбирает адаптер по идентификатору провайдера.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry создаёт реестр из набора адаптеров. Идентификаторы сравниваются без учёта регистра.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		id := strings.ToUpper(a.ID())
		if _, dup := r.adapters[id]; dup {
			return nil, fmt.Errorf("provider %s registered twice", id)
		}
		r.adapters[id] = a
	}
	return r, nil
}

// Get возвращает адаптер или domain.ErrUnknownProvider.
func (r *Registry) Get(id string) (Adapter, error) {
	a, ok := r.adapters[strings.ToUpper(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, id)
	}
	return a, nil
}

// IDs возвращает отсортированный список зарегистрированных провайдеров.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SettlerIDs возвращает провайдеров с двухфазным расчётом.
func (r *Registry) SettlerIDs() []string {
	var ids []string
	for _, id := range r.IDs() {
		if _, ok := r.adapters[id].(Settler); ok {
			ids = append(ids, id)
		}
	}
	return ids
}
