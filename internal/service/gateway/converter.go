// Package gateway ведёт PaymentProcess по state machine: захват, вызов провайдера,
// фиксация подтверждения и терминальный переход вместе с outbox-событием.
package gateway

import (
	"strings"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
	"github.com/vladislavdragonenkov/paycore/internal/provider"
)

// Converter строит строки PaymentProcess из upstream-запросов.
type Converter struct {
	ids      domain.IDGenerator
	registry *provider.Registry
}

// NewConverter создаёт конвертер. Строки создаются только для провайдеров из registry.
func NewConverter(ids domain.IDGenerator, registry *provider.Registry) *Converter {
	return &Converter{ids: ids, registry: registry}
}

// FromRequest создаёт строку одобрения в статусе UNKNOWN. Незарегистрированный
// провайдер отклоняется с domain.ErrUnknownProvider.
func (c *Converter) FromRequest(req domain.RequestContext) (*domain.PaymentProcess, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	provider := strings.ToUpper(strings.TrimSpace(req.Provider))
	if _, err := c.registry.Get(provider); err != nil {
		return nil, err
	}
	return &domain.PaymentProcess{
		ID:                 c.ids.NextID(),
		Kind:               domain.ProcessKindApprove,
		OrderPublicID:      req.OrderPublicID,
		UserPublicID:       req.UserPublicID,
		OrderNumber:        req.OrderNumber,
		Provider:           provider,
		MID:                req.MID,
		Amount:             req.Amount,
		Status:             domain.ProcessStatusUnknown,
		GatewayReferenceID: domain.GatewayReferenceID(provider, req.MID),
		ActiveRequestKey:   domain.ActiveRequestKey(provider, req.MID, domain.ProcessKindApprove),
	}, nil
}

// CancellationOf создаёт строку отмены для одобренной строки: сумма с обратным
// знаком, ссылка на исходную строку, свежий статус UNKNOWN.
func (c *Converter) CancellationOf(origin *domain.PaymentProcess) (*domain.PaymentProcess, error) {
	if origin.IsCancellation() || origin.Status != domain.ProcessStatusSuccess {
		return nil, domain.ErrCancelOriginNotApproved
	}
	originID := origin.ID
	return &domain.PaymentProcess{
		ID:                 c.ids.NextID(),
		Kind:               domain.ProcessKindCancel,
		OrderPublicID:      origin.OrderPublicID,
		UserPublicID:       origin.UserPublicID,
		OrderNumber:        origin.OrderNumber,
		Provider:           origin.Provider,
		MID:                origin.MID,
		Amount:             -origin.Amount,
		Status:             domain.ProcessStatusUnknown,
		GatewayReferenceID: domain.GatewayReferenceID(origin.Provider, origin.MID),
		ActiveRequestKey:   domain.ActiveRequestKey(origin.Provider, origin.MID, domain.ProcessKindCancel),
		OriginProcessID:    &originID,
	}, nil
}
