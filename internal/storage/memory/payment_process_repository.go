package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

type paymentProcessRepositoryInMemory struct {
	store *Store
}

// NewPaymentProcessRepository создаёт in-memory реализацию PaymentProcessRepository.
func NewPaymentProcessRepository(store *Store) domain.PaymentProcessRepository {
	return &paymentProcessRepositoryInMemory{store: store}
}

func (r *paymentProcessRepositoryInMemory) Create(ctx context.Context, p *domain.PaymentProcess) error {
	if p == nil {
		return domain.ErrProcessNotFound
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.processes[p.ID]; exists {
		return fmt.Errorf("payment process %d already exists", p.ID)
	}
	if p.ActiveRequestKey != "" {
		if _, busy := s.activeKeys[p.ActiveRequestKey]; busy {
			return fmt.Errorf("%w: %s", domain.ErrProcessAlreadyActive, p.ActiveRequestKey)
		}
	}

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.UpdatedAt = p.CreatedAt

	stored := cloneProcess(*p)
	s.processes[p.ID] = &stored
	if p.ActiveRequestKey != "" {
		s.activeKeys[p.ActiveRequestKey] = p.ID
	}

	id, key := p.ID, p.ActiveRequestKey
	onRollback(ctx, func() {
		delete(s.processes, id)
		if key != "" {
			delete(s.activeKeys, key)
		}
	})
	return nil
}

func (r *paymentProcessRepositoryInMemory) Get(_ context.Context, id int64) (domain.PaymentProcess, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	p, ok := r.store.processes[id]
	if !ok {
		return domain.PaymentProcess{}, domain.ErrProcessNotFound
	}
	return cloneProcess(*p), nil
}

// FindByGatewayReference отдаёт предпочтение строке, которая ещё в полёте.
func (r *paymentProcessRepositoryInMemory) FindByGatewayReference(_ context.Context, ref string) (domain.PaymentProcess, error) {
	return r.findLatest(func(p *domain.PaymentProcess) bool {
		return p.GatewayReferenceID == ref
	}, true)
}

func (r *paymentProcessRepositoryInMemory) FindByPGTransaction(_ context.Context, provider, pgTransaction string) (domain.PaymentProcess, error) {
	provider = strings.ToUpper(provider)
	return r.findLatest(func(p *domain.PaymentProcess) bool {
		return p.Provider == provider && p.PGTransaction != "" && p.PGTransaction == pgTransaction
	}, false)
}

func (r *paymentProcessRepositoryInMemory) FindApprovedByOrder(_ context.Context, orderPublicID string) (domain.PaymentProcess, error) {
	return r.findLatest(func(p *domain.PaymentProcess) bool {
		return p.OrderPublicID == orderPublicID &&
			p.Kind == domain.ProcessKindApprove &&
			p.Status == domain.ProcessStatusSuccess
	}, false)
}

func (r *paymentProcessRepositoryInMemory) ListByStatus(_ context.Context, status domain.ProcessStatus, providers []string, limit int) ([]domain.PaymentProcess, error) {
	return r.list(providers, limit, func(p *domain.PaymentProcess) bool {
		return p.Status == status
	}), nil
}

func (r *paymentProcessRepositoryInMemory) ListSettleable(_ context.Context, providers []string, limit int) ([]domain.PaymentProcess, error) {
	return r.list(providers, limit, func(p *domain.PaymentProcess) bool {
		return p.Status == domain.ProcessStatusPending && p.AckReceivedAt != nil && p.PGTransaction != ""
	}), nil
}

// list отбирает строки по match и провайдерам, самые старые первыми.
func (r *paymentProcessRepositoryInMemory) list(providers []string, limit int, match func(p *domain.PaymentProcess) bool) []domain.PaymentProcess {
	if limit <= 0 {
		limit = 20
	}

	allowed := make(map[string]struct{}, len(providers))
	for _, p := range providers {
		allowed[strings.ToUpper(p)] = struct{}{}
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make([]domain.PaymentProcess, 0, limit)
	for _, p := range r.store.processes {
		if !match(p) {
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[p.Provider]; !ok {
				continue
			}
		}
		result = append(result, cloneProcess(*p))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result
}

func (r *paymentProcessRepositoryInMemory) CasClaim(ctx context.Context, id int64, requestPayload []byte, now time.Time) (bool, error) {
	return r.cas(ctx, id, domain.ProcessStatusUnknown, func(p *domain.PaymentProcess) {
		at := now.UTC()
		p.Status = domain.ProcessStatusPending
		p.RequestAttemptCount++
		p.RequestedAt = &at
		p.RequestPayload = append([]byte(nil), requestPayload...)
		p.UpdatedAt = at
	})
}

func (r *paymentProcessRepositoryInMemory) CasRecordAck(ctx context.Context, id int64, ack domain.Ack, responsePayload []byte, now time.Time) (bool, error) {
	return r.cas(ctx, id, domain.ProcessStatusPending, func(p *domain.PaymentProcess) {
		at := now.UTC()
		p.AckReceivedAt = &at
		p.Code = ack.Code
		p.Message = ack.Message
		p.LastPGResponseCode = ack.HTTPStatus
		p.ResponsePayload = append([]byte(nil), responsePayload...)
		if ack.PGTransaction != "" {
			p.PGTransaction = ack.PGTransaction
		}
		if ack.ApprovalNo != "" {
			p.PGApprovalNo = ack.ApprovalNo
		}
		p.UpdatedAt = at
	})
}

func (r *paymentProcessRepositoryInMemory) CasTransition(ctx context.Context, id int64, from, to domain.ProcessStatus, settlement domain.Settlement) (bool, error) {
	if !domain.CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	return r.cas(ctx, id, from, func(p *domain.PaymentProcess) {
		at := settlement.At
		if at.IsZero() {
			at = time.Now()
		}
		p.Status = to
		p.UpdatedAt = at.UTC()
		if settlement.PGTransaction != "" {
			p.PGTransaction = settlement.PGTransaction
		}
		if settlement.PGApprovalNo != "" {
			p.PGApprovalNo = settlement.PGApprovalNo
		}
		if settlement.Code != "" {
			p.Code = settlement.Code
		}
		if settlement.Message != "" {
			p.Message = settlement.Message
		}
		if settlement.ResponsePayload != nil {
			p.ResponsePayload = append([]byte(nil), settlement.ResponsePayload...)
		}
	})
}

func (r *paymentProcessRepositoryInMemory) CasUpdateWebhookResponse(ctx context.Context, id int64, to domain.ProcessStatus, settlement domain.Settlement) (bool, error) {
	if !to.IsTerminal() {
		return false, fmt.Errorf("%w: webhook target %s", domain.ErrInvalidTransition, to)
	}
	return r.CasTransition(ctx, id, domain.ProcessStatusPending, to, settlement)
}

// cas применяет mutate, только если строка находится в статусе expected.
// Терминальный статус освобождает ключ активного запроса.
func (r *paymentProcessRepositoryInMemory) cas(ctx context.Context, id int64, expected domain.ProcessStatus, mutate func(p *domain.PaymentProcess)) (bool, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.processes[id]
	if !ok || current.Status != expected {
		return false, nil
	}

	previous := cloneProcess(*current)
	updated := cloneProcess(*current)
	mutate(&updated)

	releasedKey := ""
	if updated.Status.IsTerminal() && updated.ActiveRequestKey != "" {
		releasedKey = updated.ActiveRequestKey
		updated.ActiveRequestKey = ""
		delete(s.activeKeys, releasedKey)
	}
	s.processes[id] = &updated

	onRollback(ctx, func() {
		restored := previous
		s.processes[id] = &restored
		if releasedKey != "" {
			s.activeKeys[releasedKey] = id
		}
	})
	return true, nil
}

func (r *paymentProcessRepositoryInMemory) findLatest(match func(p *domain.PaymentProcess) bool, preferActive bool) (domain.PaymentProcess, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var best *domain.PaymentProcess
	for _, p := range r.store.processes {
		if !match(p) {
			continue
		}
		if best == nil || newer(p, best, preferActive) {
			best = p
		}
	}
	if best == nil {
		return domain.PaymentProcess{}, domain.ErrProcessNotFound
	}
	return cloneProcess(*best), nil
}

func newer(candidate, current *domain.PaymentProcess, preferActive bool) bool {
	if preferActive {
		ca, cu := candidate.ActiveRequestKey != "", current.ActiveRequestKey != ""
		if ca != cu {
			return ca
		}
	}
	if candidate.CreatedAt.Equal(current.CreatedAt) {
		return candidate.ID > current.ID
	}
	return candidate.CreatedAt.After(current.CreatedAt)
}

func cloneProcess(src domain.PaymentProcess) domain.PaymentProcess {
	dst := src
	dst.RequestPayload = append([]byte(nil), src.RequestPayload...)
	dst.ResponsePayload = append([]byte(nil), src.ResponsePayload...)
	if src.RequestedAt != nil {
		v := *src.RequestedAt
		dst.RequestedAt = &v
	}
	if src.AckReceivedAt != nil {
		v := *src.AckReceivedAt
		dst.AckReceivedAt = &v
	}
	if src.OriginProcessID != nil {
		v := *src.OriginProcessID
		dst.OriginProcessID = &v
	}
	return dst
}

var _ domain.PaymentProcessRepository = (*paymentProcessRepositoryInMemory)(nil)
