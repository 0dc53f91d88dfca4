package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
	"github.com/vladislavdragonenkov/paycore/internal/provider"
	"github.com/vladislavdragonenkov/paycore/internal/storage/memory"
)

type sequenceIDs struct {
	next atomic.Int64
}

func (s *sequenceIDs) NextID() int64 {
	return s.next.Add(1)
}

// scriptedSender отвечает заранее заданным телом для HTTP-провайдеров
// и делегирует in-process провайдерам.
type scriptedSender struct {
	body   []byte
	status int
	err    error
	calls  atomic.Int64
}

func (s *scriptedSender) Send(ctx context.Context, adapter provider.Adapter, process *domain.PaymentProcess, payload []byte) ([]byte, int, error) {
	s.calls.Add(1)
	if caller, ok := adapter.(provider.Caller); ok {
		return caller.Call(ctx, process, payload)
	}
	if s.err != nil {
		return nil, 0, s.err
	}
	status := s.status
	if status == 0 {
		status = http.StatusOK
	}
	return s.body, status, nil
}

type failingOutbox struct {
	domain.OutboxRepository
}

func (failingOutbox) Enqueue(context.Context, domain.OutboxEvent) (domain.OutboxEvent, error) {
	return domain.OutboxEvent{}, errors.New("outbox unavailable")
}

type gatewayFixture struct {
	store     *memory.Store
	processes domain.PaymentProcessRepository
	outbox    domain.OutboxRepository
	processed domain.ProcessedEventRepository
	dummy     *provider.Dummy
	registry  *provider.Registry
	sender    *scriptedSender
	ids       *sequenceIDs
	converter *Converter
	processor *Processor
}

func newGatewayFixture(t *testing.T, opts ProcessorOptions) *gatewayFixture {
	t.Helper()

	store := memory.NewStore()
	dummy := provider.NewDummy()
	hub := provider.NewPGHub(provider.PGHubConfig{ID: "PGHUB", Endpoint: "http://pghub.invalid/pay", MerchantID: "m-1", Currency: "USD", MinorUnits: 2})
	registry, err := provider.NewRegistry(dummy, hub)
	require.NoError(t, err)

	f := &gatewayFixture{
		store:     store,
		processes: memory.NewPaymentProcessRepository(store),
		outbox:    memory.NewOutboxRepository(store),
		processed: memory.NewProcessedEventRepository(store),
		dummy:     dummy,
		registry:  registry,
		sender:    &scriptedSender{},
		ids:       &sequenceIDs{},
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC) }
	}
	f.converter = NewConverter(f.ids, registry)
	f.processor = NewProcessor(store, f.processes, f.outbox, registry, f.sender, opts, nil)
	return f
}

func (f *gatewayFixture) createApproval(t *testing.T, providerID, mid string, amount int64) domain.PaymentProcess {
	t.Helper()
	process, err := f.converter.FromRequest(domain.RequestContext{
		Provider:      providerID,
		MID:           mid,
		Amount:        amount,
		OrderPublicID: "order-" + mid,
		UserPublicID:  "user-1",
		OrderNumber:   "ORD-" + mid,
	})
	require.NoError(t, err)
	require.NoError(t, f.processes.Create(context.Background(), process))
	return *process
}

func (f *gatewayFixture) reload(t *testing.T, id int64) domain.PaymentProcess {
	t.Helper()
	process, err := f.processes.Get(context.Background(), id)
	require.NoError(t, err)
	return process
}

func (f *gatewayFixture) pendingEvents(t *testing.T) []domain.OutboxEvent {
	t.Helper()
	events, err := f.outbox.PullPending(context.Background(), 100)
	require.NoError(t, err)
	return events
}
