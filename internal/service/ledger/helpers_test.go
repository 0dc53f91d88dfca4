package ledger

import (
	"sync/atomic"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
	"github.com/vladislavdragonenkov/paycore/internal/storage/memory"
)

type sequenceIDs struct {
	next atomic.Int64
}

func (s *sequenceIDs) NextID() int64 {
	return s.next.Add(1)
}

type ledgerFixture struct {
	store        *memory.Store
	ledger       domain.LedgerRepository
	aggregates   domain.AggregateRepository
	outbox       domain.OutboxRepository
	payments     domain.PaymentRepository
	processed    domain.ProcessedEventRepository
	reaggregator *Reaggregator
	catalog      *Catalog
	orders       *Orders
}

func newLedgerFixture() *ledgerFixture {
	store := memory.NewStore()
	f := &ledgerFixture{
		store:      store,
		ledger:     memory.NewLedgerRepository(store),
		aggregates: memory.NewAggregateRepository(store),
		outbox:     memory.NewOutboxRepository(store),
		payments:   memory.NewPaymentRepository(store),
		processed:  memory.NewProcessedEventRepository(store),
	}
	f.reaggregator = NewReaggregator(store, f.ledger, f.aggregates, nil)
	f.catalog = NewCatalog(store, f.aggregates, f.reaggregator, nil)
	f.orders = NewOrders(store, f.ledger, f.reaggregator, f.outbox, nil)
	return f
}
