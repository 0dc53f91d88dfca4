package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
	"github.com/vladislavdragonenkov/paycore/internal/idgen"
	"github.com/vladislavdragonenkov/paycore/internal/service/inbox"
	"github.com/vladislavdragonenkov/paycore/internal/service/ledger"
	"github.com/vladislavdragonenkov/paycore/internal/service/outbox"
	"github.com/vladislavdragonenkov/paycore/internal/transport/httpapi"
)

// LedgerGroup: consumer group ledger-сервиса на шине.
const LedgerGroup = "paycore-ledger"

// LedgerService: собранный ledger-сервис: каталог, заказы, потребитель
// результатов оплаты и outbox order.* событий.
type LedgerService struct {
	Reaggregator   *ledger.Reaggregator
	Catalog        *ledger.Catalog
	Orders         *ledger.Orders
	PaymentResults *ledger.PaymentResults
	API            *httpapi.LedgerAPI
	Outbox         *outbox.Worker
	Cleanup        *outbox.CleanupWorker

	subscription Subscription
	background   background
	logger       *log.Entry
}

// NewLedgerService собирает ledger-сервис поверх хранилища и шины.
func NewLedgerService(cfg Config, storage *Storage, bus *Bus, ids domain.IDGenerator, logger *log.Entry) (*LedgerService, error) {
	if logger == nil {
		logger = log.WithField("component", "ledger")
	}
	if ids == nil {
		snowflake, err := idgen.NewSnowflake(cfg.NodeID)
		if err != nil {
			return nil, err
		}
		ids = snowflake
	}

	reaggregator := ledger.NewReaggregator(storage.Tx, storage.Ledger, storage.Aggregates, logger.WithField("component", "reaggregator"))
	catalog := ledger.NewCatalog(storage.Tx, storage.Aggregates, reaggregator, logger.WithField("component", "catalog"))
	orders := ledger.NewOrders(storage.Tx, storage.Ledger, reaggregator, storage.Outbox, logger.WithField("component", "orders"))
	guard := inbox.NewGuard(storage.Tx, storage.Processed, ledger.ConsumerName, logger.WithField("component", "processed-events"))
	results := ledger.NewPaymentResults(guard, storage.Payments, reaggregator, orders, ids, logger.WithField("component", "payment-results"))

	subscription, err := bus.Subscribe(context.Background(), LedgerGroup, []string{domain.TopicPaymentEvents}, results.Handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe to payment events: %w", err)
	}

	return &LedgerService{
		Reaggregator:   reaggregator,
		Catalog:        catalog,
		Orders:         orders,
		PaymentResults: results,
		API:            httpapi.NewLedgerAPI(catalog, orders, reaggregator, storage.Payments),
		Outbox:         newOutboxWorker(cfg, storage, bus, ServiceLedger, logger),
		Cleanup:        newCleanupWorker(cfg, storage, ServiceLedger, logger),
		subscription:   subscription,
		logger:         logger,
	}, nil
}

// Start запускает потребителя и outbox.
func (s *LedgerService) Start(ctx context.Context) error {
	if err := s.subscription.Start(ctx); err != nil {
		return fmt.Errorf("start payment events consumer: %w", err)
	}
	s.background.start(ctx, s.Outbox.Run, s.Cleanup.Run)
	s.logger.Info("ledger started")
	return nil
}

// Stop останавливает outbox, затем потребителя.
func (s *LedgerService) Stop() error {
	s.background.stop()
	if err := s.subscription.Stop(); err != nil {
		return fmt.Errorf("stop payment events consumer: %w", err)
	}
	s.logger.Info("ledger stopped")
	return nil
}
