package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
	"github.com/vladislavdragonenkov/paycore/internal/idgen"
	"github.com/vladislavdragonenkov/paycore/internal/metrics"
	"github.com/vladislavdragonenkov/paycore/internal/provider"
	"github.com/vladislavdragonenkov/paycore/internal/service/gateway"
	"github.com/vladislavdragonenkov/paycore/internal/service/inbox"
	"github.com/vladislavdragonenkov/paycore/internal/service/outbox"
	"github.com/vladislavdragonenkov/paycore/internal/service/scheduler"
)

// GatewayGroup: consumer group шлюза на шине.
const GatewayGroup = "paycore-gateway"

// GatewayService: собранный платёжный шлюз: потребитель order.*, планировщики
// захвата и расчёта, outbox результатов.
type GatewayService struct {
	Processor    *gateway.Processor
	OrderEvents  *gateway.OrderEvents
	Registry     *provider.Registry
	Dummy        *provider.Dummy
	ClaimRunner  *scheduler.Runner
	SettleRunner *scheduler.Runner
	Outbox       *outbox.Worker
	Cleanup      *outbox.CleanupWorker

	subscription Subscription
	background   background
	logger       *log.Entry
}

// NewGatewayService собирает шлюз поверх хранилища и шины.
func NewGatewayService(cfg Config, storage *Storage, bus *Bus, ids domain.IDGenerator, logger *log.Entry) (*GatewayService, error) {
	if logger == nil {
		logger = log.WithField("component", "gateway")
	}
	if ids == nil {
		snowflake, err := idgen.NewSnowflake(cfg.NodeID)
		if err != nil {
			return nil, err
		}
		ids = snowflake
	}

	catalog, err := provider.LoadCatalog(cfg.Gateway.ProvidersFile)
	if err != nil {
		return nil, fmt.Errorf("load provider catalog: %w", err)
	}
	registry, dummy, err := catalog.Build()
	if err != nil {
		return nil, fmt.Errorf("build provider registry: %w", err)
	}

	paymentMetrics := metrics.NewPaymentMetrics()
	processor := gateway.NewProcessor(
		storage.Tx,
		storage.Processes,
		storage.Outbox,
		registry,
		provider.NewClient(cfg.Gateway.ProviderTimeout, logger.WithField("component", "provider-client")),
		gateway.ProcessorOptions{
			TrustNegativeAck: cfg.Gateway.TrustNegativeAck,
			Metrics:          paymentMetrics,
		},
		logger.WithField("component", "payment-processor"),
	)

	guard := inbox.NewGuard(storage.Tx, storage.Processed, gateway.ConsumerName, logger.WithField("component", "processed-events"))
	orderEvents := gateway.NewOrderEvents(guard, gateway.NewConverter(ids, registry), storage.Processes, logger.WithField("component", "order-events"))

	batch := scheduler.BatchOptions{
		BatchSize:   cfg.Gateway.BatchSize,
		Parallelism: cfg.Gateway.Parallelism,
	}
	claimBatch := batch
	claimBatch.Logger = logger.WithField("component", "claim-job")
	settleBatch := batch
	settleBatch.Logger = logger.WithField("component", "settle-job")

	claimRunner := scheduler.NewRunner(
		scheduler.NewClaimJob(storage.Processes, processor, registry.IDs(), claimBatch),
		cfg.Gateway.ClaimEnabled,
		scheduler.WithLogger(logger.WithField("component", "scheduler")),
		scheduler.WithMetrics(paymentMetrics),
		scheduler.WithDelay(cfg.Gateway.ClaimDelay),
	)
	settleRunner := scheduler.NewRunner(
		scheduler.NewSettleJob(storage.Processes, processor, registry.SettlerIDs(), settleBatch),
		cfg.Gateway.SettleEnabled && len(registry.SettlerIDs()) > 0,
		scheduler.WithLogger(logger.WithField("component", "scheduler")),
		scheduler.WithMetrics(paymentMetrics),
		scheduler.WithDelay(cfg.Gateway.SettleDelay),
		scheduler.WithInitialDelay(cfg.Gateway.SettleDelay),
	)

	subscription, err := bus.Subscribe(context.Background(), GatewayGroup, []string{domain.TopicOrderEvents}, orderEvents.Handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe to order events: %w", err)
	}

	return &GatewayService{
		Processor:    processor,
		OrderEvents:  orderEvents,
		Registry:     registry,
		Dummy:        dummy,
		ClaimRunner:  claimRunner,
		SettleRunner: settleRunner,
		Outbox:       newOutboxWorker(cfg, storage, bus, ServiceGateway, logger),
		Cleanup:      newCleanupWorker(cfg, storage, ServiceGateway, logger),
		subscription: subscription,
		logger:       logger,
	}, nil
}

// Start запускает потребителя и фоновые циклы.
func (s *GatewayService) Start(ctx context.Context) error {
	if err := s.subscription.Start(ctx); err != nil {
		return fmt.Errorf("start order events consumer: %w", err)
	}
	s.background.start(ctx, s.ClaimRunner.Run, s.SettleRunner.Run, s.Outbox.Run, s.Cleanup.Run)
	s.logger.WithField("providers", s.Registry.IDs()).Info("gateway started")
	return nil
}

// Stop останавливает фоновые циклы, затем потребителя.
func (s *GatewayService) Stop() error {
	s.background.stop()
	if err := s.subscription.Stop(); err != nil {
		return fmt.Errorf("stop order events consumer: %w", err)
	}
	s.logger.Info("gateway stopped")
	return nil
}

func newOutboxWorker(cfg Config, storage *Storage, bus *Bus, source string, logger *log.Entry) *outbox.Worker {
	return outbox.NewWorker(
		storage.Outbox,
		bus.Publisher,
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithDLQPublisher(bus.DeadLetter),
		outbox.WithSource(source),
		outbox.WithPollInterval(cfg.Outbox.PollInterval),
		outbox.WithBatchSize(cfg.Outbox.BatchSize),
		outbox.WithMaxRetries(cfg.Outbox.MaxRetries),
	)
}

func newCleanupWorker(cfg Config, storage *Storage, source string, logger *log.Entry) *outbox.CleanupWorker {
	return outbox.NewCleanupWorker(
		storage.Outbox,
		outbox.WithCleanupLogger(logger.WithField("component", "outbox-cleanup")),
		outbox.WithCleanupSource(source),
		outbox.WithCleanupInterval(cfg.Outbox.CleanupInterval),
		outbox.WithRetention(cfg.Outbox.Retention),
	)
}
