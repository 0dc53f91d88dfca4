// Package app собирает сервисы paycore из конфигурации и управляет их жизненным циклом.
package app

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paycore/internal/health"
	"github.com/vladislavdragonenkov/paycore/internal/messaging/membus"
	"github.com/vladislavdragonenkov/paycore/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/paycore/internal/version"
)

// Имя сервиса при запуске шлюза и ledger в одном процессе.
const ServiceAll = "paycore"

type service interface {
	Start(ctx context.Context) error
	Stop() error
}

// RunGateway запускает платёжный шлюз и блокируется до отмены ctx.
func RunGateway(ctx context.Context, cfg Config) error {
	logger := log.WithFields(version.Fields()).WithField("component", "app").WithField("service", ServiceGateway)
	return run(ctx, cfg, ServiceGateway, logger, func(rt *deps) (httpapi.Options, []service, error) {
		gw, err := NewGatewayService(cfg, rt.storage, rt.bus, nil, logger)
		if err != nil {
			return httpapi.Options{}, nil, err
		}
		return httpapi.Options{Webhooks: gw.Processor}, []service{gw}, nil
	})
}

// RunLedger запускает ledger-сервис и блокируется до отмены ctx.
func RunLedger(ctx context.Context, cfg Config) error {
	logger := log.WithFields(version.Fields()).WithField("component", "app").WithField("service", ServiceLedger)
	return run(ctx, cfg, ServiceLedger, logger, func(rt *deps) (httpapi.Options, []service, error) {
		ls, err := NewLedgerService(cfg, rt.storage, rt.bus, nil, logger)
		if err != nil {
			return httpapi.Options{}, nil, err
		}
		return httpapi.Options{Ledger: ls.API}, []service{ls}, nil
	})
}

// RunAll запускает шлюз и ledger в одном процессе поверх общего хранилища и шины.
// Единственный режим, в котором драйвер шины memory доставляет события между сервисами.
func RunAll(ctx context.Context, cfg Config) error {
	logger := log.WithFields(version.Fields()).WithField("component", "app").WithField("service", ServiceAll)
	return run(ctx, cfg, ServiceAll, logger, func(rt *deps) (httpapi.Options, []service, error) {
		ls, err := NewLedgerService(cfg, rt.storage, rt.bus, nil, logger.WithField("service", ServiceLedger))
		if err != nil {
			return httpapi.Options{}, nil, err
		}
		gw, err := NewGatewayService(cfg, rt.storage, rt.bus, nil, logger.WithField("service", ServiceGateway))
		if err != nil {
			return httpapi.Options{}, nil, err
		}
		return httpapi.Options{Webhooks: gw.Processor, Ledger: ls.API}, []service{ls, gw}, nil
	})
}

type deps struct {
	storage *Storage
	bus     *Bus
}

type assembleFunc func(rt *deps) (httpapi.Options, []service, error)

func run(ctx context.Context, cfg Config, name string, logger *log.Entry, assemble assembleFunc) error {
	storage, err := OpenStorage(ctx, cfg, name, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := storage.Close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	bus, err := OpenBus(ctx, cfg, membus.New(logger.WithField("component", "membus")), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logger.WithError(err).Warn("failed to close bus")
		}
	}()

	opts, services, err := assemble(&deps{storage: storage, bus: bus})
	if err != nil {
		return err
	}
	opts.Health = newHealthHandler(cfg, name, storage, bus)
	opts.Logger = logger.WithField("component", "http")

	started := make([]service, 0, len(services))
	defer func() {
		for i := len(started) - 1; i >= 0; i-- {
			if err := started[i].Stop(); err != nil {
				logger.WithError(err).Warn("failed to stop service")
			}
		}
	}()
	for _, svc := range services {
		if err := svc.Start(ctx); err != nil {
			return err
		}
		started = append(started, svc)
	}

	logger.WithFields(log.Fields{
		"storage": storage.Driver,
		"bus":     bus.Driver,
	}).Info("service started")

	return serve(ctx, cfg, httpapi.NewRouter(opts), logger)
}

func newHealthHandler(cfg Config, name string, storage *Storage, bus *Bus) *health.Handler {
	handler := health.NewHandler(name, version.GetVersion())
	handler.RegisterChecker("storage", health.NewPingChecker("storage", storage.Ping))
	handler.RegisterChecker("bus", health.NewPingChecker("bus", bus.Ping))
	handler.RegisterChecker("outbox", health.NewOutboxChecker(storage.Outbox, cfg.Outbox.MaxPendingAge))
	return handler
}

// background: набор фоновых циклов, останавливаемых одной отменой.
type background struct {
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func (b *background) start(ctx context.Context, loops ...func(context.Context)) {
	ctx, b.cancel = context.WithCancel(ctx)
	for _, loop := range loops {
		b.wg.Add(1)
		go func(loop func(context.Context)) {
			defer b.wg.Done()
			loop(ctx)
		}(loop)
	}
}

func (b *background) stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}
