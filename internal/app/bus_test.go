package app

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
	"github.com/vladislavdragonenkov/paycore/internal/messaging/membus"
)

func TestOpenBus_MemoryDeliversToSubscribers(t *testing.T) {
	ctx := context.Background()
	shared := membus.New(nil)
	bus, err := OpenBus(ctx, DefaultConfig(), shared, log.WithField("test", "bus"))
	require.NoError(t, err)
	defer func() { require.NoError(t, bus.Close()) }()

	var received []domain.Envelope
	sub, err := bus.Subscribe(ctx, LedgerGroup, []string{domain.TopicPaymentEvents}, func(_ context.Context, env domain.Envelope) error {
		received = append(received, env)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, sub.Start(ctx))
	defer func() { require.NoError(t, sub.Stop()) }()

	event, err := domain.NewOutboxEvent(domain.EventTypePaymentApproved, domain.TopicPaymentEvents, domain.AggregateTypePaymentProcess, "42", "gw-ref", map[string]int{"amount": 1000})
	require.NoError(t, err)
	event.EventID = "evt-1"
	require.NoError(t, bus.Publisher.Publish(ctx, event))

	require.Len(t, received, 1)
	assert.Equal(t, "evt-1", received[0].EventID)
	assert.Equal(t, "gw-ref", received[0].TraceID)
	assert.NoError(t, bus.Ping(ctx))
	assert.Equal(t, BusDriverMemory, bus.Driver)
}

func TestOpenBus_UnsupportedDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BusDriver = "nats"

	_, err := OpenBus(context.Background(), cfg, nil, log.WithField("test", "bus"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported bus driver")
}

func TestOpenBus_KafkaUnavailable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BusDriver = BusDriverKafka
	cfg.Kafka.Brokers = []string{"127.0.0.1:1"}

	_, err := OpenBus(context.Background(), cfg, nil, log.WithField("test", "bus"))
	require.Error(t, err)
}

func TestBusNilSafety(t *testing.T) {
	var bus *Bus
	_, err := bus.Subscribe(context.Background(), "group", []string{"topic"}, nil)
	assert.Error(t, err)
	assert.Error(t, bus.Ping(context.Background()))
	assert.NoError(t, bus.Close())
}
