package kafka

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

func TestProducer_Send(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer)

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != domain.TopicPaymentEvents {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "gw-42" {
			return errors.New("unexpected key " + string(key))
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != HeaderEventID {
			return errors.New("headers were not forwarded")
		}
		return nil
	})

	err := producer.Send(domain.TopicPaymentEvents, "gw-42", []byte(`{}`), []sarama.RecordHeader{
		{Key: []byte(HeaderEventID), Value: []byte("evt-1")},
	})
	require.NoError(t, err)
	require.NoError(t, producer.Close())
}

func TestProducer_SendWrapsBrokerError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer)

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := producer.Send(domain.TopicOrderEvents, "order-123", []byte(`{}`), nil)
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.ErrorContains(t, err, domain.TopicOrderEvents)
	require.NoError(t, producer.Close())
}

func TestProducerConfig(t *testing.T) {
	cfg := producerConfig(WithClientID("paycore-test"), WithSendRetries(2))

	require.Equal(t, "paycore-test", cfg.ClientID)
	require.Equal(t, 2, cfg.Producer.Retry.Max)
	require.True(t, cfg.Producer.Idempotent)
	require.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	require.NoError(t, cfg.Validate())

	defaults := producerConfig(WithClientID(""))
	require.Equal(t, "sarama", defaults.ClientID)
}

func TestNewProducer_NoBrokers(t *testing.T) {
	_, err := NewProducer([]string{"invalid-broker:9092"}, WithClientID("paycore-test"))
	require.Error(t, err)
}

func TestEnvelopeHeaders(t *testing.T) {
	headers := envelopeHeaders(domain.Envelope{EventID: "evt-1", EventType: domain.EventTypePaymentApproved, TraceID: "gw-1"})
	require.Len(t, headers, 3)

	withoutTrace := envelopeHeaders(domain.Envelope{EventID: "evt-2", EventType: domain.EventTypePaymentFailed})
	require.Len(t, withoutTrace, 2, "trace header must be omitted when empty")
}
