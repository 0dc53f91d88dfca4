// Package kafka — транспорт событий paycore поверх Kafka (IBM/sarama).
package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

// Kafka headers. Потребитель читает event_id из заголовка, если в теле его нет.
const (
	HeaderEventID       = "x-event-id"
	HeaderTraceID       = "x-trace-id"
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
)

// envelopeHeaders собирает заголовки сообщения из envelope.
func envelopeHeaders(env domain.Envelope) []sarama.RecordHeader {
	headers := []sarama.RecordHeader{
		{Key: []byte(HeaderEventID), Value: []byte(env.EventID)},
		{Key: []byte(HeaderEventType), Value: []byte(env.EventType)},
	}
	if env.TraceID != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(HeaderTraceID), Value: []byte(env.TraceID)})
	}
	return headers
}

func headerValue(message *sarama.ConsumerMessage, key string) string {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}

// DecodeEnvelope разбирает сообщение в envelope, дополняя пустые поля из заголовков.
func DecodeEnvelope(message *sarama.ConsumerMessage) (domain.Envelope, error) {
	var env domain.Envelope
	if err := json.Unmarshal(message.Value, &env); err != nil {
		return domain.Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if env.EventID == "" {
		env.EventID = headerValue(message, HeaderEventID)
	}
	if env.EventType == "" {
		env.EventType = headerValue(message, HeaderEventType)
	}
	if env.TraceID == "" {
		env.TraceID = headerValue(message, HeaderTraceID)
	}
	if env.EventID == "" {
		return domain.Envelope{}, domain.ErrEventIDRequired
	}
	return env, nil
}
