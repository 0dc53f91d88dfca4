package domain

import (
	"encoding/json"
	"time"
)

// OutboxStatus описывает состояние записи transactional outbox.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "PENDING"
	OutboxStatusPublished OutboxStatus = "PUBLISHED"
	OutboxStatusFailed    OutboxStatus = "FAILED"
)

// OutboxEvent хранит событие, записанное в одной транзакции с бизнес-строкой.
type OutboxEvent struct {
	EventID       string
	EventType     string
	AggregateID   string
	AggregateType string
	Topic         string
	Payload       []byte
	TraceID       string
	Status        OutboxStatus
	RetryCount    int
	CreatedAt     time.Time
	PublishedAt   *time.Time
	ErrorMessage  string
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	FailedCount     int
	OldestPendingAt time.Time
}

// Envelope: форма события на шине. Метаданные event_id и trace_id нужны
// processed-event guard на стороне потребителя.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	TraceID       string          `json:"trace_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// EnvelopeOf строит envelope из outbox-записи.
func EnvelopeOf(event OutboxEvent) Envelope {
	occurred := event.CreatedAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	return Envelope{
		EventID:       event.EventID,
		EventType:     event.EventType,
		AggregateID:   event.AggregateID,
		AggregateType: event.AggregateType,
		TraceID:       event.TraceID,
		OccurredAt:    occurred,
		Payload:       json.RawMessage(event.Payload),
	}
}

// NewOutboxEvent сериализует payload и собирает pending-запись.
func NewOutboxEvent(eventType, topic, aggregateType, aggregateID, traceID string, payload any) (OutboxEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return OutboxEvent{}, err
	}
	return OutboxEvent{
		EventType:     eventType,
		Topic:         topic,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		TraceID:       traceID,
		Payload:       data,
		Status:        OutboxStatusPending,
	}, nil
}

// DeadLetter: payload, с которым outbox worker отправляет в DLQ запись,
// исчерпавшую попытки публикации. Исходное событие восстанавливается
// по EventID, Topic и Payload.
type DeadLetter struct {
	EventID        string          `json:"event_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Topic          string          `json:"topic"`
	TraceID        string          `json:"trace_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

// DeadLetterOf оборачивает outbox-запись и причину последней неудачи.
func DeadLetterOf(event OutboxEvent, cause error, at time.Time) DeadLetter {
	letter := DeadLetter{
		EventID:        event.EventID,
		AggregateType:  event.AggregateType,
		AggregateID:    event.AggregateID,
		EventType:      event.EventType,
		Topic:          event.Topic,
		TraceID:        event.TraceID,
		Payload:        json.RawMessage(event.Payload),
		DLQPublishedAt: at.UTC(),
	}
	if cause != nil {
		letter.PublishError = cause.Error()
	}
	return letter
}

// Original восстанавливает envelope исходного события.
func (d DeadLetter) Original() Envelope {
	return Envelope{
		EventID:       d.EventID,
		EventType:     d.EventType,
		AggregateID:   d.AggregateID,
		AggregateType: d.AggregateType,
		TraceID:       d.TraceID,
		OccurredAt:    d.DLQPublishedAt,
		Payload:       d.Payload,
	}
}
