package domain

import "time"

// ProcessedEvent фиксирует, что событие производителя уже применено потребителем.
// Для одного OriginEventID существует не более одной записи.
type ProcessedEvent struct {
	OriginEventID       string
	EventType           string
	OriginAggregateID   string
	OriginAggregateType string
	TraceID             string
	ConsumedBy          string
	ProcessedAt         time.Time
}

// ProcessedEventOf строит запись guard из envelope шины.
func ProcessedEventOf(env Envelope, consumer string) ProcessedEvent {
	return ProcessedEvent{
		OriginEventID:       env.EventID,
		EventType:           env.EventType,
		OriginAggregateID:   env.AggregateID,
		OriginAggregateType: env.AggregateType,
		TraceID:             env.TraceID,
		ConsumedBy:          consumer,
		ProcessedAt:         time.Now().UTC(),
	}
}
