package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

const defaultReplayIdleTimeout = 2 * time.Second

// OffsetClient: часть sarama.Client, нужная для чтения DLQ.
type OffsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
}

// PartitionSource: часть sarama.Consumer, нужная для чтения DLQ.
type PartitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (sarama.PartitionConsumer, error)
}

// ReplayOptions управляет одним прогоном повторной публикации.
type ReplayOptions struct {
	SourceTopic string
	Limit       int
	// Execute=false — dry-run: кандидаты только логируются.
	Execute     bool
	IdleTimeout time.Duration
}

// ReplayStats: итог прогона.
type ReplayStats struct {
	Scanned  int
	Replayed int
	Skipped  int
}

// Replayer читает DLQ от старых записей к новым и возвращает сообщения в исходные topics.
// Повторная публикация сохраняет event_id, поэтому уже применённое событие
// отсеет processed-event guard потребителя.
type Replayer struct {
	client   OffsetClient
	consumer PartitionSource
	producer *Producer
	logger   *log.Entry
}

// NewReplayer собирает Replayer. producer может быть nil для dry-run.
func NewReplayer(client OffsetClient, consumer PartitionSource, producer *Producer) *Replayer {
	return &Replayer{
		client:   client,
		consumer: consumer,
		producer: producer,
		logger:   log.WithField("component", "dlq-replay"),
	}
}

type replayMessage struct {
	topic   string
	key     string
	value   []byte
	headers []sarama.RecordHeader
}

// Replay выполняет один прогон по всем партициям SourceTopic.
func (r *Replayer) Replay(ctx context.Context, opts ReplayOptions) (ReplayStats, error) {
	var stats ReplayStats
	if opts.SourceTopic == "" {
		opts.SourceTopic = domain.TopicDeadLetter
	}
	if opts.Limit <= 0 {
		return stats, fmt.Errorf("replay limit must be > 0")
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultReplayIdleTimeout
	}
	if opts.Execute && r.producer == nil {
		return stats, fmt.Errorf("producer is required in execute mode")
	}

	partitions, err := r.client.Partitions(opts.SourceTopic)
	if err != nil {
		return stats, fmt.Errorf("get partitions for topic %s: %w", opts.SourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if stats.Scanned >= opts.Limit {
			break
		}
		if err := r.replayPartition(ctx, opts, partition, &stats); err != nil {
			return stats, err
		}
	}

	r.logger.WithFields(log.Fields{
		"execute":  opts.Execute,
		"scanned":  stats.Scanned,
		"replayed": stats.Replayed,
		"skipped":  stats.Skipped,
	}).Info("dlq replay finished")
	return stats, nil
}

func (r *Replayer) replayPartition(ctx context.Context, opts ReplayOptions, partition int32, stats *ReplayStats) error {
	oldest, err := r.client.GetOffset(opts.SourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.client.GetOffset(opts.SourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return nil
	}

	pc, err := r.consumer.ConsumePartition(opts.SourceTopic, partition, oldest)
	if err != nil {
		return fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(opts.IdleTimeout)
	defer idle.Stop()

	for stats.Scanned < opts.Limit {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle.C:
			return nil
		case cerr, ok := <-pc.Errors():
			if ok && cerr != nil {
				return fmt.Errorf("partition %d consumer error: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil {
				return nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(opts.IdleTimeout)

			stats.Scanned++
			entry := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})
			replay, err := extractReplayMessage(msg)
			if err != nil {
				stats.Skipped++
				entry.WithError(err).Warn("skip unsupported dlq message")
			} else if opts.Execute {
				if err := r.producer.Send(replay.topic, replay.key, replay.value, replay.headers); err != nil {
					return fmt.Errorf("publish replay message: %w", err)
				}
				stats.Replayed++
			} else {
				entry.WithField("target_topic", replay.topic).Info("dlq replay candidate")
				stats.Replayed++
			}

			if msg.Offset+1 >= newest {
				return nil
			}
		}
	}
	return nil
}

// extractReplayMessage понимает оба формата DLQ: сообщение потребителя с заголовком
// исходного topic и обёртку outbox worker.
func extractReplayMessage(msg *sarama.ConsumerMessage) (replayMessage, error) {
	if topic := headerValue(msg, HeaderOriginalTopic); topic != "" {
		headers := make([]sarama.RecordHeader, 0, len(msg.Headers))
		for _, h := range msg.Headers {
			if h == nil {
				continue
			}
			switch string(h.Key) {
			case HeaderOriginalTopic, HeaderErrorMessage, HeaderRetryCount:
				continue
			}
			headers = append(headers, *h)
		}
		return replayMessage{
			topic:   topic,
			key:     string(msg.Key),
			value:   msg.Value,
			headers: headers,
		}, nil
	}

	env, err := DecodeEnvelope(msg)
	if err != nil {
		return replayMessage{}, err
	}
	var dead domain.DeadLetter
	if err := json.Unmarshal(env.Payload, &dead); err != nil {
		return replayMessage{}, fmt.Errorf("decode outbox dlq payload: %w", err)
	}
	if strings.TrimSpace(dead.Topic) == "" || len(dead.Payload) == 0 {
		return replayMessage{}, fmt.Errorf("outbox dlq payload does not contain original event")
	}

	original := dead.Original()
	if original.TraceID == "" {
		original.TraceID = env.TraceID
	}
	original.OccurredAt = env.OccurredAt
	value, err := json.Marshal(original)
	if err != nil {
		return replayMessage{}, fmt.Errorf("encode replay envelope: %w", err)
	}
	key := original.AggregateID
	if key == "" {
		key = original.EventID
	}
	return replayMessage{
		topic:   dead.Topic,
		key:     key,
		value:   value,
		headers: envelopeHeaders(original),
	}, nil
}
