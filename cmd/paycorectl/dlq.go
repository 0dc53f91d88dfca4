package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
	"github.com/vladislavdragonenkov/paycore/internal/messaging/kafka"
)

func dlqCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Work with the Kafka dead letter topic",
	}

	var (
		brokersRaw  string
		sourceTopic string
		limit       int
		execute     bool
		idleTimeout time.Duration
	)
	replay := &cobra.Command{
		Use:   "replay",
		Short: "Republish dead letters to their original topics (dry-run by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(brokersRaw) == "" {
				brokersRaw = os.Getenv("KAFKA_BROKERS")
			}
			brokers := parseBrokers(brokersRaw)
			if len(brokers) == 0 {
				return fmt.Errorf("kafka brokers are required (--brokers or KAFKA_BROKERS)")
			}

			config := sarama.NewConfig()
			config.Consumer.Return.Errors = true
			client, err := sarama.NewClient(brokers, config)
			if err != nil {
				return fmt.Errorf("create kafka client: %w", err)
			}
			defer client.Close()

			consumer, err := sarama.NewConsumerFromClient(client)
			if err != nil {
				return fmt.Errorf("create kafka consumer: %w", err)
			}
			defer consumer.Close()

			var producer *kafka.Producer
			if execute {
				producer, err = kafka.NewProducer(brokers, kafka.WithClientID("paycorectl"))
				if err != nil {
					return err
				}
				defer producer.Close()
			}

			stats, err := kafka.NewReplayer(client, consumer, producer).Replay(cmd.Context(), kafka.ReplayOptions{
				SourceTopic: sourceTopic,
				Limit:       limit,
				Execute:     execute,
				IdleTimeout: idleTimeout,
			})
			if err != nil {
				return fmt.Errorf("dlq replay failed: %w", err)
			}
			mode := "dry-run"
			if execute {
				mode = "execute"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: scanned=%d replayed=%d skipped=%d\n", mode, stats.Scanned, stats.Replayed, stats.Skipped)
			return nil
		},
	}
	replay.Flags().StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: KAFKA_BROKERS)")
	replay.Flags().StringVar(&sourceTopic, "source-topic", domain.TopicDeadLetter, "DLQ source topic")
	replay.Flags().IntVar(&limit, "limit", 100, "max number of messages to scan")
	replay.Flags().BoolVar(&execute, "execute", false, "republish messages; default is dry-run")
	replay.Flags().DurationVar(&idleTimeout, "idle-timeout", 2*time.Second, "idle timeout per partition")

	cmd.AddCommand(replay)
	return cmd
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}
