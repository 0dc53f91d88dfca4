package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/paycore/internal/app"
	"github.com/vladislavdragonenkov/paycore/internal/domain"
	"github.com/vladislavdragonenkov/paycore/internal/storage/postgres"
)

const outboxTimeout = 10 * time.Second

// openOutbox подменяется в тестах.
var openOutbox = func(ctx context.Context, dsn, source string) (domain.OutboxRepository, func() error, error) {
	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres store: %w", err)
	}
	return postgres.NewOutboxRepository(store, source), store.Close, nil
}

func outboxCmd() *cobra.Command {
	var dsn, source string

	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and repair the transactional outbox",
	}
	cmd.PersistentFlags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: POSTGRES_DSN)")
	cmd.PersistentFlags().StringVar(&source, "source", app.ServiceGateway, "outbox owner: gateway, ledger or paycore")

	withRepo := func(cmd *cobra.Command, fn func(ctx context.Context, repo domain.OutboxRepository) error) error {
		resolved, err := dsnFrom(dsn)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), outboxTimeout)
		defer cancel()

		repo, closeFn, err := openOutbox(ctx, resolved, source)
		if err != nil {
			return err
		}
		defer func() { _ = closeFn() }()
		return fn(ctx, repo)
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show pending and failed counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd, func(ctx context.Context, repo domain.OutboxRepository) error {
				s, err := repo.Stats(ctx)
				if err != nil {
					return err
				}
				oldest := "-"
				if !s.OldestPendingAt.IsZero() {
					oldest = s.OldestPendingAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pending=%d failed=%d oldest_pending=%s\n", s.PendingCount, s.FailedCount, oldest)
				return nil
			})
		},
	}

	var limit int
	failed := &cobra.Command{
		Use:   "failed",
		Short: "List events that exhausted their retries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd, func(ctx context.Context, repo domain.OutboxRepository) error {
				events, err := repo.ListFailed(ctx, limit)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "EVENT ID\tTYPE\tTOPIC\tRETRIES\tERROR")
				for _, event := range events {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", event.EventID, event.EventType, event.Topic, event.RetryCount, event.ErrorMessage)
				}
				return w.Flush()
			})
		},
	}
	failed.Flags().IntVar(&limit, "limit", 50, "max events to list")

	var all bool
	requeue := &cobra.Command{
		Use:   "requeue [EVENT_ID...]",
		Short: "Return failed events to PENDING with a fresh retry budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !all {
				return fmt.Errorf("pass event ids or --all")
			}
			if all {
				args = nil
			}
			return withRepo(cmd, func(ctx context.Context, repo domain.OutboxRepository) error {
				n, err := repo.Requeue(ctx, args)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "requeued %d events\n", n)
				return nil
			})
		},
	}
	requeue.Flags().BoolVar(&all, "all", false, "requeue every FAILED event")

	cmd.AddCommand(stats, failed, requeue)
	return cmd
}
