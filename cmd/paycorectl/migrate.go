package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/paycore/internal/storage/postgres"
)

const migrateTimeout = 30 * time.Second

func migrateCmd() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the embedded PostgreSQL migrations",
	}
	cmd.PersistentFlags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: POSTGRES_DSN)")

	withStore := func(cmd *cobra.Command, fn func(ctx context.Context, store *postgres.Store) error) error {
		resolved, err := dsnFrom(dsn)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), migrateTimeout)
		defer cancel()

		store, err := postgres.Open(ctx, resolved)
		if err != nil {
			return fmt.Errorf("open postgres store: %w", err)
		}
		defer store.Close()
		return fn(ctx, store)
	}

	var upSteps int
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *postgres.Store) error {
				if err := store.MigrateUp(ctx, upSteps); err != nil {
					return fmt.Errorf("migrate up failed: %w", err)
				}
				return printMigrationStatus(cmd, ctx, store, "migrate up ok")
			})
		},
	}
	up.Flags().IntVar(&upSteps, "steps", 0, "number of migrations to apply (0 = all)")

	var downSteps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *postgres.Store) error {
				if err := store.MigrateDown(ctx, downSteps); err != nil {
					return fmt.Errorf("migrate down failed: %w", err)
				}
				return printMigrationStatus(cmd, ctx, store, "migrate down ok")
			})
		},
	}
	down.Flags().IntVar(&downSteps, "steps", 1, "number of migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "List embedded migrations and whether they are applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *postgres.Store) error {
				states, err := store.Migrations(ctx)
				if err != nil {
					return fmt.Errorf("migration status failed: %w", err)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED AT")
				for _, state := range states {
					applied := "pending"
					if state.Applied {
						applied = state.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%d\t%s\t%s\n", state.Version, state.Name, applied)
				}
				return w.Flush()
			})
		},
	}

	cmd.AddCommand(up, down, status)
	return cmd
}

func printMigrationStatus(cmd *cobra.Command, ctx context.Context, store *postgres.Store, prefix string) error {
	version, count, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: version=%d applied=%d\n", prefix, version, count)
	return nil
}
