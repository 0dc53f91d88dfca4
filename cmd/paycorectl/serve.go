package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/paycore/internal/app"
)

var runners = map[string]func(context.Context, app.Config) error{
	app.ServiceGateway: app.RunGateway,
	app.ServiceLedger:  app.RunLedger,
	app.ServiceAll:     app.RunAll,
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve [gateway|ledger|paycore]",
		Short: "Run a service with configuration from the environment",
		Long: `Run one service, or both in one process with "paycore".

Only the combined mode delivers events between services over BUS_DRIVER=memory.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{app.ServiceGateway, app.ServiceLedger, app.ServiceAll},
		RunE: func(cmd *cobra.Command, args []string) error {
			run, ok := runners[args[0]]
			if !ok {
				return fmt.Errorf("unknown service %q", args[0])
			}
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
