// Command paycorectl — операционная утилита paycore: запуск сервисов,
// миграции, разбор outbox и повторная публикация DLQ.
package main

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/paycore/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "paycorectl",
		Short:         "paycore operations tool",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
			level, err := log.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			log.SetLevel(level)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(outboxCmd())
	rootCmd.AddCommand(dlqCmd())
	return rootCmd
}

// dsnFrom возвращает DSN из флага или POSTGRES_DSN.
func dsnFrom(flag string) (string, error) {
	dsn := strings.TrimSpace(flag)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("POSTGRES_DSN"))
	}
	if dsn == "" {
		return "", fmt.Errorf("POSTGRES_DSN (or --dsn) is required")
	}
	return dsn, nil
}
