package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/varfish-case-importer/internal/setup"
)

var rootFlags struct {
	configFile string
}

var rootCmd = &cobra.Command{
	Use:   "importctl",
	Short: "Administer the VarFish case import pipeline",
	Long: "importctl migrates the database, seeds the enrichment kit catalog,\n" +
		"queues or runs background jobs in the foreground and checks phenopacket files.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.configFile, "config", "", "path to the configuration file")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(runJobCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(seedKitsCmd)
	rootCmd.AddCommand(validateCmd)
}

// withApp loads the configuration, connects and calls fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *setup.App) error) error {
	m, err := setup.LoadConfig(rootFlags.configFile)
	if err != nil {
		return err
	}
	cfg := m.GetConfig()
	logger := setup.NewLogger(cfg.Logging)
	logger.SetOutput(cmd.ErrOrStderr())

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := setup.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
