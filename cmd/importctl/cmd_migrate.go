package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/varfish-case-importer/internal/database"
	"github.com/varfish-case-importer/internal/setup"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate up|down",
	Short:     "Apply or roll back database migrations",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down"},
	RunE:      runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *setup.App) error {
		dbConfig := database.ConfigFromDomain(app.Config.Database)
		runner, err := database.NewMigrationRunner(dbConfig.Driver, dbConfig.DSN(), app.Log)
		if err != nil {
			return err
		}
		defer runner.Close()

		if args[0] == "up" {
			err = runner.Up(ctx)
		} else {
			err = runner.Down(ctx)
		}
		if err != nil {
			return err
		}

		version, dirty, err := runner.Version()
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Schema version: %d (dirty: %t)\n", version, dirty)
		return nil
	})
}
