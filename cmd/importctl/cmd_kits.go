package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/varfish-case-importer/internal/setup"
)

var seedKitsCmd = &cobra.Command{
	Use:   "seed-kits <catalog.yaml>",
	Short: "Load the enrichment kit catalog into the database",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeedKits,
}

func runSeedKits(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *setup.App) error {
		n, err := app.SeedKits(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %d target BED files\n", n)
		return nil
	})
}
