package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/varfish-case-importer/internal/phenopacket"
)

var validateFlags struct {
	strict bool
}

var validateCmd = &cobra.Command{
	Use:   "validate <family.json>",
	Short: "Check a phenopacket family file",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateFlags.strict, "strict", false, "fail when there are warnings")
}

func runValidate(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading family: %w", err)
	}
	family, err := phenopacket.Decode(raw)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Family:  %s\n", family.ID)
	fmt.Fprintf(out, "Members: %d\n", len(family.Members()))
	warnings := phenopacket.Validate(raw)
	for _, w := range warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	if validateFlags.strict && len(warnings) > 0 {
		return fmt.Errorf("%d warnings", len(warnings))
	}
	return nil
}
