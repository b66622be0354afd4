package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/varfish-case-importer/internal/setup"
	"github.com/varfish-case-importer/internal/tasks"
)

// jobKinds maps the short names accepted on the command line to task names.
var jobKinds = map[string]string{
	"caseimport":   tasks.TaskCaseImport,
	"seqvarsquery": tasks.TaskSeqvarsQueryExecution,
}

var runJobCmd = &cobra.Command{
	Use:   "run-job caseimport|seqvarsquery <pk>",
	Short: "Run a background job in the foreground",
	Args:  cobra.ExactArgs(2),
	RunE:  runJob,
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue caseimport|seqvarsquery <pk>",
	Short: "Queue a background job for the workers",
	Args:  cobra.ExactArgs(2),
	RunE:  runEnqueue,
}

func parseJobArgs(args []string) (string, int64, error) {
	task, ok := jobKinds[args[0]]
	if !ok {
		return "", 0, fmt.Errorf("unknown job kind %q", args[0])
	}
	pk, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid primary key %q: %w", args[1], err)
	}
	return task, pk, nil
}

func runJob(cmd *cobra.Command, args []string) error {
	task, pk, err := parseJobArgs(args)
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, app *setup.App) error {
		entrypoints, err := app.Entrypoints(nil)
		if err != nil {
			return err
		}
		if err := entrypoints.Handlers()[task](ctx, pk); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s(%d) finished\n", task, pk)
		return nil
	})
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	task, pk, err := parseJobArgs(args)
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, app *setup.App) error {
		queue, err := app.Queue(ctx)
		if err != nil {
			return err
		}
		if err := queue.Enqueue(ctx, task, pk); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Queued %s(%d)\n", task, pk)
		return nil
	})
}
