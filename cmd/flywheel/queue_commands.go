package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"flywheel/internal/ipc"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the run queue",
	}

	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var clearAll bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove finished runs from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueClear(ipc.QueueClearRequest{All: clearAll})
				if err != nil {
					return err
				}
				if clearAll {
					fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d runs\n", resp.Removed)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d finished runs\n", resp.Removed)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearAll, "all", false, "Remove every run, including pending and running ones")
	return cmd
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check run database health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				health, err := client.DatabaseHealth(ipc.DatabaseHealthRequest{})
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, health)
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				fmt.Fprintln(out, renderStatusLine("Database", boolStatus(health.DatabaseExists), health.DBPath, colorize))
				fmt.Fprintln(out, renderStatusLine("Readable", boolStatus(health.DatabaseReadable), "", colorize))
				fmt.Fprintln(out, renderStatusLine("Integrity", boolStatus(health.IntegrityCheck), "", colorize))
				fmt.Fprintln(out, renderStatusLine("Total runs", statusInfo, fmt.Sprintf("%d", health.TotalRuns), colorize))
				if len(health.MissingTables) > 0 {
					fmt.Fprintln(out, renderStatusLine("Missing tables", statusError, fmt.Sprintf("%v", health.MissingTables), colorize))
				}
				if health.Error != "" {
					fmt.Fprintln(out, renderStatusLine("Error", statusError, health.Error, colorize))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of text")
	return cmd
}

func boolStatus(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusError
}
