package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"flywheel/internal/ipc"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and manage workflow runs",
	}

	runsCmd.AddCommand(newRunsListCommand(ctx))
	runsCmd.AddCommand(newRunsShowCommand(ctx))
	runsCmd.AddCommand(newRunsCancelCommand(ctx))
	runsCmd.AddCommand(newRunsRetryCommand(ctx))

	return runsCmd
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RunList(ipc.RunListRequest{Statuses: statuses})
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, resp)
				}
				if len(resp.Runs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
					return nil
				}
				rows := make([][]string, 0, len(resp.Runs))
				for _, run := range resp.Runs {
					rows = append(rows, []string{
						shortID(run.ID),
						run.Workflow,
						run.Event,
						dash(run.Branch),
						run.Status,
						dash(run.CreatedAt),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Workflow", "Event", "Branch", "Status", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by run status (repeatable)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newRunsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run and its jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RunShow(ipc.RunShowRequest{ID: args[0]})
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, resp)
				}

				out := cmd.OutOrStdout()
				run := resp.Run
				fmt.Fprintf(out, "Run:       %s\n", run.ID)
				fmt.Fprintf(out, "Workflow:  %s\n", run.Workflow)
				fmt.Fprintf(out, "Event:     %s\n", run.Event)
				fmt.Fprintf(out, "Branch:    %s\n", dash(run.Branch))
				fmt.Fprintf(out, "Commit:    %s\n", dash(run.Commit))
				fmt.Fprintf(out, "Status:    %s\n", run.Status)
				if run.ErrorMessage != "" {
					fmt.Fprintf(out, "Error:     %s\n", run.ErrorMessage)
				}
				fmt.Fprintf(out, "Created:   %s\n", dash(run.CreatedAt))
				fmt.Fprintf(out, "Started:   %s\n", dash(run.StartedAt))
				fmt.Fprintf(out, "Finished:  %s\n", dash(run.FinishedAt))

				if len(resp.Jobs) == 0 {
					fmt.Fprintln(out, "\nNo jobs recorded")
					return nil
				}
				rows := make([][]string, 0, len(resp.Jobs))
				for _, job := range resp.Jobs {
					rows = append(rows, []string{
						job.Name,
						job.Status,
						matrixLabel(job.Matrix),
						dash(job.ErrorMessage),
						dash(job.LogPath),
					})
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderTable(
					[]string{"Job", "Status", "Matrix", "Error", "Log"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newRunsCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Request cancellation of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RunCancel(ipc.RunCancelRequest{ID: args[0]})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				if !resp.Cancelled {
					return errors.New("cancel request was not accepted")
				}
				return nil
			})
		},
	}
}

func newRunsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <run-id>",
		Short: "Requeue a failed or cancelled run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RunRetry(ipc.RunRetryRequest{ID: args[0]})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				if !resp.Retried {
					return errors.New("retry request was not accepted")
				}
				return nil
			})
		},
	}
}

func newDispatchCommand(ctx *commandContext) *cobra.Command {
	var branch string
	var commit string
	var actor string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "dispatch <workflow>",
		Short: "Start a workflow manually",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Dispatch(ipc.DispatchRequest{
					Workflow: args[0],
					Branch:   branch,
					Commit:   commit,
					Actor:    actor,
				})
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Run %s admitted for workflow %s\n", resp.Run.ID, resp.Run.Workflow)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&branch, "branch", "b", "", "Branch to run against")
	cmd.Flags().StringVar(&commit, "commit", "", "Commit SHA to record on the run")
	cmd.Flags().StringVar(&actor, "actor", "", "Actor to record on the run")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of text")
	return cmd
}

func newEventCommand(ctx *commandContext) *cobra.Command {
	var branch string
	var commit string
	var actor string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "event <push|pull_request>",
		Short: "Report a repository event for trigger matching",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Event(ipc.EventRequest{
					Kind:   args[0],
					Branch: branch,
					Commit: commit,
					Actor:  actor,
				})
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Runs) == 0 {
					fmt.Fprintln(out, "No workflows matched the event")
					return nil
				}
				for _, run := range resp.Runs {
					fmt.Fprintf(out, "Run %s admitted for workflow %s\n", run.ID, run.Workflow)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of text")

	cmd.Flags().StringVarP(&branch, "branch", "b", "", "Branch the event refers to")
	cmd.Flags().StringVar(&commit, "commit", "", "Commit SHA for the event")
	cmd.Flags().StringVar(&actor, "actor", "", "Actor that produced the event")
	return cmd
}

func matrixLabel(values map[string]string) string {
	if len(values) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", key, values[key]))
	}
	return strings.Join(parts, ", ")
}
