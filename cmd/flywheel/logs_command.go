package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"flywheel/internal/ipc"
	"flywheel/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var lines int

	cmd := &cobra.Command{
		Use:   "logs <run-id> [job]",
		Short: "Print a job's log output",
		Long: "Print the log of a job in a run. When the run has more than one job " +
			"the job name is required. With --follow the command keeps streaming " +
			"until the job finishes.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobName := ""
			if len(args) > 1 {
				jobName = args[1]
			}
			return ctx.withClient(func(client *ipc.Client) error {
				job, err := resolveJob(client, args[0], jobName)
				if err != nil {
					return err
				}
				if job.LogPath == "" {
					return fmt.Errorf("job %q has not produced a log yet", job.Name)
				}

				result, err := logs.Tail(cmd.Context(), job.LogPath, logs.TailOptions{
					Offset: -1,
					Limit:  lines,
				})
				if err != nil {
					return err
				}
				printLines(cmd, result.Lines)
				if !follow {
					return nil
				}
				return followLog(cmd.Context(), cmd, client, args[0], job.Name, job.LogPath, result.Offset)
			})
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming until the job finishes")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to print first")
	return cmd
}

// resolveJob picks the job whose log to show. A single-job run needs no name;
// otherwise the name must match a job's display name or workflow job ID.
func resolveJob(client *ipc.Client, runID, jobName string) (ipc.Job, error) {
	resp, err := client.RunShow(ipc.RunShowRequest{ID: runID})
	if err != nil {
		return ipc.Job{}, err
	}
	if len(resp.Jobs) == 0 {
		return ipc.Job{}, fmt.Errorf("run %s has no jobs", runID)
	}
	if jobName == "" {
		if len(resp.Jobs) == 1 {
			return resp.Jobs[0], nil
		}
		names := make([]string, 0, len(resp.Jobs))
		for _, job := range resp.Jobs {
			names = append(names, job.Name)
		}
		return ipc.Job{}, fmt.Errorf("run has %d jobs, pick one: %s", len(resp.Jobs), strings.Join(names, ", "))
	}
	for _, job := range resp.Jobs {
		if job.Name == jobName || job.JobID == jobName {
			return job, nil
		}
	}
	return ipc.Job{}, fmt.Errorf("run %s has no job %q", runID, jobName)
}

// followLog streams new log lines until the job reaches a terminal status and
// the log stops growing.
func followLog(ctx context.Context, cmd *cobra.Command, client *ipc.Client, runID, jobName, logPath string, offset int64) error {
	for {
		result, err := logs.Tail(ctx, logPath, logs.TailOptions{
			Offset: offset,
			Follow: true,
			Wait:   2 * time.Second,
		})
		if err != nil {
			return err
		}
		printLines(cmd, result.Lines)
		offset = result.Offset

		if len(result.Lines) > 0 {
			continue
		}
		job, err := resolveJob(client, runID, jobName)
		if err != nil {
			return err
		}
		if jobStatusTerminal(job.Status) {
			return nil
		}
	}
}

func jobStatusTerminal(status string) bool {
	switch status {
	case "succeeded", "failed", "cancelled", "skipped":
		return true
	}
	return false
}

func printLines(cmd *cobra.Command, lines []string) {
	out := cmd.OutOrStdout()
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
}
