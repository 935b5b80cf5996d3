package main

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"flywheel/internal/ipc"
	"flywheel/internal/matrix"
	"flywheel/internal/workflowdef"
)

func newWorkflowCommand(ctx *commandContext) *cobra.Command {
	workflowCmd := &cobra.Command{
		Use:   "workflow",
		Short: "Inspect and validate workflow files",
	}

	workflowCmd.AddCommand(newWorkflowListCommand(ctx))
	workflowCmd.AddCommand(newWorkflowValidateCommand(ctx))
	workflowCmd.AddCommand(newWorkflowReloadCommand(ctx))

	return workflowCmd
}

func newWorkflowListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			defs, err := workflowdef.LoadDir(cfg.Paths.WorkflowsDir)
			if err != nil {
				return err
			}
			if len(defs) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No workflows in %s\n", cfg.Paths.WorkflowsDir)
				return nil
			}

			names := make([]string, 0, len(defs))
			for name := range defs {
				names = append(names, name)
			}
			sort.Strings(names)

			rows := make([][]string, 0, len(names))
			for _, name := range names {
				def := defs[name]
				rows = append(rows, []string{
					name,
					strings.Join(triggerSummary(def), ", "),
					strconv.Itoa(len(def.Jobs)),
					strconv.Itoa(cellCount(def)),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Workflow", "Triggers", "Jobs", "Cells"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}
}

func newWorkflowValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate workflow files without running them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				def, err := workflowdef.Load(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: workflow %q is valid (%d jobs, %d cells)\n",
					args[0], def.Name, len(def.Jobs), cellCount(def))
				return nil
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			defs, err := workflowdef.LoadDir(cfg.Paths.WorkflowsDir)
			if err != nil {
				return err
			}
			if len(defs) == 0 {
				return errors.New("no workflow files found")
			}
			for _, def := range defs {
				fmt.Fprintf(out, "%s: workflow %q is valid (%d jobs, %d cells)\n",
					def.Path, def.Name, len(def.Jobs), cellCount(def))
			}
			return nil
		},
	}
}

func newWorkflowReloadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload workflow files and cron schedules in the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Reload(ipc.ReloadRequest{})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				if !resp.Reloaded {
					return errors.New("reload failed")
				}
				return nil
			})
		},
	}
}

func triggerSummary(def *workflowdef.Definition) []string {
	if def == nil {
		return nil
	}
	parts := make([]string, 0, 4)
	if def.On.Push != nil {
		parts = append(parts, "push")
	}
	if def.On.PullRequest != nil {
		parts = append(parts, "pull_request")
	}
	for _, entry := range def.On.Schedule {
		parts = append(parts, fmt.Sprintf("cron(%s)", entry.Cron))
	}
	if def.On.WorkflowDispatch {
		parts = append(parts, "dispatch")
	}
	return parts
}

func cellCount(def *workflowdef.Definition) int {
	if def == nil {
		return 0
	}
	total := 0
	for _, job := range def.Jobs {
		if job.Strategy == nil {
			total += len(matrix.Expand(nil, nil))
			continue
		}
		axes := make(map[string][]string, len(job.Strategy.Matrix))
		for name, values := range job.Strategy.Matrix {
			axes[name] = values
		}
		total += len(matrix.Expand(axes, job.Strategy.Exclude))
	}
	return total
}
