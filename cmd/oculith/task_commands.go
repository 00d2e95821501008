package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"oculith/internal/client"
)

func newTaskCommand(ctx *commandContext) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and cancel tasks",
	}

	showCmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.daemonClient()
			if err != nil {
				return err
			}
			task, err := c.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printTask(cmd, task)
			return nil
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a queued or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.daemonClient()
			if err != nil {
				return err
			}
			task, err := c.CancelTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if task.State == "cancelled" {
				fmt.Fprintf(cmd.OutOrStdout(), "Cancelled task %s\n", task.ID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested; task %s stops at the next step boundary\n", task.ID)
			return nil
		},
	}

	taskCmd.AddCommand(showCmd)
	taskCmd.AddCommand(cancelCmd)
	return taskCmd
}

func printTask(cmd *cobra.Command, task *client.TaskInfo) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:       %s\n", task.ID)
	fmt.Fprintf(out, "File:     %s\n", task.FileID)
	fmt.Fprintf(out, "Steps:    %s\n", strings.Join(task.Steps, ", "))
	fmt.Fprintf(out, "State:    %s\n", task.State)
	fmt.Fprintf(out, "Priority: %d\n", task.Priority)
	if task.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", task.Error)
	}
	fmt.Fprintf(out, "Enqueued: %s\n", task.EnqueuedAt)
	if task.StartedAt != "" {
		fmt.Fprintf(out, "Started:  %s\n", task.StartedAt)
	}
	if task.FinishedAt != "" {
		fmt.Fprintf(out, "Finished: %s\n", task.FinishedAt)
	}
}
