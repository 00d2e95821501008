package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var process bool
	cmd := &cobra.Command{
		Use:   "upload <path>",
		Short: "Register a local file with the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.daemonClient()
			if err != nil {
				return err
			}
			info, err := c.Upload(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s as %s\n", info.OriginalName, info.ID)

			if process {
				task, err := c.Process(cmd.Context(), info.ID, nil, 0)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued task %s\n", task.ID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&process, "process", false, "Queue the full pipeline after registering")
	return cmd
}

func newRemoteCommand(ctx *commandContext) *cobra.Command {
	var process bool
	cmd := &cobra.Command{
		Use:   "remote <url>",
		Short: "Register a remote document by URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.daemonClient()
			if err != nil {
				return err
			}
			info, err := c.Remote(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s as %s\n", info.OriginalName, info.ID)

			if process {
				task, err := c.Process(cmd.Context(), info.ID, nil, 0)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued task %s\n", task.ID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&process, "process", false, "Queue the full pipeline after registering")
	return cmd
}

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var priority int
	cmd := &cobra.Command{
		Use:   "process <file-id> [step ...]",
		Short: "Queue processing steps for a file",
		Long: "Queue processing steps for a file. With no steps the full " +
			"pipeline (convert, chunk, index) runs.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.daemonClient()
			if err != nil {
				return err
			}
			task, err := c.Process(cmd.Context(), args[0], args[1:], priority)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued task %s (%s)\n", task.ID, task.State)
			return nil
		},
	}
	cmd.Flags().IntVar(&priority, "priority", 0, "Task priority (lower runs first)")
	return cmd
}
