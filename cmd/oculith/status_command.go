package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.daemonClient()
			if err != nil {
				return err
			}
			status, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			fmt.Fprintf(out, "Uptime:      %s\n", (time.Duration(status.UptimeSeconds) * time.Second).String())
			fmt.Fprintf(out, "Queue depth: %d\n", status.QueueDepth)

			if len(status.Files) > 0 {
				fmt.Fprintln(out, "Files:")
				keys := make([]string, 0, len(status.Files))
				for status := range status.Files {
					keys = append(keys, status)
				}
				sort.Strings(keys)
				for _, key := range keys {
					fmt.Fprintf(out, "  %-12s %d\n", key, status.Files[key])
				}
			}

			fmt.Fprintln(out, "Stages:")
			for _, stage := range status.Stages {
				label := "ready"
				if !stage.Ready {
					label = "unavailable"
					if stage.Detail != "" {
						label += " (" + stage.Detail + ")"
					}
				}
				line := fmt.Sprintf("  %-12s %s", stage.Name, label)
				if colorize {
					if stage.Ready {
						line = "\x1b[32m" + line + "\x1b[0m"
					} else {
						line = "\x1b[31m" + line + "\x1b[0m"
					}
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}
