package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"oculith/internal/client"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <file-id>",
		Short: "Follow a file's status stream until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.daemonClient()
			if err != nil {
				return err
			}
			watchCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			return c.Watch(watchCtx, args[0], func(evt client.StatusEvent) {
				if evt.Detail != "" {
					fmt.Fprintf(out, "%s  %-12s %s\n", evt.Timestamp, evt.Status, evt.Detail)
					return
				}
				fmt.Fprintf(out, "%s  %s\n", evt.Timestamp, evt.Status)
			})
		},
	}
}
