package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var fileID string
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed chunks by similarity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.daemonClient()
			if err != nil {
				return err
			}
			hits, err := c.Search(cmd.Context(), args[0], fileID, limit)
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No matches.")
				return nil
			}

			rows := make([][]string, 0, len(hits))
			for _, hit := range hits {
				content := hit.Content
				if len(content) > 80 {
					content = content[:77] + "..."
				}
				rows = append(rows, []string{
					fmt.Sprintf("%.3f", hit.Score),
					hit.FileID,
					fmt.Sprintf("%d", hit.Seq),
					content,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Score", "File", "Chunk", "Content"},
				rows, 0, 2,
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&fileID, "file", "", "Restrict search to one file")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of results")
	return cmd
}
