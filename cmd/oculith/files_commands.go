package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newFilesCommand(ctx *commandContext) *cobra.Command {
	filesCmd := &cobra.Command{
		Use:   "files",
		Short: "Inspect registered files",
	}

	var statusFilter string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered files",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.daemonClient()
			if err != nil {
				return err
			}
			list, err := c.ListFiles(cmd.Context(), statusFilter)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No files registered.")
				return nil
			}

			rows := make([][]string, 0, len(list))
			for _, f := range list {
				rows = append(rows, []string{
					f.ID,
					f.OriginalName,
					f.Status,
					fmt.Sprintf("%d", f.SizeBytes),
					fmt.Sprintf("%d", f.ChunkCount),
					f.UpdatedAt,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Name", "Status", "Bytes", "Chunks", "Updated"},
				rows, 3, 4,
			))
			return nil
		},
	}
	listCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (comma separated)")

	showCmd := &cobra.Command{
		Use:   "show <file-id>",
		Short: "Show one file record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.daemonClient()
			if err != nil {
				return err
			}
			f, err := c.GetFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:        %s\n", f.ID)
			fmt.Fprintf(out, "Name:      %s\n", f.OriginalName)
			fmt.Fprintf(out, "Source:    %s%s\n", f.SourceType, suffixIf(f.SourceURL != "", " ("+f.SourceURL+")"))
			fmt.Fprintf(out, "Status:    %s\n", f.Status)
			if f.LastStage != "" {
				fmt.Fprintf(out, "LastStage: %s\n", f.LastStage)
			}
			if len(f.RequestedSteps) > 0 {
				fmt.Fprintf(out, "Steps:     %s\n", strings.Join(f.RequestedSteps, ", "))
			}
			if f.LastError != "" {
				fmt.Fprintf(out, "Error:     %s\n", f.LastError)
			}
			fmt.Fprintf(out, "Chunks:    %d\n", f.ChunkCount)
			fmt.Fprintf(out, "Updated:   %s\n", f.UpdatedAt)
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <file-id>",
		Short: "Delete a file and its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.daemonClient()
			if err != nil {
				return err
			}
			if err := c.DeleteFile(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}

	markdownCmd := &cobra.Command{
		Use:   "markdown <file-id>",
		Short: "Print a file's converted markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.daemonClient()
			if err != nil {
				return err
			}
			markdown, err := c.Markdown(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), markdown)
			return nil
		},
	}

	filesCmd.AddCommand(listCmd)
	filesCmd.AddCommand(showCmd)
	filesCmd.AddCommand(deleteCmd)
	filesCmd.AddCommand(markdownCmd)
	return filesCmd
}

func suffixIf(cond bool, suffix string) string {
	if cond {
		return suffix
	}
	return ""
}
