package main

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"oculith/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create configuration",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented sample configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := *ctx.configFlag
			if target == "" {
				var err error
				target, err = config.DefaultConfigPath()
				if err != nil {
					return err
				}
			}
			if err := config.WriteSample(target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", target)
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			data, err := toml.Marshal(cfg)
			if err != nil {
				return err
			}
			if ctx.configPath != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", ctx.configPath)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	return configCmd
}
