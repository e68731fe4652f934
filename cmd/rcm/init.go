package main

import (
	"fmt"

	"github.com/danmuck/rcm/internal/config"
	"github.com/spf13/cobra"
)

var (
	initForce  bool
	initFormat string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := config.ResolvePath(configPath)
		kind := initFormat
		if kind == "" {
			kind = config.TemplateKind(path)
		}
		if err := config.WriteTemplate(path, kind, initForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s config to %s\n", kind, path)
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Validated config at %s\n", cfg.Source)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	initCmd.Flags().StringVar(&initFormat, "format", "", "toml or yaml (default from file extension)")
	rootCmd.AddCommand(initCmd, validateCmd)
}
