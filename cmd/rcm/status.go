package main

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tunnel and proxy unit state on both hosts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, wf, err := loadWorkflow()
		if err != nil {
			return err
		}
		return renderStatus(cmd.OutOrStdout(), wf.Status(cmd.Context()))
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
