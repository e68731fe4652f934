package main

import (
	"github.com/spf13/cobra"
)

var listPlain bool

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List services from the local and server Caddyfiles",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, wf, err := loadWorkflow()
		if err != nil {
			return err
		}
		inv, err := wf.Inventory(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if !listPlain {
			renderWarnings(out, "local "+inv.Local.Path, inv.Local.Warnings)
			renderWarnings(out, "remote "+inv.Remote.Path, inv.Remote.Warnings)
		}
		return renderInventory(out, inv, listPlain)
	},
}

func init() {
	listCmd.Flags().BoolVar(&listPlain, "plain", false, "one service per line without table formatting")
	rootCmd.AddCommand(listCmd)
}
