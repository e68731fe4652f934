package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pullYes bool

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Download the server's Caddyfile over the local one",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, wf, err := loadWorkflow()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		local, err := wf.LoadLocal()
		if err != nil {
			return err
		}
		if local.Present && !pullYes {
			ok, err := confirm(cmd.InOrStdin(), out, fmt.Sprintf("Overwrite %s with %s:%s?", local.Path, cfg.Server.Host, cfg.Server.Caddyfile))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(out, "Aborted.")
				return errDeclined
			}
		}

		report, err := wf.Pull(cmd.Context())
		if err != nil {
			renderReport(out, report)
			return err
		}
		pulled, err := wf.LoadLocal()
		if err != nil {
			return err
		}
		renderWarnings(out, "local "+pulled.Path, pulled.Warnings)
		fmt.Fprintf(out, "Pulled %s (%s)\n", pulled.Path, servicesSummary(pulled.Set))
		return nil
	},
}

func init() {
	pullCmd.Flags().BoolVarP(&pullYes, "yes", "y", false, "overwrite without asking")
	rootCmd.AddCommand(pullCmd)
}
