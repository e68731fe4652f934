package main

import (
	"github.com/spf13/cobra"
)

var (
	restartServer bool
	restartClient bool
)

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart tunnel and proxy units without deploying",
	Long: `Restart rathole-server and caddy on the server, then rathole-client on the
client. --server or --client limits the restart to one host.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, wf, err := loadWorkflow()
		if err != nil {
			return err
		}
		server, client := restartServer, restartClient
		if !server && !client {
			server, client = true, true
		}
		report, err := wf.Restart(cmd.Context(), server, client)
		renderReport(cmd.OutOrStdout(), report)
		return err
	},
}

func init() {
	restartCmd.Flags().BoolVar(&restartServer, "server", false, "restart server units only")
	restartCmd.Flags().BoolVar(&restartClient, "client", false, "restart client units only")
	rootCmd.AddCommand(restartCmd)
}
