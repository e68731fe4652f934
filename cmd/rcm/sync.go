package main

import (
	"errors"
	"fmt"

	"github.com/danmuck/rcm/internal/reconcile"
	"github.com/spf13/cobra"
)

var (
	syncDryRun   bool
	syncYes      bool
	syncForce    bool
	syncParallel bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Deploy the local Caddyfile and derived tunnel configs",
	Long: `Parse the local Caddyfile, compare it with the server's copy and deploy
the Caddyfile, server.toml and client.toml when they differ.

Services that would disappear from the server require confirmation unless
--yes is given. Without a local Caddyfile, sync downloads the server's copy
instead of deploying anything.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVarP(&syncDryRun, "dry-run", "n", false, "show the plan and generated configs without deploying")
	syncCmd.Flags().BoolVarP(&syncYes, "yes", "y", false, "do not ask before removing services")
	syncCmd.Flags().BoolVar(&syncForce, "force", false, "deploy even when the server already matches")
	syncCmd.Flags().BoolVar(&syncParallel, "parallel", false, "deploy server and client concurrently")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("parallel") {
		cfg.Deploy.Parallel = syncParallel
	}
	wf, err := reconcile.New(cfg, reconcile.NewSSHConnector(cfg))
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	prep, err := wf.Prepare(ctx, reconcile.Options{DryRun: syncDryRun, AutoConfirm: syncYes, Force: syncForce})
	renderWarnings(out, "local "+prep.Local.Path, prep.Local.Warnings)
	renderWarnings(out, "remote "+prep.Remote.Path, prep.Remote.Warnings)
	if errors.Is(err, reconcile.ErrNoServices) {
		fmt.Fprintln(out, "No services found. Annotate site blocks as: # name: host:port")
		return err
	}
	if err != nil {
		return err
	}

	if prep.Plan.Bootstrap {
		renderPlan(out, prep.Plan)
		if syncDryRun {
			fmt.Fprintf(out, "Would download %s:%s to %s\n", cfg.Server.Host, cfg.Server.Caddyfile, prep.Local.Path)
			return nil
		}
		report, err := wf.Apply(ctx, prep, true)
		renderReport(out, report)
		if err != nil {
			return err
		}
		local, err := wf.LoadLocal()
		if err != nil {
			return err
		}
		renderWarnings(out, "local "+local.Path, local.Warnings)
		fmt.Fprintf(out, "Pulled %s (%s). Edit it and run `rcm sync` again to deploy.\n", local.Path, servicesSummary(local.Set))
		return nil
	}

	fmt.Fprintf(out, "Local: %s\n", servicesSummary(prep.Local.Set))
	if !prep.Remote.Present {
		fmt.Fprintln(out, "Server has no Caddyfile yet.")
	}
	renderDelta(out, prep.Delta)
	renderPlan(out, prep.Plan)
	if prep.Plan.Empty() {
		return nil
	}

	if syncDryRun {
		fmt.Fprintf(out, "--- server.toml (%s) ---\n%s\n", cfg.Server.RatholeConfig, prep.Documents.Server)
		fmt.Fprintf(out, "--- client.toml (%s) ---\n%s\n", cfg.Client.RatholeConfig, prep.Documents.Client)
		fmt.Fprintln(out, "No changes deployed (dry run).")
		return nil
	}

	confirmed := !prep.Plan.RequiresConfirmation
	if !confirmed {
		ok, err := confirm(cmd.InOrStdin(), out, "Continue and remove these services?")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "Aborted.")
			return errDeclined
		}
		confirmed = true
	}

	report, err := wf.Apply(ctx, prep, confirmed)
	renderReport(out, report)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "All %d services synced.\n", prep.Local.Set.Len())
	return nil
}
