package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/rcm/internal/config"
	"github.com/danmuck/rcm/internal/deploy"
	"github.com/danmuck/rcm/internal/logging"
	"github.com/danmuck/rcm/internal/reconcile"
	"github.com/spf13/cobra"
)

const (
	exitOK         = 0
	exitError      = 1
	exitNoServices = 2
	exitDispatch   = 3
)

var errDeclined = errors.New("aborted")

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "rcm",
	Short: "Keep rathole tunnels in sync with a Caddyfile",
	Long: `rcm treats a local Caddyfile as the source of truth for a rathole tunnel.

Annotate each site block with the client-side address it forwards to:

  # jellyfin: 192.168.1.20:8096
  media.example.com {
      reverse_proxy 127.0.0.1:5001
  }

rcm derives the rathole server.toml and client.toml from those annotations,
compares them with what the server currently serves and deploys the
difference over SSH.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		logging.ConfigureRuntime()
		if logLevel != "" {
			return logging.SetLevel(logLevel)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $RCM_CONFIG_PATH, $CONFIG_PATH or "+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil && !errors.Is(err, errDeclined) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	var dispatchErr *deploy.DispatchError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, reconcile.ErrNoServices):
		return exitNoServices
	case errors.As(err, &dispatchErr):
		return exitDispatch
	default:
		return exitError
	}
}

func loadConfig() (config.Config, error) {
	return config.Load(config.ResolvePath(configPath))
}

// loadWorkflow reads the config and wires a workflow with SSH endpoints.
func loadWorkflow() (config.Config, *reconcile.Workflow, error) {
	cfg, err := loadConfig()
	if err != nil {
		return config.Config{}, nil, err
	}
	wf, err := reconcile.New(cfg, reconcile.NewSSHConnector(cfg))
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, wf, nil
}
