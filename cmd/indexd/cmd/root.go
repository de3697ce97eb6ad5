// Package cmd provides the CLI commands for indexd.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexd/internal/config"
	"github.com/Aman-CERP/indexd/internal/daemon"
	"github.com/Aman-CERP/indexd/pkg/version"
)

// Flags shared by every subcommand.
var (
	configPath string
	socketPath string
)

// NewRootCmd creates the root command for the indexd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "indexd",
		Short: "Broker daemon for shared index handles",
		Long: `indexd owns a directory of search indexes and brokers access to them.

Index directories tolerate exactly one opener, so indexd keeps a bounded
cache of open handles, coordinates concurrent open requests, and closes
handles again when they fall out of use, crash, or their files disappear.

Run 'indexd serve' to start the daemon, then talk to it with the other
subcommands over its Unix socket.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.SetVersionTemplate("indexd version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ~/.config/indexd/config.yaml)")
	cmd.PersistentFlags().StringVar(&socketPath, "socket", "", "Daemon socket path (overrides config)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newOpenCmd())
	cmd.AddCommand(newCloseCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newDiskSizeCmd())
	cmd.AddCommand(newSnapshotCmd())
	cmd.AddCommand(newIndexesCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig loads the effective configuration for the current invocation.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if socketPath != "" {
		cfg.Daemon.SocketPath = socketPath
	}
	return cfg, nil
}

// daemonConfig derives the socket client configuration.
func daemonConfig(cfg *config.Config) daemon.Config {
	dc := daemon.DefaultConfig()
	dc.SocketPath = cfg.Daemon.SocketPath
	dc.PIDPath = cfg.Daemon.PIDFile
	dc.ShutdownGracePeriod = cfg.ShutdownGrace()
	return dc
}

// newDaemonClient builds a client for the configured socket and verifies
// the daemon is actually there.
func newDaemonClient() (*daemon.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	client := daemon.NewClient(daemonConfig(cfg))
	if !client.IsRunning() {
		return nil, fmt.Errorf("daemon is not running (socket %s); start it with 'indexd serve'", cfg.Daemon.SocketPath)
	}
	return client, nil
}
