package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexd/internal/daemon"
	"github.com/Aman-CERP/indexd/internal/output"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Long: `Show the current status of the daemon.

Displays the process ID, uptime, index root, and how many index handles
are currently open against the configured capacity.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runStatus(cmd *cobra.Command, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := daemon.NewClient(daemonConfig(cfg))
	if !client.IsRunning() {
		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(daemon.StatusResult{Running: false})
		}
		out.Status("", "Daemon is not running")
		out.Status("", "Run 'indexd serve' to start it")
		return nil
	}

	status, err := client.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	out.Status("", "Daemon is running")
	out.Status("", fmt.Sprintf("  PID:          %d", status.PID))
	out.Status("", fmt.Sprintf("  Uptime:       %s", status.Uptime))
	out.Status("", fmt.Sprintf("  Version:      %s", status.Version))
	out.Status("", fmt.Sprintf("  Index root:   %s", status.RootDir))
	out.Status("", fmt.Sprintf("  Open handles: %d / %d", status.LiveHandles, status.Capacity))
	if status.PendingOpens > 0 {
		out.Status("", fmt.Sprintf("  Pending opens: %d", status.PendingOpens))
	}
	out.Status("", fmt.Sprintf("  Socket:       %s", cfg.Daemon.SocketPath))

	if len(status.Paths) > 0 {
		out.Newline()
		out.Status("", "Open indexes (least recently used first):")
		for _, p := range status.Paths {
			out.Status("", fmt.Sprintf("  %s", p))
		}
	}

	return nil
}
