package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexd/internal/config"
	"github.com/Aman-CERP/indexd/internal/logging"
)

func newLogsCmd() *cobra.Command {
	var (
		follow  bool
		lines   int
		level   string
		filter  string
		logFile string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View daemon logs",
		Long: `View and tail the daemon's log file.

By default, shows the last 50 lines. Use -f to follow new entries in
real time, like 'tail -f'.

Examples:
  indexd logs                  # Show last 50 lines
  indexd logs -n 200           # Show last 200 lines
  indexd logs -f               # Follow in real time
  indexd logs --level warn     # Warnings and errors only
  indexd logs --filter evicted # Lines matching a pattern`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(cmd, follow, lines, level, filter, logFile)
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output (like tail -f)")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&level, "level", "", "Filter by log level (debug|info|warn|error)")
	cmd.Flags().StringVar(&filter, "filter", "", "Filter by pattern (regex)")
	cmd.Flags().StringVar(&logFile, "file", "", "Path to log file (overrides config)")

	return cmd
}

func runLogs(cmd *cobra.Command, follow bool, lines int, level, filter, logFile string) error {
	// Prefer the configured log location over the built-in default.
	if logFile == "" {
		if cfg, err := config.Load(configPath); err == nil {
			logFile = cfg.Logging.File
		}
	}

	path, err := logging.FindLogFile(logFile)
	if err != nil {
		return err
	}

	var pattern *regexp.Regexp
	if filter != "" {
		pattern, err = regexp.Compile(filter)
		if err != nil {
			return fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	viewer := logging.NewViewer(logging.ViewerConfig{
		Level:   level,
		Pattern: pattern,
	}, cmd.OutOrStdout())

	fmt.Fprintf(cmd.ErrOrStderr(), "Log file: %s\n", path)
	if follow {
		fmt.Fprintln(cmd.ErrOrStderr(), "Following... (Ctrl+C to stop)")
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "---")

	if follow {
		return runLogsFollow(cmd, viewer, path)
	}

	entries, err := viewer.Tail(path, lines)
	if err != nil {
		return err
	}
	viewer.Print(entries)
	return nil
}

func runLogsFollow(cmd *cobra.Command, viewer *logging.Viewer, path string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	entries := make(chan logging.LogEntry, 100)
	errCh := make(chan error, 1)

	go func() {
		errCh <- viewer.Follow(ctx, path, entries)
	}()

	for {
		select {
		case entry := <-entries:
			viewer.PrintEntry(entry)
		case err := <-errCh:
			return err
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\n---")
			fmt.Fprintln(os.Stderr, "Stopped.")
			return nil
		}
	}
}
