package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexd/internal/output"
)

func newIndexesCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "indexes",
		Short: "List every index the daemon has ever opened",
		Long: `List the indexes recorded in the daemon's registry.

Shows each index path with its lifetime open count and when it was last
opened and closed. Requires the registry to be enabled in the config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndexes(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runIndexes(cmd *cobra.Command, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())

	client, err := newDaemonClient()
	if err != nil {
		return err
	}

	entries, err := client.Indexes(cmd.Context())
	if err != nil {
		return fmt.Errorf("list indexes: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		out.Status("", "No indexes recorded yet")
		return nil
	}

	const timeLayout = "2006-01-02 15:04:05"
	out.Statusf("", "%-40s %6s  %-19s  %-19s", "PATH", "OPENS", "LAST OPENED", "LAST CLOSED")
	for _, e := range entries {
		lastOpened, lastClosed := "-", "-"
		if !e.LastOpenedAt.IsZero() {
			lastOpened = e.LastOpenedAt.Local().Format(timeLayout)
		}
		if !e.LastClosedAt.IsZero() {
			lastClosed = e.LastClosedAt.Local().Format(timeLayout)
		}
		out.Statusf("", "%-40s %6d  %-19s  %-19s", e.Path, e.OpenCount, lastOpened, lastClosed)
	}

	return nil
}
