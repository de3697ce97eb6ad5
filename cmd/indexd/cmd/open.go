package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexd/internal/output"
)

func newOpenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "open <path>",
		Short: "Open an index and pin it into the handle cache",
		Long: `Ask the daemon to open the index at the given path.

The path is relative to the index root. Opening an already-open index
just refreshes its cache position; opening a missing one creates it
when create_if_missing is enabled.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpen(cmd, args[0])
		},
	}
	return cmd
}

func runOpen(cmd *cobra.Command, path string) error {
	out := output.New(cmd.OutOrStdout())

	client, err := newDaemonClient()
	if err != nil {
		return err
	}

	result, err := client.Open(cmd.Context(), path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	if result.Cached {
		out.Successf("%s already open (%d documents)", result.Path, result.DocCount)
	} else {
		out.Successf("%s opened (%d documents)", result.Path, result.DocCount)
	}
	return nil
}
