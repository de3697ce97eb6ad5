package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexd/internal/output"
)

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot <path> <dest>",
		Short: "Write a consistent copy of an index to a directory",
		Long: `Snapshot the index at the given path into the destination directory.

An open index snapshots through its live handle so in-flight writes are
flushed first; a closed index is copied file by file. The destination
must not exist yet.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(cmd, args[0], args[1])
		},
	}
	return cmd
}

func runSnapshot(cmd *cobra.Command, path, dest string) error {
	out := output.New(cmd.OutOrStdout())

	client, err := newDaemonClient()
	if err != nil {
		return err
	}

	result, err := client.Snapshot(cmd.Context(), path, dest)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", path, err)
	}

	out.Successf("Snapshot of %s written to %s", result.Path, result.Dest)
	return nil
}
