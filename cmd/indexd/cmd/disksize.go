package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexd/internal/output"
)

func newDiskSizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disk-size <path>",
		Short: "Report the on-disk size of an index",
		Long: `Report how many bytes the index at the given path occupies on disk.

Counts regular files directly under the index directory. A missing
index reports 0 rather than failing, so scripts can probe paths.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiskSize(cmd, args[0])
		},
	}
	return cmd
}

func runDiskSize(cmd *cobra.Command, path string) error {
	out := output.New(cmd.OutOrStdout())

	client, err := newDaemonClient()
	if err != nil {
		return err
	}

	size, err := client.DiskSize(cmd.Context(), path)
	if err != nil {
		return fmt.Errorf("disk-size %s: %w", path, err)
	}

	out.Statusf("", "%s: %s", path, formatBytes(size))
	return nil
}

// formatBytes renders a byte count the way humans read them.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
