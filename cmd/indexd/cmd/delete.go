package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexd/internal/daemon"
	"github.com/Aman-CERP/indexd/internal/output"
)

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <path>",
		Short: "Delete an open index and its files",
		Long: `Delete the open index at the given path.

The daemon forwards the delete to the live handle, which closes and
removes its files from disk. Only open indexes can be deleted this way;
a closed index is just a directory, remove it with your file tools.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd, args[0])
		},
	}
	return cmd
}

func runDelete(cmd *cobra.Command, path string) error {
	out := output.New(cmd.OutOrStdout())

	client, err := newDaemonClient()
	if err != nil {
		return err
	}

	if err := client.Delete(cmd.Context(), path); err != nil {
		var rpcErr *daemon.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == daemon.ErrCodeNotFound {
			return fmt.Errorf("%s is not open; remove the directory directly if you want it gone", path)
		}
		return fmt.Errorf("delete %s: %w", path, err)
	}

	out.Successf("Deleting %s", path)
	return nil
}
