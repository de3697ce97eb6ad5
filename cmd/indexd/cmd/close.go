package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexd/internal/output"
)

func newCloseCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "close [prefix]",
		Short: "Close open index handles",
		Long: `Close open index handles without deleting anything on disk.

With a prefix argument, closes every open index whose path starts with
the prefix. With --all, closes everything. Closes are asynchronous: the
daemon acknowledges immediately and the handles drain in the background.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			return runClose(cmd, prefix, all)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Close every open index")
	return cmd
}

func runClose(cmd *cobra.Command, prefix string, all bool) error {
	out := output.New(cmd.OutOrStdout())

	switch {
	case all && prefix != "":
		return fmt.Errorf("give either a prefix or --all, not both")
	case !all && prefix == "":
		return fmt.Errorf("give a prefix to close, or --all to close everything")
	}

	client, err := newDaemonClient()
	if err != nil {
		return err
	}

	if all {
		if err := client.CloseAll(cmd.Context()); err != nil {
			return fmt.Errorf("close all: %w", err)
		}
		out.Success("Closing all open indexes")
		return nil
	}

	if err := client.CloseByPrefix(cmd.Context(), prefix); err != nil {
		return fmt.Errorf("close %s: %w", prefix, err)
	}
	out.Successf("Closing open indexes under %s", prefix)
	return nil
}
