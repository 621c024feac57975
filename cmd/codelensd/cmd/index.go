package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codelens-dev/codelens/internal/output"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a directory for search",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runIndex(cmd, path)
		},
	}
	return cmd
}

func runIndex(cmd *cobra.Command, path string) error {
	ctx := cmd.Context()
	out := output.New(cmd.OutOrStdout())

	h, err := bootstrapRepo(ctx, path)
	if err != nil {
		return err
	}
	defer func() { _ = h.Close() }()

	count, err := h.dispatcher.IndexDirectory(ctx, h.cfg.Watch.IgnorePatterns)
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}
	out.Successf("Indexed %d files into %s", count, h.dataDir)
	return nil
}
