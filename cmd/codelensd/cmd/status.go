package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codelens-dev/codelens/internal/output"
)

func newStatusCmd() *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show indexing status for a repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, root)
		},
	}
	cmd.Flags().StringVar(&root, "root", ".", "repository root")
	return cmd
}

func runStatus(cmd *cobra.Command, root string) error {
	ctx := cmd.Context()
	out := output.New(cmd.OutOrStdout())

	h, err := bootstrapRepo(ctx, root)
	if err != nil {
		return err
	}
	defer func() { _ = h.Close() }()

	status, err := h.dispatcher.GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	out.Line("", fmt.Sprintf("repo:            %s", status.RepoID))
	out.Line("", fmt.Sprintf("root:            %s", status.RootPath))
	out.Line("", fmt.Sprintf("data dir:        %s", h.dataDir))
	out.Line("", fmt.Sprintf("last indexed at: %s", status.LastIndexedAt))
	out.Line("", fmt.Sprintf("semantic:        %v", h.sem != nil))
	return nil
}
