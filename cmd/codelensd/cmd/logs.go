package cmd

import (
	"github.com/spf13/cobra"

	"github.com/codelens-dev/codelens/internal/logging"
)

func newLogsCmd() *cobra.Command {
	var lines int
	var level string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent engine log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := logging.FindLogFile("")
			if err != nil {
				return err
			}
			viewer := logging.NewViewer(logging.ViewerConfig{Level: level}, cmd.OutOrStdout())
			entries, err := viewer.Tail(path, lines)
			if err != nil {
				return err
			}
			viewer.Print(entries)
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of log lines to show")
	cmd.Flags().StringVar(&level, "level", "", "filter by level: debug, info, warn, error")
	return cmd
}
