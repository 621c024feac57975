package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codelens-dev/codelens/internal/dispatcher"
	"github.com/codelens-dev/codelens/internal/output"
)

type searchOptions struct {
	root     string
	limit    int
	mode     string
	language string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search an indexed codebase",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), opts)
		},
	}
	cmd.Flags().StringVar(&opts.root, "root", ".", "repository root to search")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "maximum number of results")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "hybrid", "search mode: lexical, semantic, hybrid")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "filter by language")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	ctx := cmd.Context()
	out := output.New(cmd.OutOrStdout())

	h, err := bootstrapRepo(ctx, opts.root)
	if err != nil {
		return err
	}
	defer func() { _ = h.Close() }()

	outcome, err := h.dispatcher.Search(ctx, query, dispatcher.Mode(opts.mode), opts.limit, opts.language)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if outcome.Degraded {
		out.Warning("vector retriever unavailable, results are lexical-only")
	}
	if len(outcome.Results) == 0 {
		out.Linef("", "No results found for %q", query)
		return nil
	}

	out.Linef("🔍", "Found %d results for %q:", len(outcome.Results), query)
	out.Blank()
	for i, r := range outcome.Results {
		location := r.RelativePath
		if r.Line > 0 {
			location = fmt.Sprintf("%s:%d", r.RelativePath, r.Line)
		}
		via := strings.Join(r.Provenance, "+")
		out.Linef("", "%d. %s (score: %.3f, via: %s)", i+1, location, r.Score, via)
		if r.Snippet != "" {
			out.Line("", "   "+firstLine(r.Snippet))
		}
	}
	return nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
