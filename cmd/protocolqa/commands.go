package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/protocolqa/internal/searcher"
	"github.com/dshills/protocolqa/internal/storage"
	"github.com/dshills/protocolqa/pkg/types"
)

func ingestCMD(cfgPath *string) *cobra.Command {
	var force bool

	ingest := &cobra.Command{
		Use:   "ingest <protocol.txt>",
		Short: "Build the persisted index for a protocol text file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			start := time.Now()
			manifest, err := a.ingest(cmd.Context(), args[0], force)
			if err != nil {
				return err
			}
			a.logger.Info("ingest complete", "duration", time.Since(start))
			return writeJSON(cmd.OutOrStdout(), manifest)
		},
	}
	ingest.Flags().BoolVar(&force, "force", false, "rebuild even when a persisted index exists")
	return ingest
}

func askCMD(cfgPath *string) *cobra.Command {
	var protocol string

	ask := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question about the indexed protocol",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.open(cmd.Context(), protocol); err != nil {
				return err
			}

			resp, err := a.engine.Ask(cmd.Context(), strings.Join(args, " "))
			if resp != nil {
				if werr := writeJSON(cmd.OutOrStdout(), resp); werr != nil {
					return werr
				}
			}
			return err
		},
	}
	ask.Flags().StringVar(&protocol, "protocol", "", "protocol text file to ingest before asking")
	return ask
}

func searchCMD(cfgPath *string) *cobra.Command {
	var (
		protocol   string
		limit      int
		mode       string
		section    string
		tablesOnly bool
	)

	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Retrieve protocol passages without generation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			searchMode, err := searcher.ParseSearchMode(mode)
			if err != nil {
				return err
			}

			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.open(cmd.Context(), protocol); err != nil {
				return err
			}

			req := searcher.SearchRequest{
				Query: strings.Join(args, " "),
				Limit: limit,
				Mode:  searchMode,
			}
			if section != "" || tablesOnly {
				req.Filters = &storage.SearchFilters{PathPrefix: section, TablesOnly: tablesOnly}
			}

			results, duration, err := a.engine.Search(cmd.Context(), req)
			if err != nil {
				return err
			}
			a.logger.Debug("search complete", "results", len(results), "duration", duration)
			return writeJSON(cmd.OutOrStdout(), results)
		},
	}
	search.Flags().StringVar(&protocol, "protocol", "", "protocol text file to ingest before searching")
	search.Flags().IntVarP(&limit, "limit", "n", types.DefaultTopK, "maximum number of results")
	search.Flags().StringVar(&mode, "mode", string(searcher.SearchModeHybrid), "hybrid, vector or keyword")
	search.Flags().StringVar(&section, "section", "", "restrict to a section path and its subsections")
	search.Flags().BoolVar(&tablesOnly, "tables-only", false, "only return table windows")
	return search
}

func statusCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted index and its statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.loadIfPresent(cmd.Context()); err != nil {
				return err
			}
			st, err := a.engine.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), st)
		},
	}
}
