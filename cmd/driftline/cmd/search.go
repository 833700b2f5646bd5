package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/driftline/driftline/internal/search"
	"github.com/driftline/driftline/internal/store"
)

func newSearchCmd() *cobra.Command {
	var (
		topK        int
		spaceIDs    []int64
		granularity string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Hybrid search across your search spaces",
		Long: `Runs vector and full-text search in parallel and fuses the two
rankings. Use --granularity=document to rank whole documents instead
of chunks.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			var gran store.Granularity
			switch granularity {
			case "chunk":
				gran = store.GranularityChunk
			case "document", "doc":
				gran = store.GranularityDocument
			default:
				return fmt.Errorf("invalid granularity %q (want chunk or document)", granularity)
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			if topK <= 0 {
				topK = a.cfg.Search.DefaultLimit
			}
			if topK > a.cfg.Search.MaxLimit {
				topK = a.cfg.Search.MaxLimit
			}

			retriever := search.NewRetriever(a.store, a.embedder, gran, search.Options{
				RRFConstant:      a.cfg.Search.RRFConstant,
				OversampleFactor: a.cfg.Search.OversampleFactor,
			})

			results, err := retriever.Search(cmd.Context(), query, topK, spaceIDs)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No results.")
				return nil
			}

			for i, res := range results {
				printResult(cmd, i+1, res)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "limit", "n", 0, "Maximum results (default from config)")
	cmd.Flags().Int64SliceVarP(&spaceIDs, "space", "s", nil, "Restrict to search space ids (repeatable)")
	cmd.Flags().StringVarP(&granularity, "granularity", "g", "chunk", "Result granularity: chunk or document")
	return cmd
}

func printResult(cmd *cobra.Command, rank int, res search.Result) {
	out := cmd.OutOrStdout()

	snippet := res.Content
	if len(snippet) > 240 {
		snippet = snippet[:240] + "..."
	}
	snippet = strings.ReplaceAll(snippet, "\n", " ")

	if stdoutIsTTY() {
		fmt.Fprintf(out, "%2d. %s  (score %.4f, space %d, doc %d)\n    %s\n\n",
			rank, res.Title, res.Score, res.SearchSpaceID, res.DocumentID, snippet)
		return
	}
	fmt.Fprintf(out, "%d\t%.4f\t%d\t%d\t%s\t%s\n",
		rank, res.Score, res.SearchSpaceID, res.DocumentID, res.Title, snippet)
}
