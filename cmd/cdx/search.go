package main

import (
	"github.com/spf13/cobra"

	"github.com/coursedex/coursedex/internal/ranking"
	"github.com/coursedex/coursedex/internal/search"
)

var searchLimit int

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "Maximum results to return (default: search_limit from config)")
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search indexed materials",
	Long: `Search indexed materials by their text.

Results are ordered by a blend of textual similarity and average rating;
rating_weight in the config sets how much similarity counts.

Examples:
  cdx search "eigenvalues of symmetric matrices"
  cdx search "intro to recursion" --limit 5 --human`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	a := mustOpenApp()
	defer a.close()

	limit := searchLimit
	if limit == 0 {
		limit = a.cfg.SearchLimit
	}
	ranker, err := ranking.NewRanker(a.cfg.RatingWeight)
	exitOnError(err, "configuring ranking")

	svc := search.NewService(a.index(), a.db, ranker, a.logger)
	results, err := svc.Search(cmd.Context(), args[0], limit)
	exitOnError(err, "searching")

	if humanOutput {
		if len(results) == 0 {
			outputHuman("No materials found\n")
			return nil
		}
		for i, r := range results {
			outputHuman("%d. [%.2f] %s\n", i+1, r.Score, r.Material.ID)
			outputHuman("   %s\n", truncateString(r.Material.Title, SearchTitleMaxLen))
			outputHuman("   similarity %.2f, rating %s\n\n", r.Similarity,
				formatRating(r.Material.AverageRating, r.Material.RatingCount))
		}
		return nil
	}
	outputJSON(results)
	return nil
}
