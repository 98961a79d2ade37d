package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/foodsearch/foodsearch/internal/matcher"
	"github.com/foodsearch/foodsearch/internal/search"
	"github.com/spf13/cobra"
)

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <locale> <query>",
	Short: "Search one locale from the command line",
	Long: `Load every configured locale (from snapshots when present, otherwise
by rebuilding) and run one query against the given locale.

Examples:
  foodctl search en "chiken curry"
  foodctl search de strasse --limit 5 --json`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", 0, "maximum number of results (0 uses the configured default)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	ix, closeAll, err := openIndexing(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeAll()

	if err := ix.Coordinator.Warm(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}

	w := cfg.Search.Weights
	mt := matcher.New(ix.Coordinator, matcher.Config{
		Weights:      matcher.Weights{Exact: w.Exact, Synonym: w.Synonym, Phonetic: w.Phonetic, LengthPenalty: w.LengthPenalty},
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxResults:   cfg.Search.MaxResults,
	})
	svc := search.New(mt, ix.Coordinator, search.Options{Timeout: cfg.Search.Timeout})

	res, err := svc.Search(ctx, args[0], strings.Join(args[1:], " "), searchLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, res)
	}
	fmt.Fprintf(out, "locale %s, index v%d, tokens %v, %d hits\n", res.Locale, res.Version, res.Tokens, res.TotalHits)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FOOD\tSCORE\tEXACT\tSYNONYM\tPHONETIC\tMATCHED")
	for _, m := range res.Matches {
		fmt.Fprintf(tw, "%s\t%.3f\t%d\t%d\t%d\t%s\n",
			m.FoodID, m.Score, m.ExactMatches, m.SynonymMatches, m.PhoneticOnly, strings.Join(m.MatchedTokens, ","))
	}
	return tw.Flush()
}
