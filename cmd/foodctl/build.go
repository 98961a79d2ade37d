package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/foodsearch/foodsearch/internal/rebuild"
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build [locale...]",
	Short: "Rebuild locale indexes and write their snapshots",
	Long: `Rebuild the indexes of the given locales, or of every configured
locale, from the configured food source. Snapshots are written to
index.snapshotDir when it is set.

Examples:
  foodctl build
  foodctl build en de --json`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
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

	locales := args
	if len(locales) == 0 {
		locales = ix.Locales
	}
	var statuses []rebuild.Status
	var errs []error
	for _, l := range locales {
		st, err := ix.Coordinator.RebuildSync(ctx, l)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l, err))
		}
		if st.Locale != "" {
			statuses = append(statuses, st)
		}
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := writeJSON(out, statuses); err != nil {
			return err
		}
		return errors.Join(errs...)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOCALE\tVERSION\tSTATE\tENTRIES\tSKIPPED\tDEGRADED\tERROR")
	for _, st := range statuses {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%d\t%t\t%s\n",
			st.Locale, st.Version, st.State, st.Entries, st.Skipped, st.Degraded, st.LastError)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return errors.Join(errs...)
}
