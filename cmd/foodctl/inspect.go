package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/foodsearch/foodsearch/internal/snapshot"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [locale...]",
	Short: "Show snapshot headers without loading their payloads",
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

type inspected struct {
	Locale string `json:"locale"`
	snapshot.Header
	Error string `json:"error,omitempty"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Index.SnapshotDir == "" {
		return errors.New("index.snapshotDir is not configured")
	}
	store, err := snapshot.NewStore(cfg.Index.SnapshotDir)
	if err != nil {
		return err
	}
	defer store.Close()

	locales := args
	if len(locales) == 0 {
		if locales, err = store.Locales(); err != nil {
			return err
		}
	}
	rows := make([]inspected, 0, len(locales))
	for _, l := range locales {
		h, err := store.Inspect(l)
		row := inspected{Locale: l, Header: h}
		if err != nil {
			row.Error = err.Error()
		}
		rows = append(rows, row)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, rows)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOCALE\tVERSION\tENTRIES\tBUILT\tPAYLOAD\tERROR")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%d\t%s\n",
			r.Locale, r.IndexVersion, r.EntryCount, formatTime(r.BuiltAt), r.PayloadSize, r.Error)
	}
	return tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
