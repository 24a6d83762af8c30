package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/house-scraper/internal/model"
)

var syncStatusCmd = &cobra.Command{
	Use:   "sync-status",
	Short: "Copy review tags from the status ledger into the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, _, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		updated, notStored, err := newQueue().SyncLedgerToStore(ctx, st)
		if err != nil {
			return eris.Wrap(err, "sync-status")
		}
		_, _ = fmt.Fprintf(os.Stdout, "Updated %d statuses (%d ledger entries not in the store)\n", updated, notStored)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show property counts by review status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, _, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		total, err := st.Count(ctx)
		if err != nil {
			return eris.Wrap(err, "stats: count")
		}
		counts, err := st.StatusCounts(ctx)
		if err != nil {
			return eris.Wrap(err, "stats: status counts")
		}

		formatStats(os.Stdout, total, counts, cfg.Store.Driver+" "+cfg.Store.DatabaseURL)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncStatusCmd)
	rootCmd.AddCommand(statsCmd)
}

// statusLabel renders a review tag for humans.
func statusLabel(s model.ReviewStatus) string {
	if s == model.StatusUnreviewed {
		return "not reviewed"
	}
	return string(s)
}

// formatStats writes the total and a per-status breakdown with percentages.
func formatStats(out io.Writer, total int, counts map[model.ReviewStatus]int, location string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total properties:\t%d\n", total)

	statuses := make([]model.ReviewStatus, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })

	if len(statuses) > 0 {
		_, _ = fmt.Fprintln(w, "By status:\t")
	}
	for _, s := range statuses {
		n := counts[s]
		pct := 0.0
		if total > 0 {
			pct = float64(n) / float64(total) * 100
		}
		_, _ = fmt.Fprintf(w, "  %s\t%d (%.1f%%)\n", statusLabel(s), n, pct)
	}
	_, _ = fmt.Fprintf(w, "Database:\t%s\n", location)
	_ = w.Flush()
}
