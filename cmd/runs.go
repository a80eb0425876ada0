package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/model"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List and inspect sourcing run history",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		market, _ := cmd.Flags().GetString("market")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Market: market,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(run); err != nil {
			return err
		}

		withPostings, _ := cmd.Flags().GetBool("postings")
		if !withPostings {
			return nil
		}

		records, err := st.ListRunPostings(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show postings")
		}
		formatRunPostings(os.Stdout, records)
		return nil
	},
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		// The store filters by status and market; the time window is
		// applied here so the filter surface stays small.
		runs, err := st.ListRuns(ctx, store.RunFilter{Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		since, _ := cmd.Flags().GetDuration("since")
		if since > 0 {
			cutoff := time.Now().Add(-since)
			kept := runs[:0]
			for _, r := range runs {
				if r.CreatedAt.After(cutoff) {
					kept = append(kept, r)
				}
			}
			runs = kept
		}

		formatRunStats(os.Stdout, computeRunStats(runs))
		return nil
	},
}

func init() {
	runsCmd.Flags().String("status", "", "filter by run status (queued, ingesting, ..., complete, failed)")
	runsCmd.Flags().String("market", "", "filter by market")
	runsCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsShowCmd.Flags().Bool("postings", false, "include the per-posting audit trail")

	runsStatsCmd.Flags().Duration("since", 7*24*time.Hour, "time window for stats (e.g. 24h, 168h)")

	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total      int
	Complete   int
	Failed     int
	InFlight   int
	Delivered  int
	TokenCost  float64
	SearchCost float64
	AvgDurSecs float64
}

// computeRunStats aggregates counts and spend over a list of runs.
func computeRunStats(runs []model.Run) runStats {
	var s runStats
	s.Total = len(runs)

	var totalDur time.Duration
	var durCount int

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			s.Complete++
		case model.RunStatusFailed:
			s.Failed++
		default:
			s.InFlight++
		}
		if r.Result == nil {
			continue
		}
		s.Delivered += r.Result.Counts.Delivered
		s.TokenCost += r.Result.TokenUsage.Cost
		s.SearchCost += r.Result.SearchCost
		if r.Result.Duration > 0 {
			totalDur += time.Duration(r.Result.Duration) * time.Millisecond
			durCount++
		}
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tMARKETS\tSTATUS\tDELIVERED\tCOST\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t-------\t------\t---------\t----\t-------")

	for _, r := range runs {
		delivered := "-"
		cost := "-"
		if r.Result != nil {
			delivered = fmt.Sprintf("%d", r.Result.Counts.Delivered)
			cost = fmt.Sprintf("$%.4f", r.Result.TokenUsage.Cost+r.Result.SearchCost)
		}

		markets := strings.Join(r.Markets, ",")
		if len(markets) > 30 {
			markets = markets[:27] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			markets,
			r.Status,
			delivered,
			cost,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatRunPostings writes the per-posting audit rows to w.
func formatRunPostings(out io.Writer, records []store.RunPostingRecord) {
	if len(records) == 0 {
		_, _ = fmt.Fprintln(out, "No posting records.")
		return
	}

	_, _ = fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "POSTING\tMARKET\tSTATUS\tMATCH\tPRIORITY\tSCORE")
	for _, rec := range records {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.2f\n",
			truncateID(rec.PostingID),
			rec.Market,
			rec.FinalStatus,
			rec.MatchLevel,
			rec.SortPriority,
			rec.QualityScore,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "In flight:\t%d\n", s.InFlight)
	_, _ = fmt.Fprintf(w, "Delivered:\t%d\n", s.Delivered)
	_, _ = fmt.Fprintf(w, "Token spend:\t$%.4f\n", s.TokenCost)
	_, _ = fmt.Fprintf(w, "Search spend:\t$%.4f\n", s.SearchCost)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
