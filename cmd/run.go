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
	"go.uber.org/zap"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/pipeline"
)

var (
	runMarkets      []string
	runTerms        string
	runStrategy     string
	runClassifier   string
	runMaxJobs      int
	runMemoryOnly   bool
	runForceRefresh bool
	runJSON         bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sourcing pipeline for one or more markets",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		applyRunFlags(cmd)

		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		markets := runMarkets
		if len(markets) == 0 {
			markets = cfg.Sourcing.MarketList()
		}

		out, err := env.Pipeline.Run(ctx, pipeline.RunRequest{Markets: markets, Terms: runTerms})
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("run complete",
			zap.String("run_id", out.RunID),
			zap.Int("delivered", out.Result.Counts.Delivered),
			zap.Float64("token_cost", out.Result.TokenUsage.Cost),
			zap.Float64("search_cost", out.Result.SearchCost),
		)

		if runJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		formatRunOutput(os.Stdout, out)
		return nil
	},
}

// applyRunFlags copies explicitly set flags over the loaded config so a
// flag wins but an omitted flag leaves config and env values alone.
func applyRunFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("strategy") {
		cfg.Sourcing.Strategy = runStrategy
	}
	if cmd.Flags().Changed("classifier") {
		cfg.Classify.Classifier = runClassifier
	}
	if cmd.Flags().Changed("max-jobs") {
		cfg.Filter.MaxJobs = runMaxJobs
	}
	if runMemoryOnly {
		cfg.Sourcing.MemoryOnly = true
	}
	if runForceRefresh {
		cfg.Classify.ForceRefresh = true
	}
}

// formatRunOutput writes a run summary and the delivered postings to w.
func formatRunOutput(out io.Writer, ro *pipeline.RunOutput) {
	r := ro.Result
	c := r.Counts

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", ro.RunID)
	_, _ = fmt.Fprintf(w, "Ingested:\t%d (memory %d, fresh %d)\n", c.Ingested, c.FromMemory, c.FromFresh)
	_, _ = fmt.Fprintf(w, "Excluded:\t%d quality, %d duplicates, %d routing, %d capped\n",
		c.QualityExcluded, c.DuplicatesRemoved, c.RoutingExcluded, c.Capped)
	_, _ = fmt.Fprintf(w, "Classified:\t%d (%d skipped, %d failed)\n",
		c.Classified, c.ClassificationSkipped, c.ClassificationFailed)
	_, _ = fmt.Fprintf(w, "Delivered:\t%d\n", c.Delivered)
	_, _ = fmt.Fprintf(w, "Cost:\t$%.4f tokens + $%.4f searches\n", r.TokenUsage.Cost, r.SearchCost)
	_, _ = fmt.Fprintf(w, "Duration:\t%s\n", (time.Duration(r.Duration) * time.Millisecond).Round(time.Millisecond))
	if len(r.BypassedMarkets) > 0 {
		_, _ = fmt.Fprintf(w, "Bypassed:\t%s\n", strings.Join(r.BypassedMarkets, ", "))
	}
	if len(r.DegradedMarkets) > 0 {
		_, _ = fmt.Fprintf(w, "Degraded:\t%s\n", strings.Join(r.DegradedMarkets, ", "))
	}
	_ = w.Flush()

	if len(ro.Postings) == 0 {
		return
	}

	_, _ = fmt.Fprintln(out)
	pw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(pw, "MARKET\tCOMPANY\tTITLE\tMATCH\tROUTE\tFAIR\tSCORE")
	for _, p := range ro.Postings {
		fair := ""
		if p.FairChance {
			fair = "yes"
		}
		_, _ = fmt.Fprintf(pw, "%s\t%s\t%s\t%s\t%s\t%s\t%.2f\n",
			p.Market,
			truncate(p.CompanyOriginal, 28),
			truncate(p.Title, 40),
			p.MatchLevel,
			p.RouteType,
			fair,
			p.QualityScore,
		)
	}
	_ = pw.Flush()
}

// truncate shortens s for compact table display.
func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

func init() {
	runCmd.Flags().StringArrayVar(&runMarkets, "market", nil, "market to source (repeatable; default from config)")
	runCmd.Flags().StringVar(&runTerms, "terms", "CDL driver", "search terms")
	runCmd.Flags().StringVar(&runStrategy, "strategy", "", "sourcing strategy (memory_first, always_fresh, balanced)")
	runCmd.Flags().StringVar(&runClassifier, "classifier", "", "classifier prompt (cdl, pathway)")
	runCmd.Flags().IntVar(&runMaxJobs, "max-jobs", 0, "delivery cap across the run (0 = no cap)")
	runCmd.Flags().BoolVar(&runMemoryOnly, "memory-only", false, "serve from memory only, never call providers")
	runCmd.Flags().BoolVar(&runForceRefresh, "force-refresh", false, "reclassify postings even when memory is fresh")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the full result as JSON")
	rootCmd.AddCommand(runCmd)
}
