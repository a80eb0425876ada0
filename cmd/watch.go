package main

import (
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/config"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/pipeline"
)

var (
	watchEvery string
	watchCron  string
	watchTerms string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Refresh configured markets on a schedule",
	Long:  "Runs the sourcing pipeline for sourcing.markets on a fixed interval or cron schedule, starting with an immediate refresh. Stops cleanly on SIGINT or SIGTERM.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cmd.Flags().Changed("every") {
			cfg.Watch.Every = watchEvery
		}
		if cmd.Flags().Changed("cron") {
			cfg.Watch.Cron = watchCron
		}

		env, err := initPipeline(ctx, "watch")
		if err != nil {
			return err
		}
		defer env.Close()

		startMonitoring(ctx, env.Store)

		markets := cfg.Sourcing.MarketList()
		refresh := func() {
			out, err := env.Pipeline.Run(ctx, pipeline.RunRequest{Markets: markets, Terms: watchTerms})
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				zap.L().Error("scheduled run failed", zap.Error(err))
				return
			}
			zap.L().Info("scheduled run complete",
				zap.String("run_id", out.RunID),
				zap.Int("delivered", out.Result.Counts.Delivered),
				zap.Float64("token_cost", out.Result.TokenUsage.Cost),
			)
		}

		spec := watchSpec(cfg.Watch)
		c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{})))
		if _, err := c.AddFunc(spec, refresh); err != nil {
			return eris.Wrapf(err, "watch: bad schedule %q", spec)
		}

		zap.L().Info("watch started",
			zap.String("schedule", spec),
			zap.Strings("markets", markets),
		)

		// Refresh immediately so a fresh deployment has postings to serve
		// before the first tick.
		go refresh()

		c.Start()
		<-ctx.Done()

		zap.L().Info("watch stopping")
		<-c.Stop().Done()
		return nil
	},
}

// watchSpec builds the cron spec. An explicit cron expression wins over
// the interval form.
func watchSpec(wc config.WatchConfig) string {
	if wc.Cron != "" {
		return wc.Cron
	}
	return "@every " + wc.Every
}

// cronLogger adapts the scheduler's logging onto zap.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	zap.L().Sugar().Debugw("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	zap.L().Sugar().Errorw("cron: "+msg, append(kv, "error", err)...)
}

func init() {
	watchCmd.Flags().StringVar(&watchEvery, "every", "", "refresh interval (e.g. 6h; default from config)")
	watchCmd.Flags().StringVar(&watchCron, "cron", "", "cron schedule (wins over --every)")
	watchCmd.Flags().StringVar(&watchTerms, "terms", "CDL driver", "search terms")
	rootCmd.AddCommand(watchCmd)
}
