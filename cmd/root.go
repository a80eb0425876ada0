package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "coach-cli",
	Short: "CDL job sourcing pipeline for career coaches",
	Long:  "Sources driver job postings from search providers or warm memory, normalizes and scores them, collapses duplicates, classifies match quality via Claude, and routes the survivors into a coach-ready delivery order.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
