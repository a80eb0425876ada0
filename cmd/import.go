package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/importer"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/rules"
)

var (
	importFile     string
	importMarket   string
	importPlatform string
	importSheet    string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Seed posting memory from an exported CSV or XLSX file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("import"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		rs, err := rules.Load(cfg.Rules.Path)
		if err != nil {
			return eris.Wrap(err, "load rules")
		}

		imp := importer.New(st, rs, cfg.Sourcing.StrictIdentity)
		res, err := imp.ImportFile(ctx, importFile, importer.Config{
			Market:   importMarket,
			Platform: importPlatform,
			Sheet:    importSheet,
		})
		if err != nil {
			return eris.Wrap(err, "import file")
		}

		zap.L().Info("import complete",
			zap.String("file", importFile),
			zap.String("market", importMarket),
			zap.Int("rows", res.Rows),
			zap.Int("skipped", res.Skipped),
			zap.Int("duplicates", res.Duplicates),
			zap.Int64("upserted", res.Upserted),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "path to CSV or XLSX file (required)")
	importCmd.Flags().StringVar(&importMarket, "market", "", "market to file postings under (required)")
	importCmd.Flags().StringVar(&importPlatform, "platform", "", "source platform label for rows without one")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "XLSX sheet name (default first sheet)")
	_ = importCmd.MarkFlagRequired("file")
	_ = importCmd.MarkFlagRequired("market")
	rootCmd.AddCommand(importCmd)
}
