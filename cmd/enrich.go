package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lexbook/lexipipe/internal/config"
	"github.com/lexbook/lexipipe/internal/pipeline"
	"github.com/lexbook/lexipipe/pkg/oracle"
)

var enrichLimit int

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Run one enrichment pass over pending ledger items",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if cfg.Oracle.Key == "" {
			return eris.New("oracle key is required (LEXIPIPE_ORACLE_KEY)")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate")
		}

		tuning, err := config.LoadTuning(cfg.Pipeline.TuningPath)
		if err != nil {
			return eris.Wrap(err, "load tuning")
		}

		p := pipeline.New(cfg, tuning, st, oracle.NewClient(cfg.Oracle.Key))

		rc, err := p.Run(ctx, enrichLimit)
		if err != nil {
			return eris.Wrap(err, "enrichment run")
		}

		prog := rc.Progress()
		zap.L().Info("enrichment run finished",
			zap.String("run_id", prog.RunID),
			zap.Int64("processed", prog.Processed),
			zap.Int64("failed", prog.Failed),
			zap.Int64("skipped", prog.Skipped),
		)
		return nil
	},
}

func init() {
	enrichCmd.Flags().IntVar(&enrichLimit, "limit", 0, "max pending items to process (0 = all)")
	rootCmd.AddCommand(enrichCmd)
}
