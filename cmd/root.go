package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lexbook/lexipipe/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "lexipipe",
	Short: "Bilingual lexicon enrichment pipeline",
	Long:  "Drains a job ledger of raw lexical records, clusters near-duplicates, assembles linguistic context, enriches each entry through Claude, and persists validated results into the lexicon.",
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
