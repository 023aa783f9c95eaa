package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/lexbook/lexipipe/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ledger counts by status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		counts, err := st.CountByStatus(ctx)
		if err != nil {
			return eris.Wrap(err, "count by status")
		}

		total := 0
		for _, s := range []model.Status{model.StatusPending, model.StatusProcessing, model.StatusCompleted, model.StatusError} {
			fmt.Printf("%-12s %d\n", s, counts[s])
			total += counts[s]
		}
		fmt.Printf("%-12s %d\n", "total", total)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
