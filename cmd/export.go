package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lexbook/lexipipe/internal/export"
)

var (
	exportFormat string
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the lexicon to CSV or XLSX",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		switch exportFormat {
		case "csv":
			f, err := os.Create(exportOut)
			if err != nil {
				return eris.Wrapf(err, "create %s", exportOut)
			}
			defer f.Close()
			if err := export.WriteCSV(ctx, st, f); err != nil {
				return err
			}
		case "xlsx":
			if err := export.WriteXLSX(ctx, st, exportOut); err != nil {
				return err
			}
		default:
			return eris.Errorf("unknown format %q (want csv or xlsx)", exportFormat)
		}

		zap.L().Info("export complete", zap.String("format", exportFormat), zap.String("out", exportOut))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "output format: csv or xlsx")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output file path (required)")
	_ = exportCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(exportCmd)
}
