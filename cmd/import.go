package main

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lexbook/lexipipe/internal/model"
)

var importCSVPath string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Seed the job ledger from a CSV of raw records",
	Long:  "Reads a CSV with columns source_text,target_hint[,concept_id,seq_num] and inserts each row as a pending work item.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate")
		}

		items, err := readWorkItemCSV(importCSVPath)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return eris.Errorf("no records in %s", importCSVPath)
		}

		if err := st.InsertWorkItems(ctx, items); err != nil {
			return eris.Wrap(err, "insert work items")
		}

		zap.L().Info("import complete",
			zap.Int("inserted", len(items)),
			zap.String("csv", importCSVPath),
		)
		return nil
	},
}

func readWorkItemCSV(path string) ([]model.WorkItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, eris.Wrap(err, "read csv header")
	}
	col := map[string]int{}
	for i, name := range header {
		col[name] = i
	}
	srcCol, ok := col["source_text"]
	if !ok {
		return nil, eris.New("csv is missing a source_text column")
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	var items []model.WorkItem
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "read csv line %d", line)
		}
		if srcCol >= len(rec) || rec[srcCol] == "" {
			continue
		}

		item := model.WorkItem{
			SourceText: rec[srcCol],
			TargetHint: field(rec, "target_hint"),
			Status:     model.StatusPending,
		}
		if v := field(rec, "concept_id"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, eris.Wrapf(err, "bad concept_id at line %d", line)
			}
			item.ConceptID = id
		}
		if v := field(rec, "seq_num"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, eris.Wrapf(err, "bad seq_num at line %d", line)
			}
			item.SeqNum = n
		}
		items = append(items, item)
	}
	return items, nil
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to CSV file (required)")
	_ = importCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(importCmd)
}
