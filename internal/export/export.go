// Package export dumps the enriched lexicon to flat files for
// downstream tooling: CSV for scripts, XLSX for review by humans.
package export

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/lexbook/lexipipe/internal/model"
)

// pageSize keeps export queries bounded on large corpora.
const pageSize = 1000

// Store is the read surface exports pull from.
type Store interface {
	ListConcepts(ctx context.Context, offset, limit int) ([]model.Concept, error)
	ListHighlights(ctx context.Context, offset, limit int) ([]model.Highlight, error)
}

var conceptHeader = []string{"id", "label", "part_of_speech", "language"}
var highlightHeader = []string{"term", "gloss", "explanation", "category", "relevance", "work_item_id"}

func conceptRow(c model.Concept) []string {
	return []string{
		strconv.FormatInt(c.ID, 10), c.Label, c.PartOfSpeech, string(c.Language),
	}
}

func highlightRow(h model.Highlight) []string {
	return []string{
		h.Term, h.Gloss, h.Explanation, h.Category,
		strconv.Itoa(h.Relevance), strconv.FormatInt(h.WorkItemID, 10),
	}
}

// WriteCSV streams concepts and highlights as two stacked CSV tables
// separated by a blank line.
func WriteCSV(ctx context.Context, st Store, w io.Writer) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(conceptHeader); err != nil {
		return eris.Wrap(err, "export: write concept header")
	}
	nConcepts, err := eachConceptPage(ctx, st, func(c model.Concept) error {
		return cw.Write(conceptRow(c))
	})
	if err != nil {
		return err
	}

	// Blank record separates the two tables.
	cw.Flush()
	if _, err := io.WriteString(w, "\n"); err != nil {
		return eris.Wrap(err, "export: write separator")
	}

	if err := cw.Write(highlightHeader); err != nil {
		return eris.Wrap(err, "export: write highlight header")
	}
	nHighlights, err := eachHighlightPage(ctx, st, func(h model.Highlight) error {
		return cw.Write(highlightRow(h))
	})
	if err != nil {
		return err
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "export: flush csv")
	}

	zap.L().Info("export: csv written",
		zap.Int("concepts", nConcepts), zap.Int("highlights", nHighlights))
	return nil
}

// WriteXLSX writes an XLSX workbook with one sheet per table.
func WriteXLSX(ctx context.Context, st Store, path string) error {
	f := xlsx.NewFile()

	concepts, err := f.AddSheet("Concepts")
	if err != nil {
		return eris.Wrap(err, "export: add concepts sheet")
	}
	addRow(concepts, conceptHeader)
	nConcepts, err := eachConceptPage(ctx, st, func(c model.Concept) error {
		addRow(concepts, conceptRow(c))
		return nil
	})
	if err != nil {
		return err
	}

	highlights, err := f.AddSheet("Highlights")
	if err != nil {
		return eris.Wrap(err, "export: add highlights sheet")
	}
	addRow(highlights, highlightHeader)
	nHighlights, err := eachHighlightPage(ctx, st, func(h model.Highlight) error {
		addRow(highlights, highlightRow(h))
		return nil
	})
	if err != nil {
		return err
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}

	zap.L().Info("export: xlsx written", zap.String("path", path),
		zap.Int("concepts", nConcepts), zap.Int("highlights", nHighlights))
	return nil
}

func addRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().Value = c
	}
}

func eachConceptPage(ctx context.Context, st Store, fn func(model.Concept) error) (int, error) {
	total := 0
	for offset := 0; ; offset += pageSize {
		page, err := st.ListConcepts(ctx, offset, pageSize)
		if err != nil {
			return total, eris.Wrap(err, "export: list concepts")
		}
		for _, c := range page {
			if err := fn(c); err != nil {
				return total, eris.Wrap(err, "export: write concept")
			}
			total++
		}
		if len(page) < pageSize {
			return total, nil
		}
	}
}

func eachHighlightPage(ctx context.Context, st Store, fn func(model.Highlight) error) (int, error) {
	total := 0
	for offset := 0; ; offset += pageSize {
		page, err := st.ListHighlights(ctx, offset, pageSize)
		if err != nil {
			return total, eris.Wrap(err, "export: list highlights")
		}
		for _, h := range page {
			if err := fn(h); err != nil {
				return total, eris.Wrap(err, "export: write highlight")
			}
			total++
		}
		if len(page) < pageSize {
			return total, nil
		}
	}
}
