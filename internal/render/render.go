// Package render prints tables (query results, run summaries, probe reports)
// for terminals and HTML pages.
package render

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
)

// nullValue stands in for null cells; go-pretty does not expect nil values.
const nullValue = "NULL"

// Format selects the output of Records and Rows.
type Format string

const (
	Text     Format = "text"
	CSV      Format = "csv"
	Markdown Format = "markdown"
	HTML     Format = "html"
)

func newWriter(header []any) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	// Keep column names as they are.
	t.Style().Format.Header = text.FormatDefault
	t.AppendHeader(table.Row(header))
	return t
}

func renderTo(w io.Writer, t table.Writer, f Format) error {
	var out string
	switch f {
	case CSV:
		out = t.RenderCSV()
	case Markdown:
		out = t.RenderMarkdown()
	case HTML:
		t.SetHTMLCSSClass("result")
		out = t.RenderHTML()
	default:
		out = t.Render()
	}
	_, err := io.WriteString(w, out+"\n")
	return err
}

// Rows writes header and rows as one table.
func Rows(w io.Writer, f Format, header []any, rows [][]any) error {
	t := newWriter(header)
	for _, row := range rows {
		for i := range row {
			if row[i] == nil {
				row[i] = nullValue
			}
		}
		t.AppendRow(table.Row(row))
	}
	return renderTo(w, t, f)
}

// Records writes the rows of recs as one table using the schema of the
// first record, and returns the number of rows written.
func Records(w io.Writer, f Format, recs []arrow.Record) (int, error) {
	if len(recs) == 0 {
		return 0, renderTo(w, newWriter([]any{"(no rows)"}), f)
	}
	schema := recs[0].Schema()
	header := make([]any, schema.NumFields())
	for i, fld := range schema.Fields() {
		header[i] = fld.Name
	}
	t := newWriter(header)
	n := 0
	for _, rec := range recs {
		for r := 0; r < int(rec.NumRows()); r++ {
			row := make(table.Row, rec.NumCols())
			for c, col := range rec.Columns() {
				if col.IsNull(r) {
					row[c] = nullValue
					continue
				}
				row[c] = col.ValueStr(r)
			}
			t.AppendRow(row)
			n++
		}
	}
	return n, renderTo(w, t, f)
}
