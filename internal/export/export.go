// Package export writes stored property records to CSV or XLSX for review
// outside the tool.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/house-scraper/internal/model"
)

// SheetName is the worksheet written by WriteXLSX.
const SheetName = "Propiedades"

// Format selects the output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatXLSX:
		return Format(s), nil
	}
	return "", eris.Errorf("export: unknown format %q (want csv or xlsx)", s)
}

// Header returns the column names: url, every schema field in order, then
// status and scraped_at.
func Header(schema *model.Schema) []string {
	cols := make([]string, 0, len(schema.Fields)+3)
	cols = append(cols, "url")
	cols = append(cols, schema.Names()...)
	return append(cols, "status", "scraped_at")
}

// WriteCSV writes records as CSV. Null values are empty cells.
func WriteCSV(w io.Writer, schema *model.Schema, records []model.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header(schema)); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	names := schema.Names()
	row := make([]string, 0, len(names)+3)
	for _, rec := range records {
		row = row[:0]
		row = append(row, rec.URL)
		for _, name := range names {
			row = append(row, formatValue(rec.Fields[name]))
		}
		row = append(row, string(rec.Status), formatTime(rec.ScrapedAt))
		if err := cw.Write(row); err != nil {
			return eris.Wrapf(err, "export: write csv row %s", rec.URL)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "export: flush csv")
	}
	return nil
}

// WriteXLSX writes records to a workbook at path. Numbers and booleans keep
// their cell types so spreadsheets can sort and sum them.
func WriteXLSX(path string, schema *model.Schema, records []model.Record) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range Header(schema) {
		header.AddCell().SetString(col)
	}

	names := schema.Names()
	for _, rec := range records {
		row := sheet.AddRow()
		row.AddCell().SetString(rec.URL)
		for _, name := range names {
			setCell(row.AddCell(), rec.Fields[name])
		}
		row.AddCell().SetString(string(rec.Status))
		row.AddCell().SetString(formatTime(rec.ScrapedAt))
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

func setCell(c *xlsx.Cell, v any) {
	switch t := v.(type) {
	case nil:
		c.SetString("")
	case float64:
		c.SetFloat(t)
	case int64:
		c.SetInt64(t)
	case int:
		c.SetInt(t)
	case bool:
		c.SetBool(t)
	default:
		c.SetString(formatValue(v))
	}
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
