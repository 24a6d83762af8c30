package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/house-scraper/internal/export"
	"github.com/sells-group/house-scraper/internal/model"
	"github.com/sells-group/house-scraper/internal/store"
)

var (
	exportOutput string
	exportFormat string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored properties to CSV or XLSX",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		format, err := resolveFormat(exportFormat, exportOutput)
		if err != nil {
			return err
		}

		st, schema, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		records, err := st.List(ctx, store.Filter{})
		if err != nil {
			return eris.Wrap(err, "export: list")
		}
		if len(records) == 0 {
			fmt.Fprintln(os.Stderr, "No properties found in the store to export.")
			return nil
		}

		if err := writeExport(exportOutput, format, schema, records); err != nil {
			return err
		}

		zap.L().Info("export complete",
			zap.String("path", exportOutput),
			zap.String("format", string(format)),
			zap.Int("properties", len(records)),
		)
		_, _ = fmt.Fprintf(os.Stdout, "Exported %d properties to %s\n", len(records), exportOutput)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "data/properties_export.csv", "output file path")
	exportCmd.Flags().StringVar(&exportFormat, "format", "", "csv or xlsx (default: from the output extension)")
	rootCmd.AddCommand(exportCmd)
}

// resolveFormat prefers the explicit flag, then the output extension, then CSV.
func resolveFormat(flag, output string) (export.Format, error) {
	if flag != "" {
		return export.ParseFormat(strings.ToLower(flag))
	}
	if strings.EqualFold(filepath.Ext(output), ".xlsx") {
		return export.FormatXLSX, nil
	}
	return export.FormatCSV, nil
}

func writeExport(path string, format export.Format, schema *model.Schema, records []model.Record) error {
	if format == export.FormatXLSX {
		return export.WriteXLSX(path, schema, records)
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	if err := export.WriteCSV(f, schema, records); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "export: close %s", path)
	}
	return nil
}
