package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/house-scraper/internal/model"
	"github.com/sells-group/house-scraper/internal/store"
)

var (
	viewStatus string
	viewLimit  int
)

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "List stored properties",
	Long:  "Lists stored properties, optionally only those with one review status (YES, NO, MAYBE or unreviewed).",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		filter := store.Filter{Limit: viewLimit}
		if cmd.Flags().Changed("status") {
			s := parseStatusFlag(viewStatus)
			filter.Status = &s
		}

		st, schema, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		records, err := st.List(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "view")
		}
		if len(records) == 0 {
			fmt.Fprintln(os.Stderr, "No properties found.")
			return nil
		}

		formatRecords(os.Stdout, schema, records)
		return nil
	},
}

func init() {
	viewCmd.Flags().StringVar(&viewStatus, "status", "", "only show properties with this review status (YES, NO, MAYBE, unreviewed)")
	viewCmd.Flags().IntVar(&viewLimit, "limit", 0, "max number of properties to show (0 = all)")
	rootCmd.AddCommand(viewCmd)
}

// parseStatusFlag maps the CLI spelling of "no tag" to the empty status.
func parseStatusFlag(s string) model.ReviewStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unreviewed", "blank", "none":
		return model.StatusUnreviewed
	}
	return model.ParseReviewStatus(s)
}

// headline fields are shown on the first line of each property and left out
// of the detail list.
var headline = map[string]bool{
	"tipo_operacion": true,
	"barrio":         true,
	"precio":         true,
	"moneda":         true,
}

// formatRecords writes one block per property: a headline, the non-null
// fields in schema order, and the source URL.
func formatRecords(out io.Writer, schema *model.Schema, records []model.Record) {
	sep := strings.Repeat("-", 80)
	for i, rec := range records {
		op := strings.ToUpper(displayValue(rec.Fields["tipo_operacion"], "N/A"))
		_, _ = fmt.Fprintf(out, "%d. [%s] %s - %s\n", i+1, statusLabel(rec.Status), op, displayValue(rec.Fields["barrio"], "N/A"))
		_, _ = fmt.Fprintf(out, "   precio: %s\n", formatPrice(rec.Fields["precio"], rec.Fields["moneda"]))

		for _, name := range schema.Names() {
			v := rec.Fields[name]
			if headline[name] || v == nil {
				continue
			}
			_, _ = fmt.Fprintf(out, "   %s: %s\n", name, displayValue(v, ""))
		}
		_, _ = fmt.Fprintf(out, "   %s\n", truncate(rec.URL, 80))
		_, _ = fmt.Fprintln(out, sep)
	}
	_, _ = fmt.Fprintf(out, "Total: %d properties\n", len(records))
}

func formatPrice(price, currency any) string {
	p, ok := price.(float64)
	if !ok || p == 0 {
		return "N/A"
	}
	return strings.TrimSpace(displayValue(currency, "") + " " + thousands(int64(p)))
}

// thousands groups digits with dots, the local convention.
func thousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

func displayValue(v any, fallback string) string {
	switch t := v.(type) {
	case nil:
		return fallback
	case string:
		if t == "" {
			return fallback
		}
		return t
	case bool:
		if t {
			return "sí"
		}
		return "no"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
