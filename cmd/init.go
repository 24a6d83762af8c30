package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/house-scraper/internal/queue"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the pending and ledger files",
	Long:  "Creates the pending links file and the status ledger from their -example templates when present, or with an empty header otherwise. Existing files are left alone.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		q := newQueue()
		return initDataFiles(cmd.OutOrStdout(), q)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func initDataFiles(out io.Writer, q *queue.Queue) error {
	files := []struct {
		path   string
		ensure func() (bool, error)
	}{
		{q.PendingPath, q.EnsurePending},
		{q.LedgerPath, q.EnsureLedger},
	}
	for _, f := range files {
		state, err := initDataFile(f.path, f.ensure)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "%s: %s\n", f.path, state)
	}
	return nil
}

// initDataFile copies the file's template when it exists, otherwise lets
// ensure write the default header.
func initDataFile(path string, ensure func() (bool, error)) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return "exists", nil
	}

	example := queue.ExamplePath(path)
	data, err := os.ReadFile(example)
	switch {
	case err == nil:
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return "", eris.Wrapf(err, "init: write %s", path)
		}
		return "created from " + example, nil
	case !errors.Is(err, os.ErrNotExist):
		return "", eris.Wrapf(err, "init: read %s", example)
	}

	if _, err := ensure(); err != nil {
		return "", eris.Wrapf(err, "init: create %s", path)
	}
	return "created", nil
}
