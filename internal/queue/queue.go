// Package queue manages the human-editable pending file and review ledger.
//
// The pending file lists URLs waiting to be scraped, one per line. The ledger
// records every processed URL behind a review tag such as "[YES]". Both files
// tolerate blank lines, comments and free text, which are ignored.
package queue

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// MissingFile names a required file and the template it is created from.
type MissingFile struct {
	Path    string
	Example string
}

// ConfigurationMissingError reports required durable files that do not exist.
type ConfigurationMissingError struct {
	Files []MissingFile
}

func (e *ConfigurationMissingError) Error() string {
	var b strings.Builder
	b.WriteString("required file(s) missing:")
	for _, f := range e.Files {
		fmt.Fprintf(&b, "\n  %s (create it with: %s)", f.Path, f.Remediation())
	}
	return b.String()
}

// Remediation returns the shell command that creates the file from its template.
func (f MissingFile) Remediation() string {
	return fmt.Sprintf("cp %s %s", f.Example, f.Path)
}

// Queue serializes every read-modify-write of the pending and ledger files.
type Queue struct {
	PendingPath string
	LedgerPath  string

	mu sync.Mutex
}

// New creates a queue over the given files.
func New(pendingPath, ledgerPath string) *Queue {
	return &Queue{PendingPath: pendingPath, LedgerPath: ledgerPath}
}

// ExamplePath returns the template path for a data file:
// data/links-to-scrap.md -> data/links-to-scrap-example.md.
func ExamplePath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-example" + ext
}

// CheckFiles returns a *ConfigurationMissingError when either file is absent.
func (q *Queue) CheckFiles() error {
	var missing []MissingFile
	for _, p := range []string{q.PendingPath, q.LedgerPath} {
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				missing = append(missing, MissingFile{Path: p, Example: ExamplePath(p)})
				continue
			}
			return eris.Wrapf(err, "queue: stat %s", p)
		}
	}
	if len(missing) > 0 {
		return &ConfigurationMissingError{Files: missing}
	}
	return nil
}

// PopPending returns every URL in the pending file in file order. The file is
// not modified; processed URLs are removed with RemovePending. A missing file
// yields no URLs.
func (q *Queue) PopPending() ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := os.ReadFile(q.PendingPath)
	if err != nil {
		if os.IsNotExist(err) {
			zap.L().Warn("queue: pending file not found", zap.String("path", q.PendingPath))
			return nil, nil
		}
		return nil, eris.Wrapf(err, "queue: read %s", q.PendingPath)
	}

	var urls []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if isComment(line) || !strings.HasPrefix(line, "http") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "queue: scan %s", q.PendingPath)
	}
	return urls, nil
}

// RemovePending rewrites the pending file without any line containing url.
// The rewrite goes through a temp file and rename so a crash never leaves a
// truncated queue.
func (q *Queue) RemovePending(url string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := os.ReadFile(q.PendingPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return eris.Wrapf(err, "queue: read %s", q.PendingPath)
	}

	var out bytes.Buffer
	removed := 0
	for _, line := range strings.SplitAfter(string(data), "\n") {
		if line == "" {
			continue
		}
		if strings.Contains(line, url) {
			removed++
			continue
		}
		out.WriteString(line)
	}
	if removed == 0 {
		return nil
	}

	if err := writeAtomic(q.PendingPath, out.Bytes()); err != nil {
		return err
	}
	zap.L().Debug("queue: removed from pending", zap.String("url", url), zap.Int("lines", removed))
	return nil
}

// EnsurePending creates the pending file with a short usage header when it
// does not exist. It reports whether the file was created.
func (q *Queue) EnsurePending() (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return ensureFile(q.PendingPath, pendingHeader)
}

const pendingHeader = `# Links to scrape

<!-- One listing URL per line. Processed URLs are moved to the status ledger. -->

`

func isComment(line string) bool {
	return line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "<!--")
}

func ensureFile(path, header string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, eris.Wrapf(err, "queue: stat %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, eris.Wrapf(err, "queue: create dir for %s", path)
	}
	if err := os.WriteFile(path, []byte(header), 0o644); err != nil {
		return false, eris.Wrapf(err, "queue: create %s", path)
	}
	zap.L().Info("queue: created file", zap.String("path", path))
	return true, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return eris.Wrapf(err, "queue: create temp for %s", path)
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return eris.Wrapf(err, "queue: chmod temp for %s", path)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return eris.Wrapf(err, "queue: write temp for %s", path)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return eris.Wrapf(err, "queue: close temp for %s", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return eris.Wrapf(err, "queue: replace %s", path)
	}
	return nil
}
