package queue

import (
	"context"
	"os"
	"regexp"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/house-scraper/internal/model"
)

const ledgerHeader = `# Property Status Tracking

<!-- Status tags: [ ] = Not reviewed, [YES] = Interested, [NO] = Not interested, [MAYBE] = Maybe -->

`

var ledgerLineRe = regexp.MustCompile(`(?m)^\[(.*?)\]\s+(https?://\S+)`)

// StatusStore is the part of the property store the ledger sync needs.
// GetByURL returns nil, nil when the URL is not stored.
type StatusStore interface {
	GetByURL(ctx context.Context, url string) (*model.Record, error)
	UpdateStatus(ctx context.Context, url string, status model.ReviewStatus) (bool, error)
}

// ParseLedger maps every URL in the ledger to its review tag. A URL listed
// twice keeps its last tag. A missing ledger yields an empty map.
func (q *Queue) ParseLedger() (map[string]model.ReviewStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.parseLedger()
}

func (q *Queue) parseLedger() (map[string]model.ReviewStatus, error) {
	_, out, err := q.readLedger()
	return out, err
}

func (q *Queue) readLedger() ([]byte, map[string]model.ReviewStatus, error) {
	data, err := os.ReadFile(q.LedgerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, map[string]model.ReviewStatus{}, nil
		}
		return nil, nil, eris.Wrapf(err, "queue: read %s", q.LedgerPath)
	}
	out := make(map[string]model.ReviewStatus)
	for _, m := range ledgerLineRe.FindAllStringSubmatch(string(data), -1) {
		out[m[2]] = model.ParseReviewStatus(m[1])
	}
	return data, out, nil
}

// AppendLedger adds "[STATUS] url" to the ledger, creating the file with its
// header first. A URL already in the ledger is left as is. A hand-edited
// ledger missing its final newline gets one before the new entry.
func (q *Queue) AppendLedger(url string, status model.ReviewStatus) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := ensureFile(q.LedgerPath, ledgerHeader); err != nil {
		return err
	}
	data, existing, err := q.readLedger()
	if err != nil {
		return err
	}
	if _, ok := existing[url]; ok {
		zap.L().Debug("queue: url already in ledger", zap.String("url", url))
		return nil
	}

	f, err := os.OpenFile(q.LedgerPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return eris.Wrapf(err, "queue: open %s", q.LedgerPath)
	}
	line := FormatTag(status) + " " + url + "\n"
	if len(data) > 0 && data[len(data)-1] != '\n' {
		line = "\n" + line
	}
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "queue: append %s", q.LedgerPath)
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "queue: close %s", q.LedgerPath)
	}
	zap.L().Info("queue: added to ledger", zap.String("url", url), zap.String("status", string(status)))
	return nil
}

// FormatTag renders a status as a ledger tag; unreviewed is "[ ]".
func FormatTag(status model.ReviewStatus) string {
	if status == model.StatusUnreviewed {
		return "[ ]"
	}
	return "[" + string(status) + "]"
}

// SyncLedgerToStore copies ledger tags into the store for every stored URL
// whose status differs. URLs the store does not know are skipped. Context
// cancellation stops the sync between URLs.
func (q *Queue) SyncLedgerToStore(ctx context.Context, st StatusStore) (updated, skipped int, err error) {
	statuses, err := q.ParseLedger()
	if err != nil {
		return 0, 0, err
	}
	if len(statuses) == 0 {
		zap.L().Warn("queue: no statuses to sync", zap.String("path", q.LedgerPath))
		return 0, 0, nil
	}

	urls := make([]string, 0, len(statuses))
	for u := range statuses {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			return updated, skipped, eris.Wrap(err, "queue: sync cancelled")
		}
		want := statuses[u]
		rec, err := st.GetByURL(ctx, u)
		if err != nil {
			return updated, skipped, eris.Wrapf(err, "queue: lookup %s", u)
		}
		if rec == nil {
			skipped++
			zap.L().Debug("queue: ledger url not in store", zap.String("url", u))
			continue
		}
		if rec.Status == want {
			continue
		}
		ok, err := st.UpdateStatus(ctx, u, want)
		if err != nil {
			return updated, skipped, eris.Wrapf(err, "queue: update status %s", u)
		}
		if ok {
			updated++
		} else {
			skipped++
		}
	}

	zap.L().Info("queue: status sync complete",
		zap.Int("updated", updated),
		zap.Int("skipped", skipped),
	)
	return updated, skipped, nil
}

// EnsureLedger creates the ledger with its header when it does not exist.
func (q *Queue) EnsureLedger() (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return ensureFile(q.LedgerPath, ledgerHeader)
}
