package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// multipartThreshold switches large archives to a multipart upload.
	multipartThreshold = 16 << 20
	archivePartSize    = 8 << 20
)

// ArchiveImpl implements domain.Archiver. It reads journal rows older than a
// cutoff, writes them as JSONL to object storage and records the run in the
// audit log. Rows are not deleted from the journal.
type ArchiveImpl struct {
	writer     domain.BlobWriter
	sales      domain.SaleJournal
	activities domain.ActivityJournal
	audit      domain.AuditStore
	prefix     string

	mu sync.Mutex
	// watermarks hold the previous cutoff per dataset so each run only
	// uploads rows the last run did not cover.
	watermarks map[string]time.Time
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// NewArchiver creates an ArchiveImpl writing under prefix (e.g. "archive").
func NewArchiver(
	writer domain.BlobWriter,
	sales domain.SaleJournal,
	activities domain.ActivityJournal,
	audit domain.AuditStore,
	prefix string,
) *ArchiveImpl {
	if prefix == "" {
		prefix = "archive"
	}
	return &ArchiveImpl{
		writer:     writer,
		sales:      sales,
		activities: activities,
		audit:      audit,
		prefix:     prefix,
		watermarks: make(map[string]time.Time),
	}
}

// ArchiveSales uploads sales created before the cutoff.
func (a *ArchiveImpl) ArchiveSales(ctx context.Context, before time.Time) (int64, error) {
	sales, err := a.sales.ListSalesBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive sales query: %w", err)
	}
	from := a.watermark("sales")
	sales = since(sales, from, func(s domain.Sale) time.Time { return s.CreatedAt })
	return archive(ctx, a, "sales", before, sales)
}

// ArchiveActivities uploads activity feed entries created before the cutoff.
func (a *ArchiveImpl) ArchiveActivities(ctx context.Context, before time.Time) (int64, error) {
	acts, err := a.activities.ListActivitiesBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive activities query: %w", err)
	}
	from := a.watermark("activities")
	acts = since(acts, from, func(x domain.Activity) time.Time { return x.CreatedAt })
	return archive(ctx, a, "activities", before, acts)
}

func archive[T any](ctx context.Context, a *ArchiveImpl, dataset string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		a.advance(dataset, before)
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", dataset, err)
	}

	path := archivePath(a.prefix, dataset, before)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), archivePartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", dataset, err)
	}
	a.advance(dataset, before)

	count := int64(len(records))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive."+dataset, map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive %s audit log: %w", dataset, err)
		}
	}
	return count, nil
}

func (a *ArchiveImpl) watermark(dataset string) time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.watermarks[dataset]
}

func (a *ArchiveImpl) advance(dataset string, to time.Time) {
	a.mu.Lock()
	if to.After(a.watermarks[dataset]) {
		a.watermarks[dataset] = to
	}
	a.mu.Unlock()
}

func since[T any](records []T, from time.Time, at func(T) time.Time) []T {
	if from.IsZero() {
		return records
	}
	out := records[:0]
	for _, r := range records {
		if !at(r).Before(from) {
			out = append(out, r)
		}
	}
	return out
}

// archivePath is <prefix>/<dataset>/YYYY/MM/DD/<cutoff unix>.jsonl.
func archivePath(prefix, dataset string, before time.Time) string {
	before = before.UTC()
	return fmt.Sprintf("%s/%s/%s/%d.jsonl", prefix, dataset, before.Format("2006/01/02"), before.Unix())
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
