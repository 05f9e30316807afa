package s3blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = b
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "")
}

type memSales struct {
	domain.SaleJournal
	sales []domain.Sale
}

func (m *memSales) ListSalesBefore(_ context.Context, before time.Time) ([]domain.Sale, error) {
	var out []domain.Sale
	for _, s := range m.sales {
		if s.CreatedAt.Before(before) {
			out = append(out, s)
		}
	}
	return out, nil
}

type memAudit struct {
	domain.AuditStore
	events []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.events = append(m.events, event)
	return nil
}

func TestArchiveSalesUploadsOnlyNewRows(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	sales := &memSales{sales: []domain.Sale{
		{ID: "s1", CreatedAt: day.Add(-48 * time.Hour)},
		{ID: "s2", CreatedAt: day.Add(-time.Hour)},
	}}
	writer := &memWriter{objects: map[string][]byte{}}
	audit := &memAudit{}
	a := NewArchiver(writer, sales, nil, audit, "")

	n, err := a.ArchiveSales(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	path := archivePath("archive", "sales", day)
	assert.True(t, strings.HasPrefix(path, "archive/sales/2026/04/02/"))
	body := writer.objects[path]
	lines := bytes.Split(bytes.TrimSpace(body), []byte("\n"))
	assert.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), `"id":"s1"`)

	sales.sales = append(sales.sales, domain.Sale{ID: "s3", CreatedAt: day.Add(time.Hour)})
	n, err = a.ArchiveSales(ctx, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []string{"archive.sales", "archive.sales"}, audit.events)

	n, err = a.ArchiveSales(ctx, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "https://minio.local", endpointURL("minio.local", true))
	assert.Equal(t, "http://minio.local", endpointURL("minio.local", false))
	assert.Equal(t, "http://minio.local:9000", endpointURL("minio.local:9000", false))
	assert.Equal(t, "https://s3.example.com", endpointURL("https://s3.example.com", false))
}
