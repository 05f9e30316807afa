package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for journal queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SaleJournal is the durable, write-behind record of committed sales. The
// engine never reads it back; it exists for reporting and reconciliation.
type SaleJournal interface {
	InsertSale(ctx context.Context, sale Sale) error
	AttachSettlement(ctx context.Context, st Settlement) error
	GetSale(ctx context.Context, id string) (Sale, error)
	ListSales(ctx context.Context, opts ListOpts) ([]Sale, error)
	ListSalesBefore(ctx context.Context, before time.Time) ([]Sale, error)
}

// ActivityJournal is the durable copy of the bounded in-memory feed.
type ActivityJournal interface {
	InsertActivity(ctx context.Context, a Activity) error
	ListActivitiesBefore(ctx context.Context, before time.Time) ([]Activity, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
