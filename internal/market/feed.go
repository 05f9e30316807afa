package market

import (
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

// DefaultRetention is the number of records each feed keeps.
const DefaultRetention = 10_000

// ring is a bounded append-only buffer that drops the oldest record once it
// is full.
type ring[T any] struct {
	buf   []T
	start int
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		capacity = DefaultRetention
	}
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// each visits records from oldest to newest.
func (r *ring[T]) each(fn func(T)) {
	for i := 0; i < r.size; i++ {
		fn(r.buf[(r.start+i)%len(r.buf)])
	}
}

func (r *ring[T]) len() int { return r.size }

// ActivityFeed is the bounded, append-only activity log. It has its own lock
// so reads do not contend with the marketplace store.
type ActivityFeed struct {
	mu sync.RWMutex
	r  *ring[domain.Activity]
}

// NewActivityFeed creates a feed that keeps the most recent retention entries.
func NewActivityFeed(retention int) *ActivityFeed {
	return &ActivityFeed{r: newRing[domain.Activity](retention)}
}

// Append records an entry, evicting the oldest one when full.
func (f *ActivityFeed) Append(a domain.Activity) {
	f.mu.Lock()
	f.r.push(a)
	f.mu.Unlock()
}

// Len returns the number of retained entries.
func (f *ActivityFeed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.r.len()
}

// Query returns matching entries newest first, plus the total match count
// before pagination.
func (f *ActivityFeed) Query(filter domain.ActivityFilter, page domain.Page) ([]domain.Activity, int) {
	var out []domain.Activity
	f.mu.RLock()
	f.r.each(func(a domain.Activity) {
		if activityMatches(a, filter) {
			out = append(out, a)
		}
	})
	f.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b domain.Activity) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.Seq, b.Seq)
	})
	return paginate(out, page), len(out)
}

func activityMatches(a domain.Activity, f domain.ActivityFilter) bool {
	if f.AssetKey != "" && a.AssetKey != f.AssetKey {
		return false
	}
	if f.Collection != "" && a.Collection != f.Collection {
		return false
	}
	if f.Actor != "" && a.Actor != f.Actor && a.Counterparty != f.Actor {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, a.Type) {
		return false
	}
	return true
}

// PriceHistory is the bounded index of price observations per asset.
type PriceHistory struct {
	mu sync.RWMutex
	r  *ring[domain.PricePoint]
}

// NewPriceHistory creates an index that keeps the most recent retention points.
func NewPriceHistory(retention int) *PriceHistory {
	return &PriceHistory{r: newRing[domain.PricePoint](retention)}
}

// Append records a price point, evicting the oldest one when full.
func (h *PriceHistory) Append(p domain.PricePoint) {
	h.mu.Lock()
	h.r.push(p)
	h.mu.Unlock()
}

// Query returns matching points newest first, plus the total match count.
func (h *PriceHistory) Query(filter domain.PriceFilter, page domain.Page) ([]domain.PricePoint, int) {
	var out []domain.PricePoint
	h.mu.RLock()
	h.r.each(func(p domain.PricePoint) {
		if priceMatches(p, filter) {
			out = append(out, p)
		}
	})
	h.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b domain.PricePoint) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.Seq, b.Seq)
	})
	return paginate(out, page), len(out)
}

func priceMatches(p domain.PricePoint, f domain.PriceFilter) bool {
	if f.AssetKey != "" && p.AssetKey != f.AssetKey {
		return false
	}
	if f.Collection != "" && p.Collection != f.Collection {
		return false
	}
	if len(f.Events) > 0 && !slices.Contains(f.Events, p.Event) {
		return false
	}
	return true
}

// newestFirst orders by timestamp descending; equal timestamps fall back to
// insertion order, later first.
func newestFirst(at, bt time.Time, aseq, bseq uint64) int {
	if c := bt.Compare(at); c != 0 {
		return c
	}
	switch {
	case aseq > bseq:
		return -1
	case aseq < bseq:
		return 1
	}
	return 0
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

func normalizePage(p domain.Page) domain.Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

func paginate[T any](items []T, page domain.Page) []T {
	page = normalizePage(page)
	if page.Offset >= len(items) {
		return []T{}
	}
	end := min(page.Offset+page.Limit, len(items))
	return items[page.Offset:end]
}
