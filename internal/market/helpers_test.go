package market

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	alice = "0x1111111111111111111111111111111111111111"
	bob   = "0x2222222222222222222222222222222222222222"
	carol = "0x3333333333333333333333333333333333333333"
	dave  = "0x4444444444444444444444444444444444444444"

	collection = "0xc0112c7100000000000000000000000000000001"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) HandleEvents(_ context.Context, events []Event) {
	r.mu.Lock()
	r.events = append(r.events, events...)
	r.mu.Unlock()
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recorder) sales() []domain.Sale {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Sale
	for _, e := range r.events {
		if e.Kind == EventSale {
			out = append(out, e.Sale)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMarket(t *testing.T) (*Marketplace, *testClock, *recorder) {
	t.Helper()
	clock := &testClock{now: t0}
	m, err := New(DefaultConfig(), clock.Now, testLogger())
	require.NoError(t, err)
	rec := &recorder{}
	m.SetHook(rec)
	return m, clock, rec
}

func asset(token string) domain.AssetRef {
	return domain.AssetRef{Collection: collection, TokenID: token}
}

func bps(v int) *int { return &v }

func fixedListing(t *testing.T, m *Marketplace, token, price string) domain.Listing {
	t.Helper()
	l, err := m.CreateListing(context.Background(), domain.CreateListingParams{
		Type:     domain.ListingTypeFixed,
		Asset:    asset(token),
		Seller:   alice,
		Currency: "ETH",
		Price:    domain.MustAmount(price),
	})
	require.NoError(t, err)
	return l
}

func englishAuction(t *testing.T, m *Marketplace, token string) domain.Listing {
	t.Helper()
	l, err := m.CreateListing(context.Background(), domain.CreateListingParams{
		Type:            domain.ListingTypeEnglish,
		Asset:           asset(token),
		Seller:          alice,
		Currency:        "ETH",
		StartingPrice:   domain.MustAmount("10"),
		MinBidIncrement: domain.MustAmount("1"),
		Duration:        24 * time.Hour,
	})
	require.NoError(t, err)
	return l
}
