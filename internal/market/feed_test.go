package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

func TestActivityFeedRetention(t *testing.T) {
	f := NewActivityFeed(3)
	for i := 1; i <= 5; i++ {
		f.Append(domain.Activity{Seq: uint64(i), Type: domain.ActivityBid, CreatedAt: t0})
	}
	assert.Equal(t, 3, f.Len())

	got, total := f.Query(domain.ActivityFilter{}, domain.Page{})
	assert.Equal(t, 3, total)
	require.Len(t, got, 3)
	assert.Equal(t, []uint64{5, 4, 3}, []uint64{got[0].Seq, got[1].Seq, got[2].Seq})
}

func TestActivityFeedOrdering(t *testing.T) {
	f := NewActivityFeed(10)
	f.Append(domain.Activity{Seq: 1, CreatedAt: t0.Add(time.Minute)})
	f.Append(domain.Activity{Seq: 2, CreatedAt: t0})
	f.Append(domain.Activity{Seq: 3, CreatedAt: t0})

	got, _ := f.Query(domain.ActivityFilter{}, domain.Page{})
	require.Len(t, got, 3)
	assert.Equal(t, []uint64{1, 3, 2}, []uint64{got[0].Seq, got[1].Seq, got[2].Seq})

	got, total := f.Query(domain.ActivityFilter{}, domain.Page{Limit: 1, Offset: 1})
	assert.Equal(t, 3, total)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(3), got[0].Seq)

	got, _ = f.Query(domain.ActivityFilter{}, domain.Page{Offset: 10})
	assert.Empty(t, got)
}

func TestActivityFilterByActor(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMarket(t)
	l := fixedListing(t, m, "1", "10")
	_, err := m.BuyNow(ctx, l.ID, bob)
	require.NoError(t, err)

	acts, _ := m.Activity(ctx, domain.ActivityFilter{Actor: bob}, domain.Page{})
	require.Len(t, acts, 1)
	assert.Equal(t, domain.ActivitySale, acts[0].Type)

	acts, _ = m.Activity(ctx, domain.ActivityFilter{Actor: alice}, domain.Page{})
	assert.Len(t, acts, 2)
}

func TestPriceHistory(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newTestMarket(t)
	l := englishAuction(t, m, "1")
	clock.Advance(time.Minute)
	_, err := m.PlaceBid(ctx, l.ID, bob, domain.MustAmount("12"))
	require.NoError(t, err)
	fixedListing(t, m, "2", "3")

	points, total := m.PriceHistory(ctx, domain.PriceFilter{AssetKey: l.Asset.Key()}, domain.Page{})
	assert.Equal(t, 2, total)
	require.Len(t, points, 2)
	assert.Equal(t, domain.PriceEventBid, points[0].Event)
	assert.Equal(t, domain.MustAmount("12"), points[0].Price)
	assert.Equal(t, domain.PriceEventListing, points[1].Event)
	assert.Equal(t, domain.MustAmount("10"), points[1].Price)

	points, _ = m.PriceHistory(ctx, domain.PriceFilter{Events: []domain.PriceEvent{domain.PriceEventListing}}, domain.Page{})
	assert.Len(t, points, 2)
}
