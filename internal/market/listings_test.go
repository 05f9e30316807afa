package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

func TestCreateListing(t *testing.T) {
	ctx := context.Background()

	t.Run("fixed listing gets defaults", func(t *testing.T) {
		m, _, _ := newTestMarket(t)
		l := fixedListing(t, m, "1", "100")
		assert.Equal(t, domain.ListingStatusActive, l.Status)
		assert.Equal(t, 250, l.PlatformFeeBps)
		assert.Equal(t, t0, l.StartsAt)
		assert.Equal(t, t0.Add(168*time.Hour), l.EndsAt)

		stats := m.Stats(ctx)
		assert.Equal(t, int64(1), stats.ActiveListings)
		assert.Equal(t, int64(1), stats.TotalListings)
	})

	t.Run("validation", func(t *testing.T) {
		m, _, _ := newTestMarket(t)
		cases := map[string]domain.CreateListingParams{
			"unknown type":   {Type: "barter", Asset: asset("1"), Seller: alice, Currency: "ETH", Price: 1},
			"missing price":  {Type: domain.ListingTypeFixed, Asset: asset("1"), Seller: alice, Currency: "ETH"},
			"missing seller": {Type: domain.ListingTypeFixed, Asset: asset("1"), Currency: "ETH", Price: 1},

			"auction without end": {
				Type: domain.ListingTypeEnglish, Asset: asset("1"), Seller: alice, Currency: "ETH",
				StartingPrice: 10,
			},
			"reserve without reserve price": {
				Type: domain.ListingTypeReserveAuction, Asset: asset("1"), Seller: alice, Currency: "ETH",
				StartingPrice: 10, Duration: time.Hour,
			},
			"dutch ending above start": {
				Type: domain.ListingTypeDutch, Asset: asset("1"), Seller: alice, Currency: "ETH",
				StartingPrice: 10, EndingPrice: 20, Duration: time.Hour,
			},
			"royalty too high": {
				Type: domain.ListingTypeFixed, Asset: asset("1"), Seller: alice, Currency: "ETH",
				Price: 1, RoyaltyBps: 5000,
			},
			"fees over 100 percent": {
				Type: domain.ListingTypeFixed, Asset: asset("1"), Seller: alice, Currency: "ETH",
				Price: 1, RoyaltyBps: 1000, PlatformFeeBps: bps(9500),
			},
			"ends in the past": {
				Type: domain.ListingTypeFixed, Asset: asset("1"), Seller: alice, Currency: "ETH",
				Price: 1, StartsAt: t0.Add(-2 * time.Hour), EndsAt: t0.Add(-time.Hour),
			},
		}
		for name, p := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := m.CreateListing(ctx, p)
				assert.ErrorIs(t, err, domain.ErrValidation)
			})
		}
		assert.Equal(t, int64(0), m.Stats(ctx).TotalListings)
	})

	t.Run("one active listing per asset", func(t *testing.T) {
		m, _, _ := newTestMarket(t)
		fixedListing(t, m, "1", "100")
		_, err := m.CreateListing(ctx, domain.CreateListingParams{
			Type: domain.ListingTypeFixed, Asset: asset("1"), Seller: alice, Currency: "ETH", Price: 1,
		})
		assert.ErrorIs(t, err, domain.ErrState)
	})
}

func TestCancelListing(t *testing.T) {
	ctx := context.Background()
	m, _, rec := newTestMarket(t)
	l := englishAuction(t, m, "1")
	_, err := m.PlaceBid(ctx, l.ID, bob, domain.MustAmount("10"))
	require.NoError(t, err)

	_, err = m.CancelListing(ctx, l.ID, bob)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	got, err := m.CancelListing(ctx, l.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusCancelled, got.Status)

	bids, err := m.ListBids(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.Equal(t, domain.BidStatusCancelled, bids[0].Status)

	_, err = m.CancelListing(ctx, l.ID, alice)
	assert.ErrorIs(t, err, domain.ErrState)

	_, err = m.CancelListing(ctx, "missing", alice)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Equal(t, int64(0), m.Stats(ctx).ActiveListings)
	assert.Contains(t, rec.kinds(), EventActivity)

	// The asset can be listed again once the previous listing is closed.
	fixedListing(t, m, "1", "5")
}

func TestQueryListings(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newTestMarket(t)
	a := fixedListing(t, m, "1", "30")
	clock.Advance(time.Minute)
	b := fixedListing(t, m, "2", "10")
	clock.Advance(time.Minute)
	c := fixedListing(t, m, "3", "20")

	page := m.QueryListings(ctx, domain.ListingFilter{}, "", domain.Page{})
	require.Equal(t, 3, page.Total)
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, listingIDs(page.Listings))

	page = m.QueryListings(ctx, domain.ListingFilter{}, domain.SortPriceAsc, domain.Page{})
	assert.Equal(t, []string{b.ID, c.ID, a.ID}, listingIDs(page.Listings))

	page = m.QueryListings(ctx, domain.ListingFilter{MinPrice: domain.MustAmount("15")}, domain.SortPriceDesc, domain.Page{Limit: 1})
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, []string{a.ID}, listingIDs(page.Listings))

	page = m.QueryListings(ctx, domain.ListingFilter{}, domain.SortCreatedAsc, domain.Page{Offset: 2})
	assert.Equal(t, []string{c.ID}, listingIDs(page.Listings))

	_, err := m.CancelListing(ctx, b.ID, alice)
	require.NoError(t, err)
	page = m.QueryListings(ctx, domain.ListingFilter{Status: domain.ListingStatusActive}, "", domain.Page{})
	assert.Equal(t, 2, page.Total)
}

func TestFavoritesAndViews(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMarket(t)
	l := fixedListing(t, m, "1", "1")

	on, n, err := m.ToggleFavorite(ctx, l.ID, bob)
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, int64(1), n)

	_, n, err = m.ToggleFavorite(ctx, l.ID, carol)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	on, n, err = m.ToggleFavorite(ctx, l.ID, bob)
	require.NoError(t, err)
	assert.False(t, on)
	assert.Equal(t, int64(1), n)

	for i := 0; i < 3; i++ {
		_, err = m.IncrementView(ctx, l.ID)
		require.NoError(t, err)
	}
	got, err := m.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Views)
	assert.Equal(t, int64(1), got.Favorites)

	_, err = m.IncrementView(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func listingIDs(ls []domain.Listing) []string {
	out := make([]string, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.ID)
	}
	return out
}

func TestCommitPanicReleasesLock(t *testing.T) {
	ctx := context.Background()
	m, _, rec := newTestMarket(t)
	before := len(rec.kinds())

	assert.Panics(t, func() {
		_ = m.store.commit(ctx, func(*tx) error { panic("boom") })
	})
	assert.Len(t, rec.kinds(), before, "no events after a panicking mutation")

	l := fixedListing(t, m, "1", "5")
	assert.Equal(t, domain.ListingStatusActive, l.Status)
}
