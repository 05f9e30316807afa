package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

func TestPlaceBidMinimumAndOutbid(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMarket(t)
	l := englishAuction(t, m, "1")

	_, err := m.PlaceBid(ctx, l.ID, bob, domain.MustAmount("9.99"))
	assert.ErrorIs(t, err, domain.ErrState)

	first, err := m.PlaceBid(ctx, l.ID, bob, domain.MustAmount("10"))
	require.NoError(t, err)
	assert.Equal(t, domain.BidStatusActive, first.Status)
	assert.Equal(t, l.EndsAt, first.ExpiresAt)

	_, err = m.PlaceBid(ctx, l.ID, carol, domain.MustAmount("10.5"))
	assert.ErrorIs(t, err, domain.ErrState)

	second, err := m.PlaceBid(ctx, l.ID, carol, domain.MustAmount("11"))
	require.NoError(t, err)

	bids, err := m.ListBids(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.Equal(t, second.ID, bids[0].ID)
	assert.Equal(t, domain.BidStatusActive, bids[0].Status)
	assert.Equal(t, domain.BidStatusOutbid, bids[1].Status)

	got, err := m.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MustAmount("11"), got.CurrentBid)
	assert.Equal(t, int64(2), m.Stats(ctx).BidsCount)
}

func TestPlaceBidHalfUnitIncrement(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMarket(t)
	l, err := m.CreateListing(ctx, domain.CreateListingParams{
		Type: domain.ListingTypeEnglish, Asset: asset("1"), Seller: alice, Currency: "ETH",
		StartingPrice: domain.MustAmount("10"), MinBidIncrement: domain.MustAmount("0.5"), Duration: 24 * time.Hour,
	})
	require.NoError(t, err)

	first, err := m.PlaceBid(ctx, l.ID, bob, domain.MustAmount("10"))
	require.NoError(t, err)

	_, err = m.PlaceBid(ctx, l.ID, carol, domain.MustAmount("9"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrState)
	assert.NotErrorIs(t, err, domain.ErrValidation)

	second, err := m.PlaceBid(ctx, l.ID, carol, domain.MustAmount("10.5"))
	require.NoError(t, err)

	bids, err := m.ListBids(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.Equal(t, second.ID, bids[0].ID)
	assert.Equal(t, domain.BidStatusActive, bids[0].Status)
	assert.Equal(t, first.ID, bids[1].ID)
	assert.Equal(t, domain.BidStatusOutbid, bids[1].Status)

	got, err := m.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MustAmount("10.5"), got.CurrentBid)
}

func TestPlaceBidRejections(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newTestMarket(t)

	fixed := fixedListing(t, m, "1", "5")
	_, err := m.PlaceBid(ctx, fixed.ID, bob, domain.MustAmount("10"))
	assert.ErrorIs(t, err, domain.ErrState)

	dutch, err := m.CreateListing(ctx, domain.CreateListingParams{
		Type: domain.ListingTypeDutch, Asset: asset("2"), Seller: alice, Currency: "ETH",
		StartingPrice: domain.MustAmount("100"), EndingPrice: domain.MustAmount("10"), Duration: time.Hour,
	})
	require.NoError(t, err)
	_, err = m.PlaceBid(ctx, dutch.ID, bob, domain.MustAmount("50"))
	assert.ErrorIs(t, err, domain.ErrState)

	auction := englishAuction(t, m, "3")
	_, err = m.PlaceBid(ctx, auction.ID, alice, domain.MustAmount("10"))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = m.PlaceBid(ctx, auction.ID, bob, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = m.PlaceBid(ctx, "missing", bob, domain.MustAmount("10"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	later, err := m.CreateListing(ctx, domain.CreateListingParams{
		Type: domain.ListingTypeEnglish, Asset: asset("4"), Seller: alice, Currency: "ETH",
		StartingPrice: domain.MustAmount("1"), StartsAt: t0.Add(time.Hour), Duration: time.Hour,
	})
	require.NoError(t, err)
	_, err = m.PlaceBid(ctx, later.ID, bob, domain.MustAmount("1"))
	assert.ErrorIs(t, err, domain.ErrState)

	clock.Advance(25 * time.Hour)
	_, err = m.PlaceBid(ctx, auction.ID, bob, domain.MustAmount("10"))
	assert.ErrorIs(t, err, domain.ErrState)
}

func TestBidsStrictlyIncreaseWithoutIncrement(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMarket(t)
	l, err := m.CreateListing(ctx, domain.CreateListingParams{
		Type: domain.ListingTypeEnglish, Asset: asset("1"), Seller: alice, Currency: "ETH",
		StartingPrice: domain.MustAmount("1"), Duration: time.Hour,
	})
	require.NoError(t, err)

	_, err = m.PlaceBid(ctx, l.ID, bob, domain.MustAmount("2"))
	require.NoError(t, err)
	_, err = m.PlaceBid(ctx, l.ID, carol, domain.MustAmount("2"))
	assert.ErrorIs(t, err, domain.ErrState)
	_, err = m.PlaceBid(ctx, l.ID, carol, domain.MustAmount("2.000001"))
	require.NoError(t, err)

	bids, err := m.ListBids(ctx, l.ID)
	require.NoError(t, err)
	active := 0
	for i, b := range bids {
		if b.Status == domain.BidStatusActive {
			active++
		}
		if i > 0 {
			assert.Greater(t, bids[i-1].Amount, b.Amount)
		}
	}
	assert.Equal(t, 1, active)
}
