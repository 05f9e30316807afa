package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

func itemOffer(t *testing.T, m *Marketplace, token, amount string) domain.Offer {
	t.Helper()
	o, err := m.MakeOffer(context.Background(), domain.MakeOfferParams{
		Target:   domain.OfferTarget{Kind: domain.OfferTargetItem, Collection: collection, TokenID: token},
		Offerer:  bob,
		Amount:   domain.MustAmount(amount),
		Currency: "WETH",
		Duration: 72 * time.Hour,
	})
	require.NoError(t, err)
	return o
}

func TestMakeOffer(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMarket(t)

	o, err := m.MakeOffer(ctx, domain.MakeOfferParams{
		Target:   domain.OfferTarget{Kind: domain.OfferTargetCollection, Collection: collection},
		Offerer:  bob,
		Amount:   domain.MustAmount("1.5"),
		Currency: "WETH",
		Quantity: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusActive, o.Status)
	assert.Equal(t, domain.MustAmount("4.5"), o.EscrowAmount)
	assert.Equal(t, t0.Add(72*time.Hour), o.ExpiresAt)

	_, err = m.MakeOffer(ctx, domain.MakeOfferParams{
		Target:  domain.OfferTarget{Kind: domain.OfferTargetItem, Collection: collection},
		Offerer: bob, Amount: 1, Currency: "WETH",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = m.MakeOffer(ctx, domain.MakeOfferParams{
		Target:  domain.OfferTarget{Kind: domain.OfferTargetCollection, Collection: collection},
		Offerer: bob, Amount: 0, Currency: "WETH",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	assert.Equal(t, int64(1), m.Stats(ctx).OffersCount)
}

func TestAcceptOfferUsesRoyaltyRegistry(t *testing.T) {
	ctx := context.Background()
	m, _, rec := newTestMarket(t)
	require.NoError(t, m.SetRoyalty(ctx, collection, "", 500))

	o := itemOffer(t, m, "7", "100")
	sale, err := m.AcceptOffer(ctx, o.ID, alice, "")
	require.NoError(t, err)
	assert.Equal(t, domain.SaleSourceOffer, sale.Source)
	assert.Equal(t, o.ID, sale.OfferID)
	assert.Equal(t, bob, sale.Buyer)
	assert.Equal(t, alice, sale.Seller)
	assert.Equal(t, 500, sale.RoyaltyBps)
	assert.Equal(t, 250, sale.PlatformFeeBps)
	assert.Equal(t, domain.MustAmount("92.5"), sale.SellerProceeds)
	assert.True(t, sale.Balanced())

	got, err := m.GetOffer(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusAccepted, got.Status)

	_, err = m.AcceptOffer(ctx, o.ID, alice, "")
	assert.ErrorIs(t, err, domain.ErrState)
	assert.Len(t, rec.sales(), 1)
}

func TestAcceptOfferClosesSellerListing(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMarket(t)
	l, err := m.CreateListing(ctx, domain.CreateListingParams{
		Type: domain.ListingTypeFixed, Asset: asset("1"), Seller: alice, Currency: "ETH",
		Price: domain.MustAmount("100"), RoyaltyBps: 300,
	})
	require.NoError(t, err)

	o := itemOffer(t, m, "1", "80")
	_, err = m.AcceptOffer(ctx, o.ID, carol, "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	sale, err := m.AcceptOffer(ctx, o.ID, alice, "")
	require.NoError(t, err)
	assert.Equal(t, 300, sale.RoyaltyBps)

	got, err := m.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusCancelled, got.Status)

	_, err = m.BuyNow(ctx, l.ID, carol)
	assert.ErrorIs(t, err, domain.ErrState)
}

func TestAcceptCollectionOfferNeedsToken(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMarket(t)
	o, err := m.MakeOffer(ctx, domain.MakeOfferParams{
		Target:   domain.OfferTarget{Kind: domain.OfferTargetCollection, Collection: collection},
		Offerer:  bob,
		Amount:   domain.MustAmount("2"),
		Currency: "WETH",
		Quantity: 2,
	})
	require.NoError(t, err)

	_, err = m.AcceptOffer(ctx, o.ID, alice, "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	sale, err := m.AcceptOffer(ctx, o.ID, alice, "42")
	require.NoError(t, err)
	assert.Equal(t, "42", sale.Asset.TokenID)
	assert.Equal(t, domain.MustAmount("4"), sale.SalePrice)
}

func TestOfferLazyExpiry(t *testing.T) {
	ctx := context.Background()
	m, clock, rec := newTestMarket(t)
	o := itemOffer(t, m, "1", "10")

	clock.Advance(73 * time.Hour)
	listed, total := m.ListOffers(ctx, domain.OfferFilter{Status: domain.OfferStatusActive}, domain.Page{})
	assert.Equal(t, 0, total)
	assert.Empty(t, listed)

	_, err := m.AcceptOffer(ctx, o.ID, alice, "")
	assert.ErrorIs(t, err, domain.ErrState)

	got, err := m.GetOffer(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusExpired, got.Status)
	assert.Empty(t, rec.sales())
}

func TestCancelAndRejectOffer(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMarket(t)

	o := itemOffer(t, m, "1", "10")
	_, err := m.CancelOffer(ctx, o.ID, alice)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	got, err := m.CancelOffer(ctx, o.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusCancelled, got.Status)
	_, err = m.CancelOffer(ctx, o.ID, bob)
	assert.ErrorIs(t, err, domain.ErrState)

	o2 := itemOffer(t, m, "2", "10")
	_, err = m.RejectOffer(ctx, o2.ID, bob)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	got, err = m.RejectOffer(ctx, o2.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusRejected, got.Status)

	_, err = m.GetOffer(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	acts, _ := m.Activity(ctx, domain.ActivityFilter{
		Types: []domain.ActivityType{domain.ActivityOfferCancel, domain.ActivityOfferReject},
	}, domain.Page{})
	assert.Len(t, acts, 2)
}
