package handler

import (
	"context"

	"github.com/alanyoungcy/assetmarket/internal/domain"
	"github.com/alanyoungcy/assetmarket/internal/market"
)

// Engine is the marketplace surface the HTTP layer drives.
type Engine interface {
	CreateListing(ctx context.Context, p domain.CreateListingParams) (domain.Listing, error)
	CancelListing(ctx context.Context, id, actor string) (domain.Listing, error)
	GetListing(ctx context.Context, id string) (domain.Listing, error)
	QueryListings(ctx context.Context, f domain.ListingFilter, sort domain.ListingSort, page domain.Page) domain.ListingPage
	ToggleFavorite(ctx context.Context, id, user string) (bool, int64, error)
	IncrementView(ctx context.Context, id string) (int64, error)
	SetRoyalty(ctx context.Context, collection, tokenID string, bps int) error

	PlaceBid(ctx context.Context, listingID, bidder string, amount domain.Amount) (domain.Bid, error)
	ListBids(ctx context.Context, listingID string) ([]domain.Bid, error)
	BuyNow(ctx context.Context, listingID, buyer string) (domain.Sale, error)

	MakeOffer(ctx context.Context, p domain.MakeOfferParams) (domain.Offer, error)
	GetOffer(ctx context.Context, id string) (domain.Offer, error)
	ListOffers(ctx context.Context, f domain.OfferFilter, page domain.Page) ([]domain.Offer, int)
	AcceptOffer(ctx context.Context, offerID, seller, tokenID string) (domain.Sale, error)
	CancelOffer(ctx context.Context, id, actor string) (domain.Offer, error)
	RejectOffer(ctx context.Context, id, actor string) (domain.Offer, error)

	AttachSettlement(ctx context.Context, saleID, txRef string) (domain.Settlement, error)
	GetSale(ctx context.Context, id string) (domain.Sale, *domain.Settlement, error)
	ListSales(ctx context.Context, page domain.Page) ([]domain.Sale, int)

	Sweep(ctx context.Context) (market.SweepReport, error)
	Activity(ctx context.Context, f domain.ActivityFilter, page domain.Page) ([]domain.Activity, int)
	PriceHistory(ctx context.Context, f domain.PriceFilter, page domain.Page) ([]domain.PricePoint, int)
	Stats(ctx context.Context) domain.MarketStats
}

var _ Engine = (*market.Marketplace)(nil)
