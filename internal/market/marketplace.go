package market

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

// Marketplace is the engine facade. It owns the shared Store and the
// components that operate on it.
type Marketplace struct {
	cfg        Config
	store      *Store
	listings   *ListingStore
	bids       *BidLedger
	offers     *OfferBook
	settlement *SettlementEngine
	sweeper    *ExpirySweeper
	logger     *slog.Logger
}

// New creates a marketplace. A nil clock means wall-clock UTC.
func New(cfg Config, clock Clock, logger *slog.Logger) (*Marketplace, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "market"))
	store := NewStore(cfg.Retention, clock)
	return &Marketplace{
		cfg:        cfg,
		store:      store,
		listings:   NewListingStore(store, cfg, logger),
		bids:       NewBidLedger(store, logger),
		offers:     NewOfferBook(store, cfg, logger),
		settlement: NewSettlementEngine(store, cfg, logger),
		sweeper:    NewExpirySweeper(store, logger),
		logger:     logger,
	}, nil
}

// SetHook installs the post-commit hook. Call it before serving traffic.
func (m *Marketplace) SetHook(h Hook) {
	m.store.SetHook(h)
}

// Config returns the engine configuration.
func (m *Marketplace) Config() Config { return m.cfg }

// Now returns the engine clock's current time.
func (m *Marketplace) Now() time.Time { return m.store.Now() }

// Sweeper exposes the expiry sweeper for scheduling.
func (m *Marketplace) Sweeper() *ExpirySweeper { return m.sweeper }

func (m *Marketplace) CreateListing(ctx context.Context, p domain.CreateListingParams) (domain.Listing, error) {
	return m.listings.Create(ctx, p)
}

func (m *Marketplace) CancelListing(ctx context.Context, id, actor string) (domain.Listing, error) {
	return m.listings.Cancel(ctx, id, actor)
}

func (m *Marketplace) GetListing(ctx context.Context, id string) (domain.Listing, error) {
	return m.listings.Get(ctx, id)
}

func (m *Marketplace) QueryListings(ctx context.Context, f domain.ListingFilter, sort domain.ListingSort, page domain.Page) domain.ListingPage {
	return m.listings.Query(ctx, f, sort, page)
}

func (m *Marketplace) ToggleFavorite(ctx context.Context, id, user string) (bool, int64, error) {
	return m.listings.ToggleFavorite(ctx, id, user)
}

func (m *Marketplace) IncrementView(ctx context.Context, id string) (int64, error) {
	return m.listings.IncrementView(ctx, id)
}

func (m *Marketplace) SetRoyalty(ctx context.Context, collection, tokenID string, bps int) error {
	return m.listings.SetRoyalty(ctx, collection, tokenID, bps)
}

func (m *Marketplace) PlaceBid(ctx context.Context, listingID, bidder string, amount domain.Amount) (domain.Bid, error) {
	return m.bids.Place(ctx, listingID, bidder, amount)
}

func (m *Marketplace) ListBids(ctx context.Context, listingID string) ([]domain.Bid, error) {
	return m.bids.List(ctx, listingID)
}

func (m *Marketplace) BuyNow(ctx context.Context, listingID, buyer string) (domain.Sale, error) {
	return m.settlement.BuyNow(ctx, listingID, buyer)
}

func (m *Marketplace) MakeOffer(ctx context.Context, p domain.MakeOfferParams) (domain.Offer, error) {
	return m.offers.Make(ctx, p)
}

func (m *Marketplace) GetOffer(ctx context.Context, id string) (domain.Offer, error) {
	return m.offers.Get(ctx, id)
}

func (m *Marketplace) ListOffers(ctx context.Context, f domain.OfferFilter, page domain.Page) ([]domain.Offer, int) {
	return m.offers.List(ctx, f, page)
}

func (m *Marketplace) AcceptOffer(ctx context.Context, offerID, seller, tokenID string) (domain.Sale, error) {
	return m.settlement.AcceptOffer(ctx, offerID, seller, tokenID)
}

func (m *Marketplace) CancelOffer(ctx context.Context, id, actor string) (domain.Offer, error) {
	return m.offers.Cancel(ctx, id, actor)
}

func (m *Marketplace) RejectOffer(ctx context.Context, id, actor string) (domain.Offer, error) {
	return m.offers.Reject(ctx, id, actor)
}

func (m *Marketplace) AttachSettlement(ctx context.Context, saleID, txRef string) (domain.Settlement, error) {
	return m.settlement.AttachSettlement(ctx, saleID, txRef)
}

func (m *Marketplace) GetSale(ctx context.Context, id string) (domain.Sale, *domain.Settlement, error) {
	return m.settlement.GetSale(ctx, id)
}

func (m *Marketplace) ListSales(ctx context.Context, page domain.Page) ([]domain.Sale, int) {
	return m.settlement.ListSales(ctx, page)
}

func (m *Marketplace) Sweep(ctx context.Context) (SweepReport, error) {
	return m.sweeper.Sweep(ctx)
}

// Activity queries the activity feed newest first.
func (m *Marketplace) Activity(_ context.Context, f domain.ActivityFilter, page domain.Page) ([]domain.Activity, int) {
	return m.store.feed.Query(f, page)
}

// PriceHistory queries price points newest first.
func (m *Marketplace) PriceHistory(_ context.Context, f domain.PriceFilter, page domain.Page) ([]domain.PricePoint, int) {
	return m.store.prices.Query(f, page)
}

// Stats returns a snapshot of the running counters.
func (m *Marketplace) Stats(_ context.Context) domain.MarketStats {
	return m.store.stats.Snapshot()
}
