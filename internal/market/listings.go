package market

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

// ListingStore owns listing records and their status transitions.
type ListingStore struct {
	store  *Store
	cfg    Config
	logger *slog.Logger
}

// NewListingStore creates a ListingStore over the shared store.
func NewListingStore(store *Store, cfg Config, logger *slog.Logger) *ListingStore {
	return &ListingStore{store: store, cfg: cfg, logger: logger}
}

// Create validates p and adds an active listing.
func (ls *ListingStore) Create(ctx context.Context, p domain.CreateListingParams) (domain.Listing, error) {
	const op = "create_listing"
	var out domain.Listing
	err := ls.store.commit(ctx, func(t *tx) error {
		l, err := ls.build(op, p, t)
		if err != nil {
			return err
		}
		key := l.Asset.Key()
		if id, ok := t.s.activeByAsset[key]; ok {
			return domain.NewStateError(op, "asset %s already has active listing %s", key, id)
		}

		t.s.listings[l.ID] = l
		t.s.activeByAsset[key] = l.ID
		if l.RoyaltyBps > 0 {
			t.s.royalties[key] = l.RoyaltyBps
		}
		t.s.stats.listingOpened(l.Seller)

		asking := askingPrice(*l, t.now)
		t.emitActivity(domain.Activity{
			ID:         uuid.NewString(),
			Type:       domain.ActivityListing,
			AssetKey:   key,
			Collection: l.Asset.Collection,
			Actor:      l.Seller,
			ListingID:  l.ID,
			Amount:     asking,
			Currency:   l.Currency,
		})
		t.emitPrice(domain.PricePoint{
			Event:      domain.PriceEventListing,
			AssetKey:   key,
			Collection: l.Asset.Collection,
			Price:      asking,
			Currency:   l.Currency,
		})
		out = *l
		return nil
	})
	if err != nil {
		return domain.Listing{}, err
	}
	ls.logger.InfoContext(ctx, "listing created",
		slog.String("listing_id", out.ID),
		slog.String("type", string(out.Type)),
		slog.String("asset", out.Asset.Key()),
		slog.String("seller", out.Seller),
	)
	return out, nil
}

func (ls *ListingStore) build(op string, p domain.CreateListingParams, t *tx) (*domain.Listing, error) {
	if !p.Type.Valid() {
		return nil, domain.NewValidationError(op, "unknown listing type %q", p.Type)
	}
	if strings.TrimSpace(p.Seller) == "" {
		return nil, domain.NewValidationError(op, "seller is required")
	}
	if p.Asset.Collection == "" || p.Asset.TokenID == "" {
		return nil, domain.NewValidationError(op, "asset collection and token_id are required")
	}
	if p.Currency == "" {
		return nil, domain.NewValidationError(op, "currency is required")
	}

	switch p.Type {
	case domain.ListingTypeFixed:
		if p.Price <= 0 {
			return nil, domain.NewValidationError(op, "price must be positive")
		}
	case domain.ListingTypeEnglish, domain.ListingTypeReserveAuction:
		if p.StartingPrice <= 0 {
			return nil, domain.NewValidationError(op, "starting_price must be positive")
		}
		if p.Type == domain.ListingTypeReserveAuction && p.ReservePrice <= 0 {
			return nil, domain.NewValidationError(op, "reserve_price must be positive")
		}
		if p.BuyNowPrice < 0 || (p.BuyNowPrice > 0 && p.BuyNowPrice < p.StartingPrice) {
			return nil, domain.NewValidationError(op, "buy_now_price must not be below starting_price")
		}
		if p.MinBidIncrement < 0 {
			return nil, domain.NewValidationError(op, "min_bid_increment must not be negative")
		}
	case domain.ListingTypeDutch:
		if p.StartingPrice <= 0 || p.EndingPrice <= 0 {
			return nil, domain.NewValidationError(op, "starting_price and ending_price must be positive")
		}
		if p.EndingPrice >= p.StartingPrice {
			return nil, domain.NewValidationError(op, "ending_price must be below starting_price")
		}
	}

	platformBps := ls.cfg.PlatformFeeBps
	if p.PlatformFeeBps != nil {
		platformBps = *p.PlatformFeeBps
	}
	if platformBps < 0 || platformBps > domain.BpsDenominator {
		return nil, domain.NewValidationError(op, "platform_fee_bps %d out of range", platformBps)
	}
	if p.RoyaltyBps < 0 || p.RoyaltyBps > ls.cfg.MaxRoyaltyBps {
		return nil, domain.NewValidationError(op, "royalty_bps %d exceeds maximum %d", p.RoyaltyBps, ls.cfg.MaxRoyaltyBps)
	}
	if platformBps+p.RoyaltyBps > domain.BpsDenominator {
		return nil, domain.NewValidationError(op, "fees exceed %d bps", domain.BpsDenominator)
	}

	starts := p.StartsAt
	if starts.IsZero() {
		starts = t.now
	}
	ends := p.EndsAt
	switch {
	case !ends.IsZero():
	case p.Duration > 0:
		ends = starts.Add(p.Duration)
	case p.Type.IsAuction():
		return nil, domain.NewValidationError(op, "ends_at or duration is required for auctions")
	default:
		ends = starts.Add(ls.cfg.DefaultListingDuration)
	}
	if !ends.After(starts) {
		return nil, domain.NewValidationError(op, "ends_at must be after starts_at")
	}
	if !ends.After(t.now) {
		return nil, domain.NewValidationError(op, "ends_at must be in the future")
	}

	return &domain.Listing{
		ID:              uuid.NewString(),
		Type:            p.Type,
		Status:          domain.ListingStatusActive,
		Asset:           p.Asset,
		Seller:          p.Seller,
		Currency:        p.Currency,
		Price:           p.Price,
		StartingPrice:   p.StartingPrice,
		ReservePrice:    p.ReservePrice,
		BuyNowPrice:     p.BuyNowPrice,
		EndingPrice:     p.EndingPrice,
		MinBidIncrement: p.MinBidIncrement,
		RoyaltyBps:      p.RoyaltyBps,
		PlatformFeeBps:  platformBps,
		CreatedAt:       t.now,
		UpdatedAt:       t.now,
		StartsAt:        starts,
		EndsAt:          ends,
		Escrow:          p.Escrow,
	}, nil
}

// Cancel withdraws an active listing. Only the seller may cancel; the active
// bid, if any, is cancelled with it.
func (ls *ListingStore) Cancel(ctx context.Context, id, actor string) (domain.Listing, error) {
	const op = "cancel_listing"
	var out domain.Listing
	err := ls.store.commit(ctx, func(t *tx) error {
		l, err := t.listing(op, id)
		if err != nil {
			return err
		}
		if l.Seller != actor {
			return domain.NewAuthorizationError(op, "only the seller may cancel listing %s", id)
		}
		if err := t.closeListing(op, l, domain.ListingStatusCancelled); err != nil {
			return err
		}
		t.releaseBids(l.ID, domain.BidStatusCancelled)
		t.emitActivity(domain.Activity{
			ID:         uuid.NewString(),
			Type:       domain.ActivityCancel,
			AssetKey:   l.Asset.Key(),
			Collection: l.Asset.Collection,
			Actor:      actor,
			ListingID:  l.ID,
		})
		out = *l
		return nil
	})
	if err != nil {
		return domain.Listing{}, err
	}
	ls.logger.InfoContext(ctx, "listing cancelled", slog.String("listing_id", id))
	return out, nil
}

// Get returns a copy of the listing.
func (ls *ListingStore) Get(_ context.Context, id string) (domain.Listing, error) {
	var (
		out domain.Listing
		err error
	)
	ls.store.read(func(t *tx) {
		var l *domain.Listing
		if l, err = t.listing("get_listing", id); err == nil {
			out = *l
		}
	})
	return out, err
}

// Query filters, sorts and paginates listings. Ties in the sort key are
// broken by listing id so pages are stable.
func (ls *ListingStore) Query(_ context.Context, filter domain.ListingFilter, sort domain.ListingSort, page domain.Page) domain.ListingPage {
	type row struct {
		l     domain.Listing
		price domain.Amount
	}
	var rows []row
	ls.store.read(func(t *tx) {
		for _, l := range t.s.listings {
			price := askingPrice(*l, t.now)
			if listingMatches(*l, price, filter) {
				rows = append(rows, row{l: *l, price: price})
			}
		}
	})

	slices.SortFunc(rows, func(a, b row) int {
		var c int
		switch sort {
		case domain.SortCreatedAsc:
			c = a.l.CreatedAt.Compare(b.l.CreatedAt)
		case domain.SortPriceAsc:
			c = cmpAmount(a.price, b.price)
		case domain.SortPriceDesc:
			c = cmpAmount(b.price, a.price)
		case domain.SortEndingSoon:
			c = a.l.EndsAt.Compare(b.l.EndsAt)
		default:
			c = b.l.CreatedAt.Compare(a.l.CreatedAt)
		}
		if c != 0 {
			return c
		}
		return strings.Compare(a.l.ID, b.l.ID)
	})

	out := make([]domain.Listing, 0, len(rows))
	for _, r := range paginate(rows, page) {
		out = append(out, r.l)
	}
	return domain.ListingPage{Listings: out, Total: len(rows)}
}

// ToggleFavorite adds or removes user from the listing's favoriters and
// returns the new state and count.
func (ls *ListingStore) ToggleFavorite(ctx context.Context, id, user string) (bool, int64, error) {
	const op = "toggle_favorite"
	if user == "" {
		return false, 0, domain.NewValidationError(op, "user is required")
	}
	var (
		favorited bool
		count     int64
	)
	err := ls.store.commit(ctx, func(t *tx) error {
		l, err := t.listing(op, id)
		if err != nil {
			return err
		}
		set := t.s.favorites[id]
		if set == nil {
			set = make(map[string]struct{})
			t.s.favorites[id] = set
		}
		if _, ok := set[user]; ok {
			delete(set, user)
		} else {
			set[user] = struct{}{}
			favorited = true
		}
		l.Favorites = int64(len(set))
		count = l.Favorites
		return nil
	})
	return favorited, count, err
}

// IncrementView bumps the view counter and returns the new value.
func (ls *ListingStore) IncrementView(ctx context.Context, id string) (int64, error) {
	var views int64
	err := ls.store.commit(ctx, func(t *tx) error {
		l, err := t.listing("increment_view", id)
		if err != nil {
			return err
		}
		l.Views++
		views = l.Views
		return nil
	})
	return views, err
}

// SetRoyalty registers royalty bps for a whole collection (tokenID empty) or
// one asset. Offer sales resolve royalty from this registry.
func (ls *ListingStore) SetRoyalty(ctx context.Context, collection, tokenID string, bps int) error {
	const op = "set_royalty"
	if collection == "" {
		return domain.NewValidationError(op, "collection is required")
	}
	if bps < 0 || bps > ls.cfg.MaxRoyaltyBps {
		return domain.NewValidationError(op, "royalty_bps %d exceeds maximum %d", bps, ls.cfg.MaxRoyaltyBps)
	}
	return ls.store.commit(ctx, func(t *tx) error {
		key := collectionKey(collection)
		if tokenID != "" {
			key = domain.AssetRef{Collection: collection, TokenID: tokenID}.Key()
		}
		t.s.royalties[key] = bps
		return nil
	})
}

func (t *tx) listing(op, id string) (*domain.Listing, error) {
	l, ok := t.s.listings[id]
	if !ok {
		return nil, domain.NewNotFoundError(op, "listing %s", id)
	}
	return l, nil
}

// closeListing is the compare-and-set out of active. It must be the first
// mutation of every sell, cancel and expire path so that exactly one of them
// can win for a given listing.
func (t *tx) closeListing(op string, l *domain.Listing, to domain.ListingStatus) error {
	if l.Status != domain.ListingStatusActive {
		return domain.NewStateError(op, "listing %s is not active (status %s)", l.ID, l.Status)
	}
	l.Status = to
	l.UpdatedAt = t.now
	if t.s.activeByAsset[l.Asset.Key()] == l.ID {
		delete(t.s.activeByAsset, l.Asset.Key())
	}
	t.s.stats.listingClosed()
	return nil
}

// resolveRoyalty looks up royalty bps for an asset: the asset entry, then the
// collection entry, then the configured default.
func (t *tx) resolveRoyalty(asset domain.AssetRef, fallback int) int {
	if bps, ok := t.s.royalties[asset.Key()]; ok {
		return bps
	}
	if bps, ok := t.s.royalties[collectionKey(asset.Collection)]; ok {
		return bps
	}
	return fallback
}

// askingPrice is the price a listing is shown and sorted at.
func askingPrice(l domain.Listing, now time.Time) domain.Amount {
	switch l.Type {
	case domain.ListingTypeFixed:
		return l.Price
	case domain.ListingTypeDutch:
		if l.Status == domain.ListingStatusActive {
			return l.DutchPriceAt(now)
		}
		return l.EndingPrice
	default:
		if l.CurrentBid > l.StartingPrice {
			return l.CurrentBid
		}
		return l.StartingPrice
	}
}

func listingMatches(l domain.Listing, price domain.Amount, f domain.ListingFilter) bool {
	switch {
	case f.Status != "" && l.Status != f.Status:
		return false
	case f.Type != "" && l.Type != f.Type:
		return false
	case f.Seller != "" && l.Seller != f.Seller:
		return false
	case f.Collection != "" && l.Asset.Collection != f.Collection:
		return false
	case f.AssetKey != "" && l.Asset.Key() != f.AssetKey:
		return false
	case f.Currency != "" && l.Currency != f.Currency:
		return false
	case f.MinPrice > 0 && price < f.MinPrice:
		return false
	case f.MaxPrice > 0 && price > f.MaxPrice:
		return false
	}
	return true
}

func cmpAmount(a, b domain.Amount) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
