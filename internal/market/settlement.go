package market

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

// SettlementEngine turns a buy-now, an auction close or an accepted offer
// into a single fee-split Sale.
type SettlementEngine struct {
	store  *Store
	cfg    Config
	logger *slog.Logger
}

// NewSettlementEngine creates a SettlementEngine over the shared store.
func NewSettlementEngine(store *Store, cfg Config, logger *slog.Logger) *SettlementEngine {
	return &SettlementEngine{store: store, cfg: cfg, logger: logger}
}

// BuyNow sells a listing to buyer at its current buy-now price: the fixed
// price, the decayed Dutch price, or an auction's buy_now_price.
func (se *SettlementEngine) BuyNow(ctx context.Context, listingID, buyer string) (domain.Sale, error) {
	const op = "buy_now"
	if buyer == "" {
		return domain.Sale{}, domain.NewValidationError(op, "buyer is required")
	}

	var out domain.Sale
	err := se.store.commit(ctx, func(t *tx) error {
		l, err := t.listing(op, listingID)
		if err != nil {
			return err
		}
		if l.Status != domain.ListingStatusActive {
			return domain.NewStateError(op, "listing %s is not active (status %s)", l.ID, l.Status)
		}
		if l.Seller == buyer {
			return domain.NewAuthorizationError(op, "seller may not buy own listing %s", l.ID)
		}
		if t.now.Before(l.StartsAt) {
			return domain.NewStateError(op, "listing %s has not started", l.ID)
		}
		if !t.now.Before(l.EndsAt) {
			return domain.NewStateError(op, "listing %s has ended", l.ID)
		}

		var price domain.Amount
		switch l.Type {
		case domain.ListingTypeFixed:
			price = l.Price
		case domain.ListingTypeDutch:
			price = l.DutchPriceAt(t.now)
		default:
			if l.BuyNowPrice <= 0 {
				return domain.NewStateError(op, "listing %s has no buy-now price", l.ID)
			}
			price = l.BuyNowPrice
		}

		out, err = t.settleListing(op, l, buyer, price, domain.SaleSourceBuyNow, nil)
		return err
	})
	if err != nil {
		return domain.Sale{}, err
	}
	se.logSale(ctx, out)
	return out, nil
}

// AcceptOffer sells to an active offer. tokenID names the token being sold
// and is required for collection offers. When the asset has an active
// listing only its seller may accept, and that listing is closed in the same
// step.
func (se *SettlementEngine) AcceptOffer(ctx context.Context, offerID, seller, tokenID string) (domain.Sale, error) {
	const op = "accept_offer"
	if seller == "" {
		return domain.Sale{}, domain.NewValidationError(op, "seller is required")
	}

	var out domain.Sale
	err := se.store.commit(ctx, func(t *tx) error {
		o, err := t.offer(op, offerID)
		if err != nil {
			return err
		}
		t.expireOfferIfDue(o)
		if o.Status != domain.OfferStatusActive {
			return domain.NewStateError(op, "offer %s is not active (status %s)", o.ID, o.Status)
		}
		if o.Offerer == seller {
			return domain.NewAuthorizationError(op, "offerer may not accept own offer %s", o.ID)
		}

		asset := domain.AssetRef{Collection: o.Target.Collection}
		switch o.Target.Kind {
		case domain.OfferTargetItem:
			if tokenID != "" && tokenID != o.Target.TokenID {
				return domain.NewValidationError(op, "token %s does not match offer token %s", tokenID, o.Target.TokenID)
			}
			asset.TokenID = o.Target.TokenID
		default:
			if tokenID == "" {
				return domain.NewValidationError(op, "token_id is required for collection offer %s", o.ID)
			}
			asset.TokenID = tokenID
		}

		var listing *domain.Listing
		if id, ok := t.s.activeByAsset[asset.Key()]; ok {
			listing = t.s.listings[id]
			if listing.Seller != seller {
				return domain.NewAuthorizationError(op, "asset %s is listed by another seller", asset.Key())
			}
			asset = listing.Asset
		}
		if _, dup := t.s.saleByOffer[o.ID]; dup {
			return domain.NewStateError(op, "offer %s already settled", o.ID)
		}

		o.Status = domain.OfferStatusAccepted
		o.UpdatedAt = t.now

		if listing != nil {
			if err := t.closeListing(op, listing, domain.ListingStatusCancelled); err != nil {
				return err
			}
			t.releaseBids(listing.ID, domain.BidStatusCancelled)
			t.emitActivity(domain.Activity{
				ID:         uuid.NewString(),
				Type:       domain.ActivityCancel,
				AssetKey:   asset.Key(),
				Collection: asset.Collection,
				Actor:      seller,
				ListingID:  listing.ID,
			})
		}

		royaltyBps := t.resolveRoyalty(asset, se.cfg.DefaultRoyaltyBps)
		sale := newSale(t, asset, seller, o.Offerer, o.EscrowAmount, o.Currency, se.cfg.PlatformFeeBps, royaltyBps)
		sale.Source = domain.SaleSourceOffer
		sale.OfferID = o.ID
		t.s.sales[sale.ID] = &sale
		t.s.saleByOffer[o.ID] = sale.ID
		t.s.stats.saleRecorded(sale)

		t.emitActivity(domain.Activity{
			ID:           uuid.NewString(),
			Type:         domain.ActivityOfferAccept,
			AssetKey:     asset.Key(),
			Collection:   asset.Collection,
			Actor:        seller,
			Counterparty: o.Offerer,
			OfferID:      o.ID,
			SaleID:       sale.ID,
			Amount:       sale.SalePrice,
			Currency:     sale.Currency,
		})
		t.recordSale(sale)
		out = sale
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}
	se.logSale(ctx, out)
	return out, nil
}

// AttachSettlement records the transfer reference for a sale. A sale can be
// settled once.
func (se *SettlementEngine) AttachSettlement(ctx context.Context, saleID, txRef string) (domain.Settlement, error) {
	const op = "attach_settlement"
	if strings.TrimSpace(txRef) == "" {
		return domain.Settlement{}, domain.NewValidationError(op, "tx_ref is required")
	}
	var out domain.Settlement
	err := se.store.commit(ctx, func(t *tx) error {
		if _, ok := t.s.sales[saleID]; !ok {
			return domain.NewNotFoundError(op, "sale %s", saleID)
		}
		if prev, ok := t.s.settlements[saleID]; ok {
			return domain.NewStateError(op, "sale %s already settled by %s", saleID, prev.TxRef)
		}
		out = domain.Settlement{SaleID: saleID, TxRef: txRef, SettledAt: t.now}
		t.s.settlements[saleID] = out
		t.emitSettlement(out)
		return nil
	})
	return out, err
}

// GetSale returns a sale and its settlement, if one is attached.
func (se *SettlementEngine) GetSale(_ context.Context, id string) (domain.Sale, *domain.Settlement, error) {
	var (
		sale domain.Sale
		st   *domain.Settlement
		err  error
	)
	se.store.read(func(t *tx) {
		s, ok := t.s.sales[id]
		if !ok {
			err = domain.NewNotFoundError("get_sale", "sale %s", id)
			return
		}
		sale = *s
		if v, ok := t.s.settlements[id]; ok {
			st = &v
		}
	})
	return sale, st, err
}

// ListSales returns sales newest first.
func (se *SettlementEngine) ListSales(_ context.Context, page domain.Page) ([]domain.Sale, int) {
	var all []domain.Sale
	se.store.read(func(t *tx) {
		all = make([]domain.Sale, 0, len(t.s.sales))
		for _, s := range t.s.sales {
			all = append(all, *s)
		}
	})
	slices.SortFunc(all, func(a, b domain.Sale) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return paginate(all, page), len(all)
}

func (se *SettlementEngine) logSale(ctx context.Context, s domain.Sale) {
	se.logger.InfoContext(ctx, "sale committed",
		slog.String("sale_id", s.ID),
		slog.String("source", string(s.Source)),
		slog.String("asset", s.Asset.Key()),
		slog.String("price", s.SalePrice.String()),
		slog.String("currency", s.Currency),
	)
}

// settleListing closes l as sold and records the sale. winning is the bid
// that won the auction, or nil for a buy-now; any other active bid is
// refunded.
func (t *tx) settleListing(op string, l *domain.Listing, buyer string, price domain.Amount, source domain.SaleSource, winning *domain.Bid) (domain.Sale, error) {
	if _, dup := t.s.saleByListing[l.ID]; dup {
		return domain.Sale{}, domain.NewStateError(op, "listing %s already sold", l.ID)
	}
	if err := t.closeListing(op, l, domain.ListingStatusSold); err != nil {
		return domain.Sale{}, err
	}
	soldAt := t.now
	l.SoldAt = &soldAt
	if winning != nil {
		winning.Status = domain.BidStatusWon
	}
	t.releaseBids(l.ID, domain.BidStatusRefunded)

	sale := newSale(t, l.Asset, l.Seller, buyer, price, l.Currency, l.PlatformFeeBps, l.RoyaltyBps)
	sale.Source = source
	sale.ListingID = l.ID
	t.s.sales[sale.ID] = &sale
	t.s.saleByListing[l.ID] = sale.ID
	t.s.stats.saleRecorded(sale)
	t.recordSale(sale)
	return sale, nil
}

func newSale(t *tx, asset domain.AssetRef, seller, buyer string, price domain.Amount, currency string, platformBps, royaltyBps int) domain.Sale {
	split := domain.SplitFees(price, platformBps, royaltyBps)
	return domain.Sale{
		ID:             uuid.NewString(),
		Asset:          asset,
		Seller:         seller,
		Buyer:          buyer,
		SalePrice:      price,
		Currency:       currency,
		PlatformFee:    split.PlatformFee,
		RoyaltyFee:     split.RoyaltyFee,
		SellerProceeds: split.SellerProceeds,
		PlatformFeeBps: platformBps,
		RoyaltyBps:     royaltyBps,
		CreatedAt:      t.now,
	}
}

// recordSale emits the sale activity, price point and sale event.
func (t *tx) recordSale(sale domain.Sale) {
	t.emitActivity(domain.Activity{
		ID:           uuid.NewString(),
		Type:         domain.ActivitySale,
		AssetKey:     sale.Asset.Key(),
		Collection:   sale.Asset.Collection,
		Actor:        sale.Buyer,
		Counterparty: sale.Seller,
		ListingID:    sale.ListingID,
		OfferID:      sale.OfferID,
		SaleID:       sale.ID,
		Amount:       sale.SalePrice,
		Currency:     sale.Currency,
	})
	t.emitPrice(domain.PricePoint{
		Event:      domain.PriceEventSale,
		AssetKey:   sale.Asset.Key(),
		Collection: sale.Asset.Collection,
		Price:      sale.SalePrice,
		Currency:   sale.Currency,
	})
	t.emitSale(sale)
}
