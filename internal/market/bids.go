package market

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

// BidLedger owns bids on auction listings. At most one bid per listing is
// active at any time.
type BidLedger struct {
	store  *Store
	logger *slog.Logger
}

// NewBidLedger creates a BidLedger over the shared store.
func NewBidLedger(store *Store, logger *slog.Logger) *BidLedger {
	return &BidLedger{store: store, logger: logger}
}

// Place accepts a bid if it meets the minimum next bid
// max(current_bid + min_bid_increment, starting_price). The previous active
// bid, if any, becomes outbid.
func (bl *BidLedger) Place(ctx context.Context, listingID, bidder string, amount domain.Amount) (domain.Bid, error) {
	const op = "place_bid"
	if bidder == "" {
		return domain.Bid{}, domain.NewValidationError(op, "bidder is required")
	}
	if amount <= 0 {
		return domain.Bid{}, domain.NewValidationError(op, "amount must be positive")
	}

	var out domain.Bid
	err := bl.store.commit(ctx, func(t *tx) error {
		l, err := t.listing(op, listingID)
		if err != nil {
			return err
		}
		if l.Status != domain.ListingStatusActive {
			return domain.NewStateError(op, "listing %s is not active (status %s)", l.ID, l.Status)
		}
		if !l.Type.AcceptsBids() {
			return domain.NewStateError(op, "listing %s of type %s does not accept bids", l.ID, l.Type)
		}
		if l.Seller == bidder {
			return domain.NewAuthorizationError(op, "seller may not bid on own listing %s", l.ID)
		}
		if t.now.Before(l.StartsAt) {
			return domain.NewStateError(op, "auction %s has not started", l.ID)
		}
		if !t.now.Before(l.EndsAt) {
			return domain.NewStateError(op, "auction %s has ended", l.ID)
		}

		prev := t.activeBid(l.ID)
		minimum := nextMinimumBid(*l, prev != nil)
		if amount < minimum {
			return domain.NewStateError(op, "bid %s below minimum %s", amount, minimum)
		}

		if prev != nil {
			prev.Status = domain.BidStatusOutbid
		}
		b := &domain.Bid{
			ID:        uuid.NewString(),
			ListingID: l.ID,
			Bidder:    bidder,
			Amount:    amount,
			Currency:  l.Currency,
			Status:    domain.BidStatusActive,
			CreatedAt: t.now,
			ExpiresAt: l.EndsAt,
		}
		t.s.bids[l.ID] = append(t.s.bids[l.ID], b)
		l.CurrentBid = amount
		l.UpdatedAt = t.now
		t.s.stats.bidPlaced(bidder)

		var counterparty string
		if prev != nil {
			counterparty = prev.Bidder
		}
		t.emitActivity(domain.Activity{
			ID:           uuid.NewString(),
			Type:         domain.ActivityBid,
			AssetKey:     l.Asset.Key(),
			Collection:   l.Asset.Collection,
			Actor:        bidder,
			Counterparty: counterparty,
			ListingID:    l.ID,
			Amount:       amount,
			Currency:     l.Currency,
		})
		t.emitPrice(domain.PricePoint{
			Event:      domain.PriceEventBid,
			AssetKey:   l.Asset.Key(),
			Collection: l.Asset.Collection,
			Price:      amount,
			Currency:   l.Currency,
		})
		out = *b
		return nil
	})
	if err != nil {
		return domain.Bid{}, err
	}
	bl.logger.InfoContext(ctx, "bid placed",
		slog.String("listing_id", listingID),
		slog.String("bid_id", out.ID),
		slog.String("amount", out.Amount.String()),
	)
	return out, nil
}

// List returns the bid history of a listing, highest first.
func (bl *BidLedger) List(_ context.Context, listingID string) ([]domain.Bid, error) {
	var (
		out []domain.Bid
		err error
	)
	bl.store.read(func(t *tx) {
		if _, err = t.listing("list_bids", listingID); err != nil {
			return
		}
		bids := t.s.bids[listingID]
		out = make([]domain.Bid, 0, len(bids))
		for i := len(bids) - 1; i >= 0; i-- {
			out = append(out, *bids[i])
		}
	})
	return out, err
}


// nextMinimumBid is max(current_bid + min_bid_increment, starting_price).
// With no increment configured a new bid must still strictly exceed the
// current one.
func nextMinimumBid(l domain.Listing, hasBid bool) domain.Amount {
	if !hasBid {
		return l.StartingPrice
	}
	next := l.CurrentBid + l.MinBidIncrement
	if l.MinBidIncrement == 0 {
		next = l.CurrentBid + 1
	}
	return max(next, l.StartingPrice)
}

// activeBid returns the listing's active bid. Bids are accepted in strictly
// increasing order so the active one is always the last.
func (t *tx) activeBid(listingID string) *domain.Bid {
	bids := t.s.bids[listingID]
	if len(bids) == 0 {
		return nil
	}
	if last := bids[len(bids)-1]; last.Status == domain.BidStatusActive {
		return last
	}
	return nil
}

// releaseBids moves the active bid, if any, to status and returns it.
func (t *tx) releaseBids(listingID string, status domain.BidStatus) *domain.Bid {
	b := t.activeBid(listingID)
	if b != nil {
		b.Status = status
	}
	return b
}
