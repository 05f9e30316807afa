package market

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

// OfferBook owns standing offers. Expiry is lazy: an offer past expires_at
// flips to expired the next time it is looked up or acted on.
type OfferBook struct {
	store  *Store
	cfg    Config
	logger *slog.Logger
}

// NewOfferBook creates an OfferBook over the shared store.
func NewOfferBook(store *Store, cfg Config, logger *slog.Logger) *OfferBook {
	return &OfferBook{store: store, cfg: cfg, logger: logger}
}

// Make records an active offer and its escrow of amount * quantity.
func (ob *OfferBook) Make(ctx context.Context, p domain.MakeOfferParams) (domain.Offer, error) {
	const op = "make_offer"
	switch p.Target.Kind {
	case domain.OfferTargetItem:
		if p.Target.TokenID == "" {
			return domain.Offer{}, domain.NewValidationError(op, "token_id is required for item offers")
		}
	case domain.OfferTargetCollection:
		p.Target.TokenID = ""
	default:
		return domain.Offer{}, domain.NewValidationError(op, "unknown offer target kind %q", p.Target.Kind)
	}
	if p.Target.Collection == "" {
		return domain.Offer{}, domain.NewValidationError(op, "collection is required")
	}
	if p.Offerer == "" {
		return domain.Offer{}, domain.NewValidationError(op, "offerer is required")
	}
	if p.Amount <= 0 {
		return domain.Offer{}, domain.NewValidationError(op, "amount must be positive")
	}
	if p.Currency == "" {
		return domain.Offer{}, domain.NewValidationError(op, "currency is required")
	}
	if p.Quantity == 0 {
		p.Quantity = 1
	}
	if p.Quantity < 0 {
		return domain.Offer{}, domain.NewValidationError(op, "quantity must be positive")
	}
	if p.Duration < 0 {
		return domain.Offer{}, domain.NewValidationError(op, "duration must not be negative")
	}
	if p.Duration == 0 {
		p.Duration = ob.cfg.DefaultOfferDuration
	}
	escrow, err := p.Amount.MulQty(p.Quantity)
	if err != nil {
		return domain.Offer{}, domain.NewValidationError(op, "%v", err)
	}

	var out domain.Offer
	err = ob.store.commit(ctx, func(t *tx) error {
		o := &domain.Offer{
			ID:           uuid.NewString(),
			Target:       p.Target,
			Offerer:      p.Offerer,
			Amount:       p.Amount,
			Currency:     p.Currency,
			Quantity:     p.Quantity,
			Status:       domain.OfferStatusActive,
			EscrowAmount: escrow,
			CreatedAt:    t.now,
			ExpiresAt:    t.now.Add(p.Duration),
			UpdatedAt:    t.now,
		}
		t.s.offers[o.ID] = o
		t.s.stats.offerMade(o.Offerer)
		t.emitActivity(domain.Activity{
			ID:         uuid.NewString(),
			Type:       domain.ActivityOffer,
			AssetKey:   o.Target.AssetKey(),
			Collection: o.Target.Collection,
			Actor:      o.Offerer,
			OfferID:    o.ID,
			Amount:     o.Amount,
			Currency:   o.Currency,
		})
		out = *o
		return nil
	})
	if err != nil {
		return domain.Offer{}, err
	}
	ob.logger.InfoContext(ctx, "offer made",
		slog.String("offer_id", out.ID),
		slog.String("collection", out.Target.Collection),
		slog.String("escrow", out.EscrowAmount.String()),
	)
	return out, nil
}

// Get returns an offer, applying lazy expiry first.
func (ob *OfferBook) Get(ctx context.Context, id string) (domain.Offer, error) {
	var out domain.Offer
	err := ob.store.commit(ctx, func(t *tx) error {
		o, err := t.offer("get_offer", id)
		if err != nil {
			return err
		}
		t.expireOfferIfDue(o)
		out = *o
		return nil
	})
	return out, err
}

// List returns matching offers newest first. Lazy expiry is applied to every
// offer the filter touches before the status filter is evaluated.
func (ob *OfferBook) List(ctx context.Context, filter domain.OfferFilter, page domain.Page) ([]domain.Offer, int) {
	var all []domain.Offer
	_ = ob.store.commit(ctx, func(t *tx) error {
		for _, o := range t.s.offers {
			if filter.Collection != "" && o.Target.Collection != filter.Collection {
				continue
			}
			if filter.AssetKey != "" && o.Target.AssetKey() != filter.AssetKey {
				continue
			}
			if filter.Offerer != "" && o.Offerer != filter.Offerer {
				continue
			}
			t.expireOfferIfDue(o)
			if filter.Status != "" && o.Status != filter.Status {
				continue
			}
			all = append(all, *o)
		}
		return nil
	})
	slices.SortFunc(all, func(a, b domain.Offer) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return paginate(all, page), len(all)
}

// Cancel withdraws an active offer. Only the offerer may cancel.
func (ob *OfferBook) Cancel(ctx context.Context, id, actor string) (domain.Offer, error) {
	return ob.close(ctx, "cancel_offer", id, actor, domain.OfferStatusCancelled)
}

// Reject declines an active offer. The offerer may not reject their own
// offer; when the asset has an active listing only its seller may reject.
func (ob *OfferBook) Reject(ctx context.Context, id, actor string) (domain.Offer, error) {
	return ob.close(ctx, "reject_offer", id, actor, domain.OfferStatusRejected)
}

func (ob *OfferBook) close(ctx context.Context, op, id, actor string, to domain.OfferStatus) (domain.Offer, error) {
	if actor == "" {
		return domain.Offer{}, domain.NewValidationError(op, "actor is required")
	}
	var out domain.Offer
	err := ob.store.commit(ctx, func(t *tx) error {
		o, err := t.offer(op, id)
		if err != nil {
			return err
		}
		t.expireOfferIfDue(o)

		activity := domain.ActivityOfferCancel
		counterparty := ""
		if to == domain.OfferStatusCancelled {
			if o.Offerer != actor {
				return domain.NewAuthorizationError(op, "only the offerer may cancel offer %s", id)
			}
		} else {
			activity = domain.ActivityOfferReject
			counterparty = o.Offerer
			if o.Offerer == actor {
				return domain.NewAuthorizationError(op, "offerer may not reject own offer %s", id)
			}
			if lid, ok := t.s.activeByAsset[o.Target.AssetKey()]; ok && t.s.listings[lid].Seller != actor {
				return domain.NewAuthorizationError(op, "asset %s is listed by another seller", o.Target.AssetKey())
			}
		}
		if o.Status != domain.OfferStatusActive {
			return domain.NewStateError(op, "offer %s is not active (status %s)", id, o.Status)
		}

		o.Status = to
		o.UpdatedAt = t.now
		t.emitActivity(domain.Activity{
			ID:           uuid.NewString(),
			Type:         activity,
			AssetKey:     o.Target.AssetKey(),
			Collection:   o.Target.Collection,
			Actor:        actor,
			Counterparty: counterparty,
			OfferID:      o.ID,
			Amount:       o.Amount,
			Currency:     o.Currency,
		})
		out = *o
		return nil
	})
	if err != nil {
		return domain.Offer{}, err
	}
	ob.logger.InfoContext(ctx, "offer closed",
		slog.String("offer_id", id),
		slog.String("status", string(to)),
	)
	return out, nil
}

func (t *tx) offer(op, id string) (*domain.Offer, error) {
	o, ok := t.s.offers[id]
	if !ok {
		return nil, domain.NewNotFoundError(op, "offer %s", id)
	}
	return o, nil
}

// expireOfferIfDue flips an active offer past its expiry to expired.
func (t *tx) expireOfferIfDue(o *domain.Offer) {
	if o.Status == domain.OfferStatusActive && t.now.After(o.ExpiresAt) {
		o.Status = domain.OfferStatusExpired
		o.UpdatedAt = t.now
	}
}
