// Package service holds the post-commit side of the marketplace: everything
// that happens after the engine has committed a change and released its lock.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/assetmarket/internal/domain"
	"github.com/alanyoungcy/assetmarket/internal/market"
	"github.com/alanyoungcy/assetmarket/internal/metrics"
	"github.com/alanyoungcy/assetmarket/internal/notify"
)

// Envelope is the JSON frame published on the bus channels.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Envelope types.
const (
	TypeActivity   = "activity"
	TypeSale       = "sale"
	TypeSettlement = "settlement"
	TypeStats      = "stats"
)

// SaleQueue accepts committed sales for asynchronous settlement.
type SaleQueue interface {
	Enqueue(sale domain.Sale) bool
}

// StatsSource returns the current stats snapshot.
type StatsSource func(ctx context.Context) domain.MarketStats

// Relay implements market.Hook. Every dependency is optional; a nil one is
// skipped. Failures are logged, counted and otherwise ignored: committed
// engine state is never rolled back.
type Relay struct {
	bus        domain.SignalBus
	sales      domain.SaleJournal
	activities domain.ActivityJournal
	audit      domain.AuditStore
	notifier   *notify.Notifier
	queue      SaleQueue
	stats      StatsSource
	timeout    time.Duration
	logger     *slog.Logger
}

var _ market.Hook = (*Relay)(nil)

// RelayDeps groups the relay's collaborators.
type RelayDeps struct {
	Bus        domain.SignalBus
	Sales      domain.SaleJournal
	Activities domain.ActivityJournal
	Audit      domain.AuditStore
	Notifier   *notify.Notifier
	Queue      SaleQueue
	Stats      StatsSource
}

// NewRelay creates a Relay. timeout bounds the I/O done per commit.
func NewRelay(deps RelayDeps, timeout time.Duration, logger *slog.Logger) *Relay {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Relay{
		bus:        deps.Bus,
		sales:      deps.Sales,
		activities: deps.Activities,
		audit:      deps.Audit,
		notifier:   deps.Notifier,
		queue:      deps.Queue,
		stats:      deps.Stats,
		timeout:    timeout,
		logger:     logger.With(slog.String("component", "relay")),
	}
}

// HandleEvents fans one commit's events out to the downstream systems. The
// caller's cancellation does not cut journal writes short.
func (r *Relay) HandleEvents(ctx context.Context, events []market.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	sold := false
	for _, ev := range events {
		switch ev.Kind {
		case market.EventActivity:
			r.activity(ctx, ev.Activity)
		case market.EventSale:
			r.sale(ctx, ev.Sale)
			sold = true
		case market.EventSettlement:
			r.settlement(ctx, ev.Settlement)
		case market.EventPrice:
			// Price points are served from memory only.
		}
	}

	if r.stats != nil {
		snap := r.stats(ctx)
		metrics.SetActiveListings(snap.ActiveListings)
		if sold {
			r.publish(ctx, domain.ChannelStats, TypeStats, snap)
		}
	}
}

func (r *Relay) activity(ctx context.Context, a domain.Activity) {
	metrics.RecordActivity(a)
	r.publish(ctx, domain.ChannelActivity, TypeActivity, a)
	if r.activities != nil {
		if err := r.activities.InsertActivity(ctx, a); err != nil {
			r.fail(ctx, "journal", err, slog.String("activity_id", a.ID))
		}
	}
}

func (r *Relay) sale(ctx context.Context, s domain.Sale) {
	metrics.RecordSale(s)
	payload := r.publish(ctx, domain.ChannelSales, TypeSale, s)
	if r.bus != nil && payload != nil {
		if err := r.bus.StreamAppend(ctx, domain.StreamSales, payload); err != nil {
			r.fail(ctx, "stream", err, slog.String("sale_id", s.ID))
		}
	}

	if r.sales != nil {
		if err := r.sales.InsertSale(ctx, s); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
			r.fail(ctx, "journal", err, slog.String("sale_id", s.ID))
		}
	}
	r.auditLog(ctx, "sale.committed", map[string]any{
		"sale_id":         s.ID,
		"source":          s.Source,
		"listing_id":      s.ListingID,
		"offer_id":        s.OfferID,
		"asset":           s.Asset.Key(),
		"seller":          s.Seller,
		"buyer":           s.Buyer,
		"sale_price":      s.SalePrice.String(),
		"platform_fee":    s.PlatformFee.String(),
		"royalty_fee":     s.RoyaltyFee.String(),
		"seller_proceeds": s.SellerProceeds.String(),
		"currency":        s.Currency,
	})

	if r.queue != nil && !r.queue.Enqueue(s) {
		r.logger.WarnContext(ctx, "sale not queued for settlement", slog.String("sale_id", s.ID))
	}

	if msg := notify.SaleMessage(s); r.notifier.Enabled(msg.Event) {
		go func() {
			nctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := r.notifier.Notify(nctx, msg); err != nil {
				metrics.RecordRelayFailure("notify")
			}
		}()
	}
}

func (r *Relay) settlement(ctx context.Context, st domain.Settlement) {
	r.publish(ctx, domain.ChannelSales, TypeSettlement, st)
	if r.sales != nil {
		if err := r.sales.AttachSettlement(ctx, st); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
			r.fail(ctx, "journal", err, slog.String("sale_id", st.SaleID))
		}
	}
	r.auditLog(ctx, "sale.settled", map[string]any{"sale_id": st.SaleID, "tx_ref": st.TxRef})
}

// publish marshals v into an envelope and publishes it. It returns the
// encoded envelope, or nil when encoding failed.
func (r *Relay) publish(ctx context.Context, channel, typ string, v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		r.fail(ctx, "encode", err, slog.String("type", typ))
		return nil
	}
	payload, err := json.Marshal(Envelope{Type: typ, Data: data})
	if err != nil {
		r.fail(ctx, "encode", err, slog.String("type", typ))
		return nil
	}
	if r.bus == nil {
		return payload
	}
	if err := r.bus.Publish(ctx, channel, payload); err != nil {
		r.fail(ctx, "bus", err, slog.String("channel", channel))
	}
	return payload
}

func (r *Relay) auditLog(ctx context.Context, event string, detail map[string]any) {
	if r.audit == nil {
		return
	}
	if err := r.audit.Log(ctx, event, detail); err != nil {
		r.fail(ctx, "audit", err, slog.String("event", event))
	}
}

func (r *Relay) fail(ctx context.Context, target string, err error, attrs ...slog.Attr) {
	metrics.RecordRelayFailure(target)
	args := []any{slog.String("target", target), slog.String("error", err.Error())}
	for _, a := range attrs {
		args = append(args, a)
	}
	r.logger.WarnContext(ctx, "post-commit side effect failed", args...)
}
