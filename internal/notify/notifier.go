// Package notify fans marketplace alerts out to chat webhooks. Each alert
// carries an event type and is only delivered when that type is enabled.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

// Event types understood by the notifier.
const (
	EventSale             = "sale"
	EventOfferAccept      = "offer_accept"
	EventSweepFailed      = "sweep_failed"
	EventSettlementFailed = "settlement_failed"
)

// Message is a rendered alert.
type Message struct {
	Event string
	Title string
	Body  string
}

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Notifier delivers messages to every sender, filtered by event type. An
// empty event list enables everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether an event type passes the filter and at least one
// sender is configured.
func (n *Notifier) Enabled(event string) bool {
	if n == nil || len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[event]
}

// Notify delivers msg to all senders. A failing sender does not stop the
// others; their errors are joined.
func (n *Notifier) Notify(ctx context.Context, msg Message) error {
	if !n.Enabled(msg.Event) {
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", msg.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", msg.Event),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

// SaleMessage renders a committed sale. Offer sales use the offer_accept
// event so they can be filtered separately.
func SaleMessage(s domain.Sale) Message {
	event, title := EventSale, "Sale"
	if s.Source == domain.SaleSourceOffer {
		event, title = EventOfferAccept, "Offer accepted"
	}
	name := s.Asset.Name
	if name == "" {
		name = s.Asset.Key()
	}
	return Message{
		Event: event,
		Title: fmt.Sprintf("%s: %s", title, name),
		Body: fmt.Sprintf("%s %s from %s to %s (platform %s, royalty %s, seller %s)",
			s.SalePrice, s.Currency, short(s.Seller), short(s.Buyer),
			s.PlatformFee, s.RoyaltyFee, s.SellerProceeds),
	}
}

// SweepFailedMessage renders a sweep pass that could not close listings.
func SweepFailedMessage(failed int, err error) Message {
	body := fmt.Sprintf("%d listing(s) could not be closed", failed)
	if err != nil {
		body += ": " + err.Error()
	}
	return Message{Event: EventSweepFailed, Title: "Expiry sweep failed", Body: body}
}

// SettlementFailedMessage renders a sale whose transfer exhausted retries.
func SettlementFailedMessage(s domain.Sale, err error) Message {
	return Message{
		Event: EventSettlementFailed,
		Title: "Settlement failed: " + s.ID,
		Body:  fmt.Sprintf("%s %s to %s: %v", s.SalePrice, s.Currency, short(s.Buyer), err),
	}
}

func short(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
