// Package market is the listing, auction and settlement engine. All state is
// in memory inside a single Store; every mutation runs under the store lock
// and the resulting events are handed to the post-commit Hook only after the
// lock is released.
package market

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

// EventKind tags a committed change.
type EventKind string

const (
	EventActivity   EventKind = "activity"
	EventPrice      EventKind = "price"
	EventSale       EventKind = "sale"
	EventSettlement EventKind = "settlement"
)

// Event is one committed change, delivered to the Hook after the store lock
// has been released. Exactly one payload field is meaningful per Kind.
type Event struct {
	Kind       EventKind
	Activity   domain.Activity
	Price      domain.PricePoint
	Sale       domain.Sale
	Settlement domain.Settlement
}

// Hook receives committed events. It runs outside the critical section; an
// error inside a hook can never roll back the state it describes.
type Hook interface {
	HandleEvents(ctx context.Context, events []Event)
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, events []Event)

// HandleEvents implements Hook.
func (f HookFunc) HandleEvents(ctx context.Context, events []Event) { f(ctx, events) }

// Clock returns the current time. Tests inject a fixed or stepping clock.
type Clock func() time.Time

// Store is the single owner of all marketplace state. It is constructed once
// and shared by reference with every component.
type Store struct {
	mu sync.Mutex

	listings map[string]*domain.Listing
	// bids holds each listing's bid history in acceptance order.
	bids          map[string][]*domain.Bid
	offers        map[string]*domain.Offer
	sales         map[string]*domain.Sale
	saleByListing map[string]string
	saleByOffer   map[string]string
	settlements   map[string]domain.Settlement
	favorites     map[string]map[string]struct{}
	// royalties maps an asset key or "collection:<address>" to royalty bps.
	royalties map[string]int
	// activeByAsset maps an asset key to its active listing id.
	activeByAsset map[string]string

	feed   *ActivityFeed
	prices *PriceHistory
	stats  *StatsAggregator

	hook Hook
	seq  atomic.Uint64
	now  Clock
}

// NewStore creates an empty store whose feeds keep the most recent
// retention records.
func NewStore(retention int, now Clock) *Store {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{
		listings:      make(map[string]*domain.Listing),
		bids:          make(map[string][]*domain.Bid),
		offers:        make(map[string]*domain.Offer),
		sales:         make(map[string]*domain.Sale),
		saleByListing: make(map[string]string),
		saleByOffer:   make(map[string]string),
		settlements:   make(map[string]domain.Settlement),
		favorites:     make(map[string]map[string]struct{}),
		royalties:     make(map[string]int),
		activeByAsset: make(map[string]string),
		feed:          NewActivityFeed(retention),
		prices:        NewPriceHistory(retention),
		stats:         NewStatsAggregator(),
		now:           now,
	}
}

// SetHook installs the post-commit hook. It must be called before the store
// is shared between goroutines.
func (s *Store) SetHook(h Hook) {
	s.hook = h
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// tx is the view of the store handed to a mutation. It records the events
// produced so they can be published after the lock is released.
type tx struct {
	s      *Store
	now    time.Time
	events []Event
}

// commit runs fn under the store lock and then hands every event fn produced
// to the hook. State changes made by fn stay committed even when fn returns an
// error (for example a lazily expired offer); fn is expected to validate before
// it mutates. A panic in fn is not recovered: it releases the lock and
// propagates, and no events are published.
func (s *Store) commit(ctx context.Context, fn func(tx *tx) error) error {
	t, err := s.run(fn)
	if len(t.events) > 0 && s.hook != nil {
		s.hook.HandleEvents(ctx, t.events)
	}
	return err
}

func (s *Store) run(fn func(tx *tx) error) (*tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &tx{s: s, now: s.now()}
	return t, fn(t)
}

// read runs fn under the store lock without producing events.
func (s *Store) read(fn func(tx *tx)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&tx{s: s, now: s.now()})
}

func (t *tx) nextSeq() uint64 {
	return t.s.seq.Add(1)
}

// emitActivity appends to the in-memory feed and queues the event.
func (t *tx) emitActivity(a domain.Activity) {
	a.Seq = t.nextSeq()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = t.now
	}
	t.s.feed.Append(a)
	t.events = append(t.events, Event{Kind: EventActivity, Activity: a})
}

// emitPrice appends to the price history and queues the event.
func (t *tx) emitPrice(p domain.PricePoint) {
	p.Seq = t.nextSeq()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = t.now
	}
	t.s.prices.Append(p)
	t.events = append(t.events, Event{Kind: EventPrice, Price: p})
}

func (t *tx) emitSale(sale domain.Sale) {
	t.events = append(t.events, Event{Kind: EventSale, Sale: sale})
}

func (t *tx) emitSettlement(st domain.Settlement) {
	t.events = append(t.events, Event{Kind: EventSettlement, Settlement: st})
}

func collectionKey(collection string) string {
	return "collection:" + collection
}
