package market

import (
	"sync"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

// StatsAggregator keeps running marketplace counters. Every update is made
// from inside a committed store mutation; Snapshot can be read at any time.
type StatsAggregator struct {
	mu             sync.RWMutex
	volume         map[string]domain.Amount
	salesByCcy     map[string]int64
	sales          int64
	activeListings int64
	totalListings  int64
	bids           int64
	offers         int64
	participants   map[string]struct{}
}

// NewStatsAggregator creates zeroed counters.
func NewStatsAggregator() *StatsAggregator {
	return &StatsAggregator{
		volume:       make(map[string]domain.Amount),
		salesByCcy:   make(map[string]int64),
		participants: make(map[string]struct{}),
	}
}

func (s *StatsAggregator) listingOpened(seller string) {
	s.mu.Lock()
	s.activeListings++
	s.totalListings++
	s.participants[seller] = struct{}{}
	s.mu.Unlock()
}

func (s *StatsAggregator) listingClosed() {
	s.mu.Lock()
	s.activeListings--
	s.mu.Unlock()
}

func (s *StatsAggregator) bidPlaced(bidder string) {
	s.mu.Lock()
	s.bids++
	s.participants[bidder] = struct{}{}
	s.mu.Unlock()
}

func (s *StatsAggregator) offerMade(offerer string) {
	s.mu.Lock()
	s.offers++
	s.participants[offerer] = struct{}{}
	s.mu.Unlock()
}

func (s *StatsAggregator) saleRecorded(sale domain.Sale) {
	s.mu.Lock()
	s.sales++
	s.volume[sale.Currency] += sale.SalePrice
	s.salesByCcy[sale.Currency]++
	s.participants[sale.Seller] = struct{}{}
	s.participants[sale.Buyer] = struct{}{}
	s.mu.Unlock()
}

// Snapshot returns a copy of the counters.
func (s *StatsAggregator) Snapshot() domain.MarketStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := domain.MarketStats{
		VolumeByCurrency: make(map[string]domain.Amount, len(s.volume)),
		SalesCount:       s.sales,
		ActiveListings:   s.activeListings,
		TotalListings:    s.totalListings,
		BidsCount:        s.bids,
		OffersCount:      s.offers,
		Participants:     int64(len(s.participants)),
		AvgSalePrice:     make(map[string]domain.Amount, len(s.volume)),
	}
	for ccy, v := range s.volume {
		out.VolumeByCurrency[ccy] = v
		if n := s.salesByCcy[ccy]; n > 0 {
			out.AvgSalePrice[ccy] = v / domain.Amount(n)
		}
	}
	return out
}
