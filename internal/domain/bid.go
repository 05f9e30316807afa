package domain

import "time"

// BidStatus tracks a bid. Active is held by at most one bid per listing;
// outbid can never return to active.
type BidStatus string

const (
	BidStatusActive    BidStatus = "active"
	BidStatusOutbid    BidStatus = "outbid"
	BidStatusWon       BidStatus = "won"
	BidStatusCancelled BidStatus = "cancelled"
	BidStatusRefunded  BidStatus = "refunded"
)

// Bid is a bidder's amount against an auction listing. ListingID is a weak
// reference; the bid ledger never owns the listing.
type Bid struct {
	ID        string    `json:"id"`
	ListingID string    `json:"listing_id"`
	Bidder    string    `json:"bidder"`
	Amount    Amount    `json:"amount"`
	Currency  string    `json:"currency"`
	Status    BidStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
