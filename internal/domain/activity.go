package domain

import "time"

// ActivityType tags an activity feed entry.
type ActivityType string

const (
	ActivityListing     ActivityType = "listing"
	ActivityCancel      ActivityType = "cancel"
	ActivityBid         ActivityType = "bid"
	ActivitySale        ActivityType = "sale"
	ActivityExpire      ActivityType = "expire"
	ActivityOffer       ActivityType = "offer"
	ActivityOfferAccept ActivityType = "offer_accept"
	ActivityOfferCancel ActivityType = "offer_cancel"
	ActivityOfferReject ActivityType = "offer_reject"
)

// Activity is an immutable feed entry. Seq is the insertion order and breaks
// timestamp ties.
type Activity struct {
	Seq          uint64       `json:"seq"`
	ID           string       `json:"id"`
	Type         ActivityType `json:"type"`
	AssetKey     string       `json:"asset_key,omitempty"`
	Collection   string       `json:"collection,omitempty"`
	Actor        string       `json:"actor"`
	Counterparty string       `json:"counterparty,omitempty"`
	ListingID    string       `json:"listing_id,omitempty"`
	OfferID      string       `json:"offer_id,omitempty"`
	SaleID       string       `json:"sale_id,omitempty"`
	Amount       Amount       `json:"amount,omitempty"`
	Currency     string       `json:"currency,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// PriceEvent tags a price point.
type PriceEvent string

const (
	PriceEventListing PriceEvent = "listing"
	PriceEventBid     PriceEvent = "bid"
	PriceEventSale    PriceEvent = "sale"
)

// PricePoint is an immutable price observation for an asset.
type PricePoint struct {
	Seq        uint64     `json:"seq"`
	Event      PriceEvent `json:"event"`
	AssetKey   string     `json:"asset_key"`
	Collection string     `json:"collection"`
	Price      Amount     `json:"price"`
	Currency   string     `json:"currency"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ActivityFilter narrows an activity feed query.
type ActivityFilter struct {
	AssetKey   string
	Collection string
	Actor      string
	Types      []ActivityType
}

// PriceFilter narrows a price history query.
type PriceFilter struct {
	AssetKey   string
	Collection string
	Events     []PriceEvent
}
