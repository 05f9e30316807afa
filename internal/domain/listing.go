package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ListingType selects the sale mechanism of a listing.
type ListingType string

const (
	ListingTypeFixed          ListingType = "fixed"
	ListingTypeEnglish        ListingType = "auction_english"
	ListingTypeDutch          ListingType = "auction_dutch"
	ListingTypeReserveAuction ListingType = "auction_reserve"
)

// Valid reports whether t is a known listing type.
func (t ListingType) Valid() bool {
	switch t {
	case ListingTypeFixed, ListingTypeEnglish, ListingTypeDutch, ListingTypeReserveAuction:
		return true
	}
	return false
}

// IsAuction reports whether the listing is any auction type.
func (t ListingType) IsAuction() bool {
	return t == ListingTypeEnglish || t == ListingTypeDutch || t == ListingTypeReserveAuction
}

// AcceptsBids reports whether placeBid is meaningful for this type. Dutch
// auctions sell at a decaying asking price and never take bids.
func (t ListingType) AcceptsBids() bool {
	return t == ListingTypeEnglish || t == ListingTypeReserveAuction
}

// ListingStatus tracks the listing lifecycle. Active is the only non-terminal
// status; a listing leaves it at most once.
type ListingStatus string

const (
	ListingStatusActive    ListingStatus = "active"
	ListingStatusSold      ListingStatus = "sold"
	ListingStatusCancelled ListingStatus = "cancelled"
	ListingStatusExpired   ListingStatus = "expired"
)

// Terminal reports whether no further transition is allowed.
func (s ListingStatus) Terminal() bool {
	return s != ListingStatusActive
}

// AssetRef identifies a token. Collection is the contract address.
type AssetRef struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
	Name       string `json:"name,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
}

// Key returns the canonical "collection:token" key used for indexing.
func (a AssetRef) Key() string {
	return a.Collection + ":" + a.TokenID
}

// Listing is an advertised sale of one asset.
type Listing struct {
	ID       string        `json:"id"`
	Type     ListingType   `json:"type"`
	Status   ListingStatus `json:"status"`
	Asset    AssetRef      `json:"asset"`
	Seller   string        `json:"seller"`
	Currency string        `json:"currency"`

	Price           Amount `json:"price,omitempty"`
	StartingPrice   Amount `json:"starting_price,omitempty"`
	ReservePrice    Amount `json:"reserve_price,omitempty"`
	BuyNowPrice     Amount `json:"buy_now_price,omitempty"`
	EndingPrice     Amount `json:"ending_price,omitempty"`
	CurrentBid      Amount `json:"current_bid,omitempty"`
	MinBidIncrement Amount `json:"min_bid_increment,omitempty"`

	RoyaltyBps     int `json:"royalty_bps"`
	PlatformFeeBps int `json:"platform_fee_bps"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	StartsAt  time.Time  `json:"starts_at"`
	EndsAt    time.Time  `json:"ends_at"`
	SoldAt    *time.Time `json:"sold_at,omitempty"`

	Views     int64 `json:"views"`
	Favorites int64 `json:"favorites"`
	Escrow    bool  `json:"escrow"`
}

// DutchPriceAt returns the asking price of a Dutch auction at now: a linear
// decay from StartingPrice at StartsAt to EndingPrice at EndsAt, floored to
// minor units and clamped at both ends.
func (l Listing) DutchPriceAt(now time.Time) Amount {
	if !now.After(l.StartsAt) {
		return l.StartingPrice
	}
	if !now.Before(l.EndsAt) {
		return l.EndingPrice
	}
	total := l.EndsAt.Sub(l.StartsAt)
	if total <= 0 {
		return l.EndingPrice
	}
	remaining := l.EndsAt.Sub(now)
	span := decimal.NewFromInt(int64(l.StartingPrice - l.EndingPrice))
	above := span.Mul(decimal.NewFromInt(int64(remaining))).
		Div(decimal.NewFromInt(int64(total))).
		Floor()
	return l.EndingPrice + Amount(above.IntPart())
}

// CreateListingParams carries caller input for a new listing. Zero values
// mean "not provided".
type CreateListingParams struct {
	Type            ListingType
	Asset           AssetRef
	Seller          string
	Currency        string
	Price           Amount
	StartingPrice   Amount
	ReservePrice    Amount
	BuyNowPrice     Amount
	EndingPrice     Amount
	MinBidIncrement Amount
	RoyaltyBps      int
	PlatformFeeBps  *int
	StartsAt        time.Time
	EndsAt          time.Time
	Duration        time.Duration
	Escrow          bool
}

// ListingSort names a query ordering.
type ListingSort string

const (
	SortCreatedDesc ListingSort = "created_desc"
	SortCreatedAsc  ListingSort = "created_asc"
	SortPriceAsc    ListingSort = "price_asc"
	SortPriceDesc   ListingSort = "price_desc"
	SortEndingSoon  ListingSort = "ending_soon"
)

// ListingFilter narrows a listing query. Empty fields match everything.
type ListingFilter struct {
	Status     ListingStatus
	Type       ListingType
	Seller     string
	Collection string
	AssetKey   string
	Currency   string
	MinPrice   Amount
	MaxPrice   Amount
}

// Page is offset pagination shared by every query.
type Page struct {
	Limit  int
	Offset int
}

// ListingPage is one page of listings plus the total match count.
type ListingPage struct {
	Listings []Listing `json:"listings"`
	Total    int       `json:"total"`
}
