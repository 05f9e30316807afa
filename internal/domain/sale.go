package domain

import "time"

// SaleSource says which path produced a sale.
type SaleSource string

const (
	SaleSourceBuyNow  SaleSource = "buy_now"
	SaleSourceAuction SaleSource = "auction"
	SaleSourceOffer   SaleSource = "offer"
)

// Sale is an immutable, fee-split settlement record. Exactly one of
// ListingID and OfferID is set.
type Sale struct {
	ID             string     `json:"id"`
	Source         SaleSource `json:"source"`
	ListingID      string     `json:"listing_id,omitempty"`
	OfferID        string     `json:"offer_id,omitempty"`
	Asset          AssetRef   `json:"asset"`
	Seller         string     `json:"seller"`
	Buyer          string     `json:"buyer"`
	SalePrice      Amount     `json:"sale_price"`
	Currency       string     `json:"currency"`
	PlatformFee    Amount     `json:"platform_fee"`
	RoyaltyFee     Amount     `json:"royalty_fee"`
	SellerProceeds Amount     `json:"seller_proceeds"`
	PlatformFeeBps int        `json:"platform_fee_bps"`
	RoyaltyBps     int        `json:"royalty_bps"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Balanced reports whether the fee split conserves the sale price.
func (s Sale) Balanced() bool {
	return s.PlatformFee+s.RoyaltyFee+s.SellerProceeds == s.SalePrice
}

// Settlement is the on-chain transfer reference attached to a sale by the
// settlement executor after the in-memory commit.
type Settlement struct {
	SaleID    string    `json:"sale_id"`
	TxRef     string    `json:"tx_ref"`
	SettledAt time.Time `json:"settled_at"`
}
