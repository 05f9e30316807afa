package domain

import "time"

// OfferTargetKind says whether an offer is for one token or any token of a
// collection.
type OfferTargetKind string

const (
	OfferTargetItem       OfferTargetKind = "item"
	OfferTargetCollection OfferTargetKind = "collection"
)

// OfferTarget is the asset or collection an offer is made against.
type OfferTarget struct {
	Kind       OfferTargetKind `json:"kind"`
	Collection string          `json:"collection"`
	TokenID    string          `json:"token_id,omitempty"`
}

// AssetKey returns the item key, or "" for collection offers.
func (t OfferTarget) AssetKey() string {
	if t.Kind != OfferTargetItem {
		return ""
	}
	return AssetRef{Collection: t.Collection, TokenID: t.TokenID}.Key()
}

// OfferStatus tracks the offer lifecycle.
type OfferStatus string

const (
	OfferStatusActive    OfferStatus = "active"
	OfferStatusAccepted  OfferStatus = "accepted"
	OfferStatusRejected  OfferStatus = "rejected"
	OfferStatusExpired   OfferStatus = "expired"
	OfferStatusCancelled OfferStatus = "cancelled"
)

// Offer is a standing buy proposal, independent of any listing.
type Offer struct {
	ID           string      `json:"id"`
	Target       OfferTarget `json:"target"`
	Offerer      string      `json:"offerer"`
	Amount       Amount      `json:"amount"`
	Currency     string      `json:"currency"`
	Quantity     int         `json:"quantity"`
	Status       OfferStatus `json:"status"`
	EscrowAmount Amount      `json:"escrow_amount"`
	CreatedAt    time.Time   `json:"created_at"`
	ExpiresAt    time.Time   `json:"expires_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// MakeOfferParams carries caller input for a new offer.
type MakeOfferParams struct {
	Target   OfferTarget
	Offerer  string
	Amount   Amount
	Currency string
	Quantity int
	Duration time.Duration
}

// OfferFilter narrows an offer listing.
type OfferFilter struct {
	Collection string
	AssetKey   string
	Offerer    string
	Status     OfferStatus
}
