package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

// ListingHandler serves listing, bid and buy-now endpoints.
type ListingHandler struct {
	engine Engine
	logger *slog.Logger
}

// NewListingHandler creates a ListingHandler.
func NewListingHandler(engine Engine, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{engine: engine, logger: logHandler(logger, "listing")}
}

type assetInput struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
	Name       string `json:"name"`
	ImageURL   string `json:"image_url"`
}

type createListingRequest struct {
	Type            string           `json:"type"`
	Asset           assetInput       `json:"asset"`
	Seller          string           `json:"seller"`
	Currency        string           `json:"currency"`
	Price           *decimal.Decimal `json:"price"`
	StartingPrice   *decimal.Decimal `json:"starting_price"`
	ReservePrice    *decimal.Decimal `json:"reserve_price"`
	BuyNowPrice     *decimal.Decimal `json:"buy_now_price"`
	EndingPrice     *decimal.Decimal `json:"ending_price"`
	MinBidIncrement *decimal.Decimal `json:"min_bid_increment"`
	RoyaltyBps      int              `json:"royalty_bps"`
	PlatformFeeBps  *int             `json:"platform_fee_bps"`
	StartsAt        *time.Time       `json:"starts_at"`
	EndsAt          *time.Time       `json:"ends_at"`
	Duration        string           `json:"duration"`
	Escrow          bool             `json:"escrow"`
}

func (req createListingRequest) params() (domain.CreateListingParams, error) {
	collection, err := normalizeAddress("asset.collection", req.Asset.Collection)
	if err != nil {
		return domain.CreateListingParams{}, err
	}
	p := domain.CreateListingParams{
		Type: domain.ListingType(req.Type),
		Asset: domain.AssetRef{
			Collection: collection,
			TokenID:    strings.TrimSpace(req.Asset.TokenID),
			Name:       req.Asset.Name,
			ImageURL:   req.Asset.ImageURL,
		},
		Currency:       strings.ToUpper(strings.TrimSpace(req.Currency)),
		RoyaltyBps:     req.RoyaltyBps,
		PlatformFeeBps: req.PlatformFeeBps,
		Escrow:         req.Escrow,
	}
	amounts := []struct {
		field string
		in    *decimal.Decimal
		out   *domain.Amount
	}{
		{"price", req.Price, &p.Price},
		{"starting_price", req.StartingPrice, &p.StartingPrice},
		{"reserve_price", req.ReservePrice, &p.ReservePrice},
		{"buy_now_price", req.BuyNowPrice, &p.BuyNowPrice},
		{"ending_price", req.EndingPrice, &p.EndingPrice},
		{"min_bid_increment", req.MinBidIncrement, &p.MinBidIncrement},
	}
	for _, a := range amounts {
		v, err := amountField(a.field, a.in)
		if err != nil {
			return domain.CreateListingParams{}, err
		}
		*a.out = v
	}
	if req.StartsAt != nil {
		p.StartsAt = req.StartsAt.UTC()
	}
	if req.EndsAt != nil {
		p.EndsAt = req.EndsAt.UTC()
	}
	if p.Duration, err = parseDuration("duration", req.Duration); err != nil {
		return domain.CreateListingParams{}, err
	}
	return p, nil
}

// Create publishes a new listing.
// POST /api/listings
func (h *ListingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := req.params()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	seller, status, err := resolveActor(r, "seller", req.Seller)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	p.Seller = seller

	l, err := h.engine.CreateListing(r.Context(), p)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

// Get returns a single listing.
// GET /api/listings/{id}
func (h *ListingHandler) Get(w http.ResponseWriter, r *http.Request) {
	l, err := h.engine.GetListing(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// List queries listings with filters, sort and pagination.
// GET /api/listings?status=&type=&seller=&collection=&asset=&currency=&min_price=&max_price=&sort=&limit=&offset=
func (h *ListingHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.ListingFilter{
		Status:   domain.ListingStatus(q.Get("status")),
		Type:     domain.ListingType(q.Get("type")),
		Currency: strings.ToUpper(q.Get("currency")),
	}
	var err error
	if f.Seller, err = optionalAddress("seller", q.Get("seller")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.Collection, err = optionalAddress("collection", q.Get("collection")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if asset := q.Get("asset"); asset != "" {
		if f.AssetKey, err = assetKeyParam(asset); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if f.MinPrice, err = queryAmount(r, "min_price"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.MaxPrice, err = queryAmount(r, "max_price"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.Status != "" && !validStatus(f.Status) {
		writeError(w, http.StatusBadRequest, "unknown status "+string(f.Status))
		return
	}
	if f.Type != "" && !f.Type.Valid() {
		writeError(w, http.StatusBadRequest, "unknown listing type "+string(f.Type))
		return
	}
	sort := domain.ListingSort(q.Get("sort"))
	switch sort {
	case "", domain.SortCreatedDesc, domain.SortCreatedAsc, domain.SortPriceAsc, domain.SortPriceDesc, domain.SortEndingSoon:
	default:
		writeError(w, http.StatusBadRequest, "unknown sort "+string(sort))
		return
	}

	page := parsePage(r)
	res := h.engine.QueryListings(r.Context(), f, sort, page)
	if res.Listings == nil {
		res.Listings = []domain.Listing{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"listings": res.Listings,
		"total":    res.Total,
		"limit":    page.Limit,
		"offset":   page.Offset,
	})
}

type actorRequest struct {
	Actor string `json:"actor"`
}

// Cancel withdraws an active listing. Only the seller may cancel.
// POST /api/listings/{id}/cancel
func (h *ListingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	actor, status, err := resolveActor(r, "actor", req.Actor)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	l, err := h.engine.CancelListing(r.Context(), pathParam(r, "id"), actor)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

type favoriteRequest struct {
	User string `json:"user"`
}

// Favorite toggles the caller's favourite mark on a listing.
// POST /api/listings/{id}/favorite
func (h *ListingHandler) Favorite(w http.ResponseWriter, r *http.Request) {
	var req favoriteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, status, err := resolveActor(r, "user", req.User)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	on, count, err := h.engine.ToggleFavorite(r.Context(), pathParam(r, "id"), user)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"favorited": on, "favorites": count})
}

// View records a listing view.
// POST /api/listings/{id}/view
func (h *ListingHandler) View(w http.ResponseWriter, r *http.Request) {
	views, err := h.engine.IncrementView(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"views": views})
}

// Bids lists every bid on a listing, highest first.
// GET /api/listings/{id}/bids
func (h *ListingHandler) Bids(w http.ResponseWriter, r *http.Request) {
	bids, err := h.engine.ListBids(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if bids == nil {
		bids = []domain.Bid{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bids": bids, "count": len(bids)})
}

type placeBidRequest struct {
	Bidder string           `json:"bidder"`
	Amount *decimal.Decimal `json:"amount"`
}

// PlaceBid bids on an english or reserve auction.
// POST /api/listings/{id}/bids
func (h *ListingHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var req placeBidRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, "amount is required")
		return
	}
	amount, err := amountField("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bidder, status, err := resolveActor(r, "bidder", req.Bidder)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	bid, err := h.engine.PlaceBid(r.Context(), pathParam(r, "id"), bidder, amount)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

type buyRequest struct {
	Buyer string `json:"buyer"`
}

// Buy purchases a listing at its current asking price.
// POST /api/listings/{id}/buy
func (h *ListingHandler) Buy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	buyer, status, err := resolveActor(r, "buyer", req.Buyer)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	sale, err := h.engine.BuyNow(r.Context(), pathParam(r, "id"), buyer)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "sale committed",
		slog.String("sale_id", sale.ID),
		slog.String("listing_id", sale.ListingID),
		slog.String("price", sale.SalePrice.String()),
	)
	writeJSON(w, http.StatusCreated, sale)
}

type royaltyRequest struct {
	TokenID    string `json:"token_id"`
	RoyaltyBps int    `json:"royalty_bps"`
}

// SetRoyalty registers the royalty for a collection or one of its tokens.
// Admin only.
// PUT /api/collections/{collection}/royalty
func (h *ListingHandler) SetRoyalty(w http.ResponseWriter, r *http.Request) {
	collection, err := normalizeAddress("collection", pathParam(r, "collection"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req royaltyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.SetRoyalty(r.Context(), collection, strings.TrimSpace(req.TokenID), req.RoyaltyBps); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"collection":  collection,
		"token_id":    req.TokenID,
		"royalty_bps": req.RoyaltyBps,
	})
}

func validStatus(s domain.ListingStatus) bool {
	switch s {
	case domain.ListingStatusActive, domain.ListingStatusSold, domain.ListingStatusCancelled, domain.ListingStatusExpired:
		return true
	}
	return false
}

// assetKeyParam validates a "collection:token" query value.
func assetKeyParam(v string) (string, error) {
	collection, token, ok := strings.Cut(v, ":")
	if !ok || token == "" {
		return "", errBadAssetKey
	}
	c, err := normalizeAddress("asset", collection)
	if err != nil {
		return "", err
	}
	return domain.AssetRef{Collection: c, TokenID: token}.Key(), nil
}
