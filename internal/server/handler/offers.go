package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

// OfferHandler serves offer endpoints.
type OfferHandler struct {
	engine Engine
	logger *slog.Logger
}

// NewOfferHandler creates an OfferHandler.
func NewOfferHandler(engine Engine, logger *slog.Logger) *OfferHandler {
	return &OfferHandler{engine: engine, logger: logHandler(logger, "offer")}
}

type makeOfferRequest struct {
	Kind       string           `json:"kind"`
	Collection string           `json:"collection"`
	TokenID    string           `json:"token_id"`
	Offerer    string           `json:"offerer"`
	Amount     *decimal.Decimal `json:"amount"`
	Currency   string           `json:"currency"`
	Quantity   int              `json:"quantity"`
	Duration   string           `json:"duration"`
}

// Make records a standing offer for an item or any token of a collection.
// POST /api/offers
func (h *OfferHandler) Make(w http.ResponseWriter, r *http.Request) {
	var req makeOfferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	collection, err := normalizeAddress("collection", req.Collection)
	if err != nil {
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
	duration, err := parseDuration("duration", req.Duration)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offerer, status, err := resolveActor(r, "offerer", req.Offerer)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	kind := domain.OfferTargetKind(req.Kind)
	if kind == "" {
		kind = domain.OfferTargetItem
		if req.TokenID == "" {
			kind = domain.OfferTargetCollection
		}
	}

	o, err := h.engine.MakeOffer(r.Context(), domain.MakeOfferParams{
		Target: domain.OfferTarget{
			Kind:       kind,
			Collection: collection,
			TokenID:    strings.TrimSpace(req.TokenID),
		},
		Offerer:  offerer,
		Amount:   amount,
		Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
		Quantity: req.Quantity,
		Duration: duration,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// Get returns a single offer.
// GET /api/offers/{id}
func (h *OfferHandler) Get(w http.ResponseWriter, r *http.Request) {
	o, err := h.engine.GetOffer(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// List returns offers, highest amount first.
// GET /api/offers?collection=&asset=&offerer=&status=&limit=&offset=
func (h *OfferHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.OfferFilter{Status: domain.OfferStatus(q.Get("status"))}
	var err error
	if f.Collection, err = optionalAddress("collection", q.Get("collection")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.Offerer, err = optionalAddress("offerer", q.Get("offerer")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if asset := q.Get("asset"); asset != "" {
		if f.AssetKey, err = assetKeyParam(asset); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	page := parsePage(r)
	offers, total := h.engine.ListOffers(r.Context(), f, page)
	if offers == nil {
		offers = []domain.Offer{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"offers": offers,
		"total":  total,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

type acceptOfferRequest struct {
	Seller  string `json:"seller"`
	TokenID string `json:"token_id"`
}

// Accept sells the seller's token to the offer. Collection offers name the
// token being sold.
// POST /api/offers/{id}/accept
func (h *OfferHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var req acceptOfferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	seller, status, err := resolveActor(r, "seller", req.Seller)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	sale, err := h.engine.AcceptOffer(r.Context(), pathParam(r, "id"), seller, strings.TrimSpace(req.TokenID))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "offer accepted",
		slog.String("sale_id", sale.ID),
		slog.String("offer_id", sale.OfferID),
		slog.String("price", sale.SalePrice.String()),
	)
	writeJSON(w, http.StatusCreated, sale)
}

// Cancel withdraws an offer. Only the offerer may cancel.
// POST /api/offers/{id}/cancel
func (h *OfferHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.CancelOffer)
}

// Reject declines an offer on the caller's asset.
// POST /api/offers/{id}/reject
func (h *OfferHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.RejectOffer)
}

func (h *OfferHandler) transition(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, id, actor string) (domain.Offer, error)) {
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
	o, err := fn(r.Context(), pathParam(r, "id"), actor)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
