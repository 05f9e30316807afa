package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/assetmarket/internal/domain"
	"github.com/alanyoungcy/assetmarket/internal/market"
	"github.com/alanyoungcy/assetmarket/internal/server/middleware"
)

const (
	seller     = "0x1111111111111111111111111111111111111111"
	buyer      = "0x2222222222222222222222222222222222222222"
	collection = "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRoutes(t *testing.T) (*http.ServeMux, *market.Marketplace) {
	t.Helper()
	m, err := market.New(market.DefaultConfig(), nil, discard())
	require.NoError(t, err)

	lh := NewListingHandler(m, discard())
	oh := NewOfferHandler(m, discard())
	sh := NewSaleHandler(m, discard())
	fh := NewFeedHandler(m, discard())
	ah := NewAdminHandler(m, discard())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/listings", lh.Create)
	mux.HandleFunc("GET /api/listings", lh.List)
	mux.HandleFunc("GET /api/listings/{id}", lh.Get)
	mux.HandleFunc("POST /api/listings/{id}/cancel", lh.Cancel)
	mux.HandleFunc("POST /api/listings/{id}/favorite", lh.Favorite)
	mux.HandleFunc("POST /api/listings/{id}/view", lh.View)
	mux.HandleFunc("GET /api/listings/{id}/bids", lh.Bids)
	mux.HandleFunc("POST /api/listings/{id}/bids", lh.PlaceBid)
	mux.HandleFunc("POST /api/listings/{id}/buy", lh.Buy)
	mux.HandleFunc("PUT /api/collections/{collection}/royalty", lh.SetRoyalty)
	mux.HandleFunc("POST /api/offers", oh.Make)
	mux.HandleFunc("GET /api/offers", oh.List)
	mux.HandleFunc("GET /api/offers/{id}", oh.Get)
	mux.HandleFunc("POST /api/offers/{id}/accept", oh.Accept)
	mux.HandleFunc("POST /api/offers/{id}/cancel", oh.Cancel)
	mux.HandleFunc("POST /api/offers/{id}/reject", oh.Reject)
	mux.HandleFunc("GET /api/sales", sh.List)
	mux.HandleFunc("GET /api/sales/{id}", sh.Get)
	mux.HandleFunc("POST /api/sales/{id}/settlement", sh.AttachSettlement)
	mux.HandleFunc("GET /api/activity", fh.Activity)
	mux.HandleFunc("GET /api/prices", fh.PriceHistory)
	mux.HandleFunc("GET /api/stats", fh.Stats)
	mux.HandleFunc("POST /api/admin/sweep", ah.Sweep)
	return mux, m
}

func call(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return callAs(t, h, method, path, body, nil)
}

func callAs(t *testing.T, h http.Handler, method, path string, body any, p *middleware.Principal) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if p != nil {
		req = middleware.WithPrincipalRequest(req, *p)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createFixed(t *testing.T, h http.Handler, token, price string) domain.Listing {
	t.Helper()
	rec := call(t, h, http.MethodPost, "/api/listings", map[string]any{
		"type":     "fixed",
		"asset":    map[string]any{"collection": collection, "token_id": token},
		"seller":   seller,
		"currency": "eth",
		"price":    price,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[domain.Listing](t, rec)
}

func TestCreateAndBuyListing(t *testing.T) {
	mux, _ := newTestRoutes(t)
	l := createFixed(t, mux, "1", "1.5")
	assert.Equal(t, "ETH", l.Currency)
	assert.Equal(t, domain.MustAmount("1.5"), l.Price)

	rec := call(t, mux, http.MethodGet, "/api/listings/"+l.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, mux, http.MethodPost, "/api/listings/"+l.ID+"/buy", map[string]any{"buyer": buyer})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sale := decode[domain.Sale](t, rec)
	assert.True(t, sale.Balanced())
	assert.Equal(t, domain.SaleSourceBuyNow, sale.Source)

	rec = call(t, mux, http.MethodPost, "/api/listings/"+l.ID+"/buy", map[string]any{"buyer": buyer})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = call(t, mux, http.MethodGet, "/api/sales/"+sale.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[struct {
		Sale       domain.Sale        `json:"sale"`
		Settlement *domain.Settlement `json:"settlement"`
	}](t, rec)
	assert.Equal(t, sale.ID, got.Sale.ID)
	assert.Nil(t, got.Settlement)

	rec = call(t, mux, http.MethodPost, "/api/sales/"+sale.ID+"/settlement", map[string]any{"tx_ref": "0xfeed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = call(t, mux, http.MethodPost, "/api/sales/"+sale.ID+"/settlement", map[string]any{"tx_ref": "0xfeed"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateListingValidation(t *testing.T) {
	mux, _ := newTestRoutes(t)
	cases := map[string]map[string]any{
		"bad collection": {"type": "fixed", "asset": map[string]any{"collection": "nope", "token_id": "1"}, "seller": seller, "currency": "ETH", "price": "1"},
		"bad seller":     {"type": "fixed", "asset": map[string]any{"collection": collection, "token_id": "1"}, "seller": "0x12", "currency": "ETH", "price": "1"},
		"no seller":      {"type": "fixed", "asset": map[string]any{"collection": collection, "token_id": "1"}, "currency": "ETH", "price": "1"},
		"negative":       {"type": "fixed", "asset": map[string]any{"collection": collection, "token_id": "1"}, "seller": seller, "currency": "ETH", "price": "-1"},
		"too precise":    {"type": "fixed", "asset": map[string]any{"collection": collection, "token_id": "1"}, "seller": seller, "currency": "ETH", "price": "0.0000001"},
		"unknown field":  {"type": "fixed", "asset": map[string]any{"collection": collection, "token_id": "1"}, "seller": seller, "currency": "ETH", "price": "1", "bogus": true},
		"engine reject":  {"type": "fixed", "asset": map[string]any{"collection": collection, "token_id": "1"}, "seller": seller, "currency": "ETH"},
		"bad duration":   {"type": "fixed", "asset": map[string]any{"collection": collection, "token_id": "1"}, "seller": seller, "currency": "ETH", "price": "1", "duration": "soon"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := call(t, mux, http.MethodPost, "/api/listings", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestDomainErrorBody(t *testing.T) {
	mux, _ := newTestRoutes(t)
	rec := call(t, mux, http.MethodGet, "/api/listings/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "not found", body["kind"])
	assert.NotEmpty(t, body["error"])
}

func TestActorFromPrincipal(t *testing.T) {
	mux, _ := newTestRoutes(t)
	l := createFixed(t, mux, "1", "2")

	other := &middleware.Principal{Subject: buyer}
	rec := callAs(t, mux, http.MethodPost, "/api/listings/"+l.ID+"/cancel", map[string]any{"actor": seller}, other)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = callAs(t, mux, http.MethodPost, "/api/listings/"+l.ID+"/cancel", map[string]any{}, other)
	assert.Equal(t, http.StatusForbidden, rec.Code, "engine rejects a non-seller")

	owner := &middleware.Principal{Subject: strings.ToUpper(seller[2:])}
	owner.Subject = "0x" + owner.Subject
	rec = callAs(t, mux, http.MethodPost, "/api/listings/"+l.ID+"/cancel", map[string]any{}, owner)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.ListingStatusCancelled, decode[domain.Listing](t, rec).Status)
}

func TestAuctionBidFlow(t *testing.T) {
	mux, _ := newTestRoutes(t)
	rec := call(t, mux, http.MethodPost, "/api/listings", map[string]any{
		"type":              "auction_english",
		"asset":             map[string]any{"collection": collection, "token_id": "7"},
		"seller":            seller,
		"currency":          "ETH",
		"starting_price":    "1",
		"min_bid_increment": "0.1",
		"duration":          "24h",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	l := decode[domain.Listing](t, rec)

	rec = call(t, mux, http.MethodPost, "/api/listings/"+l.ID+"/bids", map[string]any{"bidder": buyer})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, mux, http.MethodPost, "/api/listings/"+l.ID+"/bids", map[string]any{"bidder": buyer, "amount": "0.9"})
	assert.Equal(t, http.StatusConflict, rec.Code, "bid below the starting price")

	rec = call(t, mux, http.MethodPost, "/api/listings/"+l.ID+"/bids", map[string]any{"bidder": buyer, "amount": "1.2"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = call(t, mux, http.MethodPost, "/api/listings/"+l.ID+"/bids", map[string]any{"bidder": seller, "amount": "5"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(t, mux, http.MethodGet, "/api/listings/"+l.ID+"/bids", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bids := decode[struct {
		Bids  []domain.Bid `json:"bids"`
		Count int          `json:"count"`
	}](t, rec)
	assert.Equal(t, 1, bids.Count)
	assert.Equal(t, domain.MustAmount("1.2"), bids.Bids[0].Amount)
}

func TestListListingsFilters(t *testing.T) {
	mux, _ := newTestRoutes(t)
	createFixed(t, mux, "1", "1")
	createFixed(t, mux, "2", "3")
	createFixed(t, mux, "3", "5")

	rec := call(t, mux, http.MethodGet, "/api/listings?min_price=2&sort=price_desc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[struct {
		Listings []domain.Listing `json:"listings"`
		Total    int              `json:"total"`
	}](t, rec)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Listings, 2)
	assert.Equal(t, domain.MustAmount("5"), page.Listings[0].Price)

	rec = call(t, mux, http.MethodGet, "/api/listings?asset="+collection+":2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[struct {
		Total int `json:"total"`
	}](t, rec).Total)

	for _, q := range []string{"sort=random", "status=open", "type=raffle", "seller=bob", "asset=nokey", "min_price=abc"} {
		rec = call(t, mux, http.MethodGet, "/api/listings?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestFavoriteAndView(t *testing.T) {
	mux, _ := newTestRoutes(t)
	l := createFixed(t, mux, "1", "1")

	rec := call(t, mux, http.MethodPost, "/api/listings/"+l.ID+"/favorite", map[string]any{"user": buyer})
	require.Equal(t, http.StatusOK, rec.Code)
	fav := decode[map[string]any](t, rec)
	assert.Equal(t, true, fav["favorited"])
	assert.EqualValues(t, 1, fav["favorites"])

	rec = call(t, mux, http.MethodPost, "/api/listings/"+l.ID+"/favorite", map[string]any{"user": buyer})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode[map[string]any](t, rec)["favorited"])

	rec = call(t, mux, http.MethodPost, "/api/listings/"+l.ID+"/view", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, rec)["views"])
}

func TestOfferLifecycle(t *testing.T) {
	mux, _ := newTestRoutes(t)
	rec := call(t, mux, http.MethodPut, "/api/collections/"+collection+"/royalty", map[string]any{"royalty_bps": 500})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(t, mux, http.MethodPost, "/api/offers", map[string]any{
		"collection": collection,
		"offerer":    buyer,
		"amount":     "2",
		"currency":   "WETH",
		"duration":   "3600",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	o := decode[domain.Offer](t, rec)
	assert.Equal(t, domain.OfferTargetCollection, o.Target.Kind)

	rec = call(t, mux, http.MethodGet, "/api/offers?collection="+collection, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, rec)["total"])

	rec = call(t, mux, http.MethodPost, "/api/offers/"+o.ID+"/accept", map[string]any{"seller": seller})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "collection offers need a token")

	rec = call(t, mux, http.MethodPost, "/api/offers/"+o.ID+"/accept", map[string]any{"seller": seller, "token_id": "9"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sale := decode[domain.Sale](t, rec)
	assert.Equal(t, 500, sale.RoyaltyBps)
	assert.Equal(t, domain.MustAmount("0.1"), sale.RoyaltyFee)

	rec = call(t, mux, http.MethodPost, "/api/offers/"+o.ID+"/cancel", map[string]any{"actor": buyer})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOfferCancelAndReject(t *testing.T) {
	mux, _ := newTestRoutes(t)
	newOffer := func() domain.Offer {
		rec := call(t, mux, http.MethodPost, "/api/offers", map[string]any{
			"collection": collection, "token_id": "1", "offerer": buyer, "amount": "1", "currency": "WETH",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		return decode[domain.Offer](t, rec)
	}

	o := newOffer()
	rec := call(t, mux, http.MethodPost, "/api/offers/"+o.ID+"/cancel", map[string]any{"actor": seller})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = call(t, mux, http.MethodPost, "/api/offers/"+o.ID+"/cancel", map[string]any{"actor": buyer})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.OfferStatusCancelled, decode[domain.Offer](t, rec).Status)

	o = newOffer()
	rec = call(t, mux, http.MethodPost, "/api/offers/"+o.ID+"/reject", map[string]any{"actor": seller})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.OfferStatusRejected, decode[domain.Offer](t, rec).Status)

	rec = call(t, mux, http.MethodGet, "/api/offers/"+o.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestFeedEndpoints(t *testing.T) {
	mux, _ := newTestRoutes(t)
	l := createFixed(t, mux, "1", "4")
	rec := call(t, mux, http.MethodPost, "/api/listings/"+l.ID+"/buy", map[string]any{"buyer": buyer})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = call(t, mux, http.MethodGet, "/api/activity?type=sale", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	acts := decode[struct {
		Activity []domain.Activity `json:"activity"`
		Total    int               `json:"total"`
	}](t, rec)
	assert.Equal(t, 1, acts.Total)
	assert.Equal(t, domain.ActivitySale, acts.Activity[0].Type)

	rec = call(t, mux, http.MethodGet, "/api/prices?asset="+collection+":1&event=sale", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, rec)["total"])

	rec = call(t, mux, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[domain.MarketStats](t, rec)
	assert.Equal(t, int64(1), stats.SalesCount)
	assert.Equal(t, domain.MustAmount("4"), stats.VolumeByCurrency["ETH"])

	rec = call(t, mux, http.MethodGet, "/api/sales?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, rec)["total"])
}

func TestAdminSweep(t *testing.T) {
	mux, _ := newTestRoutes(t)
	rec := call(t, mux, http.MethodPost, "/api/admin/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode[map[string]any](t, rec)["scanned"])
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReady(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"postgres": pingerFunc(func(context.Context) error { return nil }),
		"redis":    pingerFunc(func(context.Context) error { return errors.New("down") }),
		"s3":       nil,
	}, "server", discard())

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[struct {
		Ready  bool              `json:"ready"`
		Checks map[string]string `json:"checks"`
	}](t, rec)
	assert.False(t, body.Ready)
	assert.Equal(t, "ok", body.Checks["postgres"])
	assert.Equal(t, "down", body.Checks["redis"])

	rec = httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
