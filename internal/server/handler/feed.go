package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

// FeedHandler serves the activity feed, price history and market stats.
type FeedHandler struct {
	engine Engine
	logger *slog.Logger
}

// NewFeedHandler creates a FeedHandler.
func NewFeedHandler(engine Engine, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{engine: engine, logger: logHandler(logger, "feed")}
}

// Activity returns feed entries newest first.
// GET /api/activity?asset=&collection=&actor=&type=bid,sale&limit=&offset=
func (h *FeedHandler) Activity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		f   domain.ActivityFilter
		err error
	)
	if f.Collection, err = optionalAddress("collection", q.Get("collection")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.Actor, err = optionalAddress("actor", q.Get("actor")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if asset := q.Get("asset"); asset != "" {
		if f.AssetKey, err = assetKeyParam(asset); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	for _, t := range splitList(q.Get("type")) {
		f.Types = append(f.Types, domain.ActivityType(t))
	}

	page := parsePage(r)
	acts, total := h.engine.Activity(r.Context(), f, page)
	if acts == nil {
		acts = []domain.Activity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"activity": acts,
		"total":    total,
		"limit":    page.Limit,
		"offset":   page.Offset,
	})
}

// PriceHistory returns price points newest first.
// GET /api/prices?asset=&collection=&event=listing,sale&limit=&offset=
func (h *FeedHandler) PriceHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		f   domain.PriceFilter
		err error
	)
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
	for _, e := range splitList(q.Get("event")) {
		f.Events = append(f.Events, domain.PriceEvent(e))
	}

	page := parsePage(r)
	points, total := h.engine.PriceHistory(r.Context(), f, page)
	if points == nil {
		points = []domain.PricePoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"prices": points,
		"total":  total,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

// Stats returns the market counters.
// GET /api/stats
func (h *FeedHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Stats(r.Context()))
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
