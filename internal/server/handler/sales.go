package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

// SaleHandler serves the sale ledger.
type SaleHandler struct {
	engine Engine
	logger *slog.Logger
}

// NewSaleHandler creates a SaleHandler.
func NewSaleHandler(engine Engine, logger *slog.Logger) *SaleHandler {
	return &SaleHandler{engine: engine, logger: logHandler(logger, "sale")}
}

// List returns sales newest first.
// GET /api/sales?limit=&offset=
func (h *SaleHandler) List(w http.ResponseWriter, r *http.Request) {
	page := parsePage(r)
	sales, total := h.engine.ListSales(r.Context(), page)
	if sales == nil {
		sales = []domain.Sale{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sales":  sales,
		"total":  total,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

// Get returns a sale and its settlement, if attached.
// GET /api/sales/{id}
func (h *SaleHandler) Get(w http.ResponseWriter, r *http.Request) {
	sale, st, err := h.engine.GetSale(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale, "settlement": st})
}

type settlementRequest struct {
	TxRef string `json:"tx_ref"`
}

// AttachSettlement records an externally executed transfer. Admin only.
// POST /api/sales/{id}/settlement
func (h *SaleHandler) AttachSettlement(w http.ResponseWriter, r *http.Request) {
	var req settlementRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := h.engine.AttachSettlement(r.Context(), pathParam(r, "id"), strings.TrimSpace(req.TxRef))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
