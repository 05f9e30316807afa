package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/assetmarket/internal/market"
)

// AdminHandler serves operator endpoints.
type AdminHandler struct {
	engine Engine
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(engine Engine, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{engine: engine, logger: logHandler(logger, "admin")}
}

// Sweep runs one expiry sweep immediately.
// POST /api/admin/sweep
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.Sweep(r.Context())
	if err != nil {
		if errors.Is(err, market.ErrSweepRunning) {
			writeError(w, http.StatusConflict, "a sweep is already running")
			return
		}
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scanned":     report.Scanned,
		"settled":     report.Settled,
		"expired":     report.Expired,
		"failed":      report.Failed,
		"skipped":     report.Skipped,
		"sales":       report.Sales,
		"duration_ms": report.Duration.Milliseconds(),
	})
}
