// Package handler is the request validation layer in front of the
// marketplace engine: it decodes JSON, checks address and amount formats,
// resolves the acting account and maps engine errors to HTTP statuses.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/assetmarket/internal/domain"
	"github.com/alanyoungcy/assetmarket/internal/server/middleware"
)

const maxBodyBytes = 1 << 20

var errBadAssetKey = errors.New("asset must be formatted as collection:token_id")

// writeJSON marshals v as JSON and writes it with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps engine error kinds onto HTTP statuses. Anything
// unrecognised is logged and reported as a 500 without detail.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var status int
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrState):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrRateLimited):
		status = http.StatusTooManyRequests
	default:
		logger.ErrorContext(r.Context(), "handler: unexpected error", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	var de *domain.Error
	if errors.As(err, &de) {
		writeJSON(w, status, map[string]string{"error": de.Msg, "kind": de.Kind.Error(), "op": de.Op})
		return
	}
	writeError(w, status, err.Error())
}

// decodeJSON reads a size-limited JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parsePage extracts limit and offset. Defaults: limit=50 (max 500), offset=0.
func parsePage(r *http.Request) domain.Page {
	q := r.URL.Query()
	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return domain.Page{Limit: limit, Offset: offset}
}

// pathParam extracts a named path parameter (Go 1.22 routing).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// normalizeAddress validates a hex account or contract address and returns
// its lower-case form, which is the canonical key inside the engine.
func normalizeAddress(field, s string) (string, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("%s must be a 0x-prefixed 20-byte hex address", field)
	}
	return strings.ToLower(common.HexToAddress(s).Hex()), nil
}

// optionalAddress is normalizeAddress for filters where empty means "any".
func optionalAddress(field, s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	return normalizeAddress(field, s)
}

// amountField converts an optional decimal input into minor units. A nil
// value is zero, which the engine reads as "not provided".
func amountField(field string, d *decimal.Decimal) (domain.Amount, error) {
	if d == nil {
		return 0, nil
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	a, err := domain.AmountFromDecimal(*d)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return a, nil
}

// queryAmount parses an optional decimal query parameter.
func queryAmount(r *http.Request, name string) (domain.Amount, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid decimal %q", name, v)
	}
	return amountField(name, &d)
}

// parseDuration accepts Go durations ("36h") or whole seconds.
func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("%s must not be negative", field)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", field, s)
	}
	return d, nil
}

// resolveActor picks the acting account. An authenticated subject always
// wins; a request naming a different account is rejected. Without a subject
// the request must name the account itself.
func resolveActor(r *http.Request, field, claimed string) (string, int, error) {
	if p, ok := middleware.PrincipalFrom(r.Context()); ok && p.Subject != "" {
		subject, err := normalizeAddress("token subject", p.Subject)
		if err != nil {
			return "", http.StatusUnauthorized, err
		}
		if claimed != "" {
			named, err := normalizeAddress(field, claimed)
			if err != nil {
				return "", http.StatusBadRequest, err
			}
			if named != subject {
				return "", http.StatusForbidden, fmt.Errorf("%s does not match the authenticated account", field)
			}
		}
		return subject, 0, nil
	}
	if claimed == "" {
		return "", http.StatusBadRequest, fmt.Errorf("%s is required", field)
	}
	actor, err := normalizeAddress(field, claimed)
	if err != nil {
		return "", http.StatusBadRequest, err
	}
	return actor, 0, nil
}

// logHandler attaches the handler name to the logger.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
