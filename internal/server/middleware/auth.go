package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the authenticated caller. Subject is empty for the shared API
// key, which acts on behalf of whatever actor the request names.
type Principal struct {
	Subject string
	Admin   bool
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller stored by Auth.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// AuthConfig selects the accepted credentials. With neither APIKey nor
// JWTSecret set, authentication is disabled.
type AuthConfig struct {
	APIKey      string
	JWTSecret   string
	PublicReads bool
	PublicPaths []string
}

// Auth accepts either the static API key (Bearer or X-API-Key) or an HMAC
// signed JWT whose "sub" claim becomes the acting account. A JWT carrying
// "role":"admin" may call admin routes.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	public := make(map[string]bool, len(cfg.PublicPaths))
	for _, p := range cfg.PublicPaths {
		public[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.APIKey == "" && cfg.JWTSecret == "" {
				next.ServeHTTP(w, WithPrincipalRequest(r, Principal{Admin: true}))
				return
			}
			if public[r.URL.Path] || (cfg.PublicReads && r.Method == http.MethodGet) {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}

			if cfg.APIKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(cfg.APIKey)) == 1 {
				next.ServeHTTP(w, WithPrincipalRequest(r, Principal{Admin: true}))
				return
			}

			if cfg.JWTSecret != "" {
				p, err := parseJWT(token, cfg.JWTSecret)
				if err == nil {
					next.ServeHTTP(w, WithPrincipalRequest(r, p))
					return
				}
			}
			writeUnauthorized(w, "invalid authentication token")
		})
	}
}

// WithPrincipalRequest returns r carrying p.
func WithPrincipalRequest(r *http.Request, p Principal) *http.Request {
	return r.WithContext(WithPrincipal(r.Context(), p))
}

func parseJWT(raw, secret string) (Principal, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}), jwt.WithExpirationRequired())
	if err != nil {
		return Principal{}, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, fmt.Errorf("unexpected claims type %T", token.Claims)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Principal{}, fmt.Errorf("token has no subject")
	}
	role, _ := claims["role"].(string)
	return Principal{Subject: sub, Admin: strings.EqualFold(role, "admin")}, nil
}

// RequireAdmin rejects callers that are not admins.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := PrincipalFrom(r.Context()); !ok || !p.Admin {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"admin access required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
