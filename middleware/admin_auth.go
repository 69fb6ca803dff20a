package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"ai-rivu-backend/model"

	"github.com/rs/zerolog/log"
)

// AdminAuth protects the analytics dashboard endpoints with an API key
type AdminAuth struct {
	apiKey  string
	enabled bool
}

// NewAdminAuth creates a new admin authentication middleware
func NewAdminAuth(apiKey string, enabled bool) *AdminAuth {
	if enabled && apiKey == "" {
		log.Warn().Msg("Admin authentication enabled but no API key configured - dashboard routes will be inaccessible")
	}
	return &AdminAuth{
		apiKey:  apiKey,
		enabled: enabled,
	}
}

// Protect wraps an HTTP handler with admin authentication
func (a *AdminAuth) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled {
			next.ServeHTTP(w, r)
			return
		}

		if a.apiKey == "" {
			log.Warn().Str("path", r.URL.Path).Msg("Admin route accessed but no API key configured")
			writeJSON(w, http.StatusServiceUnavailable, model.ErrorResponse{
				Error: "Admin authentication not configured",
			})
			return
		}

		providedKey := r.Header.Get("X-Admin-Key")
		if providedKey == "" {
			if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
				providedKey = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if providedKey == "" {
			log.Warn().
				Str("path", r.URL.Path).
				Str("ip", ClientIP(r)).
				Msg("Admin route accessed without API key")
			writeJSON(w, http.StatusUnauthorized, model.ErrorResponse{
				Error:   "Missing admin API key",
				Message: "Provide via X-Admin-Key header or Authorization: Bearer <key>",
			})
			return
		}

		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(a.apiKey)) != 1 {
			log.Warn().
				Str("path", r.URL.Path).
				Str("ip", ClientIP(r)).
				Msg("Admin route accessed with invalid API key")
			writeJSON(w, http.StatusForbidden, model.ErrorResponse{
				Error: "Invalid admin API key",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
