package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"

	"ai-rivu-backend/model"
	"ai-rivu-backend/utils"

	"github.com/rs/zerolog/log"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity headers, in lookup order
const (
	HeaderUserEmail = "X-User-Email"
	HeaderUserID    = "X-User-ID"
)

// maxPeekBytes bounds how much of a login body is read to find the email
const maxPeekBytes = 64 << 10

// WithIdentity returns a copy of ctx carrying identity
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// GetIdentity extracts the resolved identity from the request context
func GetIdentity(r *http.Request) string {
	identity, ok := r.Context().Value(identityKey).(string)
	if !ok {
		return ""
	}
	return identity
}

// RequireIdentity resolves the caller from X-User-Email (falling back to
// X-User-ID) and rejects the request with 401 before any stateful work when
// neither is usable.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(HeaderUserEmail)
		if raw == "" {
			raw = r.Header.Get(HeaderUserID)
		}
		identity := utils.NormalizeIdentity(raw)

		if err := utils.ValidateIdentity(identity); err != nil || identity == model.AnonymousIdentity {
			log.Debug().
				Str("path", r.URL.Path).
				Str("ip", ClientIP(r)).
				Msg("Request without usable identity")
			writeAuthenticationRequired(w)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// LoginIdentity resolves the caller from the "email" field of a JSON body.
// The body is restored for the handler.
func LoginIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes))
		r.Body.Close()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, model.ErrorResponse{
				Error:   "invalid_request",
				Message: "Failed to read request body",
			})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		var peek struct {
			Email string `json:"email"`
		}
		_ = json.Unmarshal(body, &peek)
		identity := utils.NormalizeIdentity(peek.Email)

		if err := utils.ValidateIdentity(identity); err != nil || identity == model.AnonymousIdentity {
			writeAuthenticationRequired(w)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// ClientIP extracts the client IP, preferring proxy headers
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// callerDetail is the request metadata attached to denial events
func callerDetail(r *http.Request) map[string]interface{} {
	return map[string]interface{}{
		"ip":        ClientIP(r),
		"userAgent": r.UserAgent(),
		"path":      r.URL.Path,
	}
}

func writeAuthenticationRequired(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, model.ErrorResponse{
		Error:   "authentication_required",
		Message: "Provide your account email in the X-User-Email header",
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
