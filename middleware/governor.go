package middleware

import (
	"context"
	"net/http"
	"strconv"

	"ai-rivu-backend/metrics"
	"ai-rivu-backend/model"
	"ai-rivu-backend/quota"
	"ai-rivu-backend/ratelimit"

	"github.com/rs/zerolog/log"
)

// Admitter is the sliding-window admission controller
type Admitter interface {
	Admit(ctx context.Context, identity, limiter string) (ratelimit.Decision, error)
}

// QuotaChecker is the quota ledger
type QuotaChecker interface {
	Check(ctx context.Context, identity string) quota.Decision
}

// Recorder appends activity events
type Recorder interface {
	Append(identity string, kind model.ActivityKind, action string, detail map[string]interface{}) model.ActivityEvent
}

// Governor applies the admission controller and quota ledger to routes
type Governor struct {
	admitter Admitter
	quota    QuotaChecker
	recorder Recorder
	metrics  *metrics.Recorder
}

// NewGovernor creates a governor
func NewGovernor(admitter Admitter, quota QuotaChecker, recorder Recorder, m *metrics.Recorder) *Governor {
	return &Governor{
		admitter: admitter,
		quota:    quota,
		recorder: recorder,
		metrics:  m,
	}
}

// Anonymous admits by client IP under the anonymous limiter, before any
// identity is resolved. Denials are logged against the anonymous identity.
func (g *Governor) Anonymous(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if !g.admit(w, r, ip, model.AnonymousIdentity, ratelimit.LimiterAnonymous) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Limit admits the resolved identity under limiter. It must run after an
// identity middleware.
func (g *Governor) Limit(limiter string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := GetIdentity(r)
			if identity == "" {
				writeAuthenticationRequired(w)
				return
			}
			if !g.admit(w, r, identity, identity, limiter) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Quota denies identities that have used up their paper quota
func (g *Governor) Quota(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := GetIdentity(r)
		if identity == "" {
			writeAuthenticationRequired(w)
			return
		}

		d := g.quota.Check(r.Context(), identity)
		g.metrics.QuotaCheck(d.Allowed, d.Approaching, d.Degraded != nil)
		if d.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		writeJSON(w, http.StatusTooManyRequests, model.ErrorResponse{
			Error:     quota.ErrQuotaExceeded.Error(),
			Message:   d.Message(),
			ErrorCode: quota.ErrorCode,
			Quota: &model.QuotaInfo{
				Used:         d.Used,
				Limit:        d.Limit,
				ContactEmail: d.ContactEmail,
			},
		})
	})
}

// admit runs one admission for key and writes the denial response. owner is
// the identity denial events are recorded against.
func (g *Governor) admit(w http.ResponseWriter, r *http.Request, key, owner, limiter string) bool {
	d, err := g.admitter.Admit(r.Context(), key, limiter)
	if err != nil {
		// Misconfigured route, not a caller error
		log.Error().Err(err).Str("limiter", limiter).Str("path", r.URL.Path).Msg("Admission failed")
		writeJSON(w, http.StatusInternalServerError, model.ErrorResponse{
			Error:   "internal_error",
			Message: "Request could not be admitted",
		})
		return false
	}
	g.metrics.Admission(limiter, d.Allowed, d.Degraded != nil)
	if d.Allowed {
		return true
	}

	detail := callerDetail(r)
	detail["limiter"] = limiter
	detail["count"] = d.Count
	detail["max"] = d.Max
	g.recorder.Append(owner, model.KindRateLimited, model.Label(model.ActionRateLimited, limiter), detail)

	log.Info().
		Str("identity", owner).
		Str("limiter", limiter).
		Int("count", d.Count).
		Str("ip", ClientIP(r)).
		Msg("Request rate limited")

	w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds()))
	writeJSON(w, http.StatusTooManyRequests, model.ErrorResponse{
		Error:             ratelimit.ReasonRateLimitExceeded,
		Message:           d.Message(),
		RetryAfterSeconds: d.RetryAfterSeconds(),
		Limit: &model.LimitInfo{
			Max:           d.Max,
			WindowMinutes: d.WindowMinutes(),
		},
	})
	return false
}
