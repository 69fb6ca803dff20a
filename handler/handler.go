package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ai-rivu-backend/auth"
	"ai-rivu-backend/cache"
	"ai-rivu-backend/config"
	"ai-rivu-backend/llm"
	"ai-rivu-backend/metrics"
	"ai-rivu-backend/model"
	"ai-rivu-backend/stats"
	"ai-rivu-backend/storage"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

var (
	ErrGeneratorUnavailable = errors.New("paper generator unavailable")
	ErrIdentityNotFound     = errors.New("identity not found")
)

// ActivityLog is the activity log as seen by handlers
type ActivityLog interface {
	Append(identity string, kind model.ActivityKind, action string, detail map[string]interface{}) model.ActivityEvent
	Tail(n int) []model.ActivityEvent
	Filter(identity, action string, limit int) ([]model.ActivityEvent, int)
}

// FlushStatus reports durability state for the health check
type FlushStatus interface {
	Status() storage.Status
}

// MirrorStatus reports the secondary backend of a mirror
type MirrorStatus interface {
	Degraded() bool
	Backlog() int
}

// Dependencies wires a Handler
type Dependencies struct {
	Config     config.Config
	Activity   ActivityLog
	Statistics *stats.Aggregator
	Verifier   *auth.Verifier
	Generator  llm.Generator
	Cache      *cache.Cache
	Flusher    FlushStatus
	Mirror     MirrorStatus
	Redis      *redis.Client
	Metrics    *metrics.Recorder
}

// Handler serves the exam-paper API and the analytics dashboard
type Handler struct {
	config    config.Config
	activity  ActivityLog
	stats     *stats.Aggregator
	verifier  *auth.Verifier
	generator llm.Generator
	cache     *cache.Cache
	flusher   FlushStatus
	mirror    MirrorStatus
	redis     *redis.Client
	metrics   *metrics.Recorder
	now       func() time.Time
}

// NewHandler creates a new handler
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		config:    deps.Config,
		activity:  deps.Activity,
		stats:     deps.Statistics,
		verifier:  deps.Verifier,
		generator: deps.Generator,
		cache:     deps.Cache,
		flusher:   deps.Flusher,
		mirror:    deps.Mirror,
		redis:     deps.Redis,
		metrics:   deps.Metrics,
		now:       time.Now,
	}
}

// HealthCheck handles GET /health
// @Summary Health check
// @Description Returns service health, durability backend state and Redis connectivity
// @Tags System
// @Produce json
// @Success 200 {object} model.HealthResponse "Service is healthy"
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status: "healthy",
		Redis:  "disabled",
	}

	if h.redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.redis.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("Redis health check failed")
			resp.Redis = "unavailable"
			resp.Status = "degraded"
		} else {
			resp.Redis = "connected"
		}
	}

	if h.flusher != nil {
		s := h.flusher.Status()
		resp.Backend = s.Backend
		resp.LastFlush = s.LastFlush
		resp.LastError = s.LastError
		resp.Pending = s.PendingEvents
		if s.LastError != "" {
			resp.Status = "degraded"
		}
	}

	if h.mirror != nil {
		resp.Mirror = &model.MirrorHealth{
			Degraded: h.mirror.Degraded(),
			Backlog:  h.mirror.Backlog(),
		}
		if resp.Mirror.Degraded {
			resp.Status = "degraded"
		}
	}

	if h.cache != nil {
		m := h.cache.GetMetricsSnapshot()
		resp.Cache = &model.CacheHealth{Hits: m.Hits, Misses: m.Misses, HitRatio: m.HitRatio}
	}

	SendJSONSuccess(w, http.StatusOK, resp)
}

// CacheMetrics handles GET /cache/metrics
// @Summary Cache performance metrics
// @Description Returns analytics cache hit rate, misses, and evictions
// @Tags System
// @Produce json
// @Success 200 {object} cache.MetricsSnapshot "Cache metrics"
// @Failure 503 {object} model.ErrorResponse "Cache is disabled"
// @Router /cache/metrics [get]
func (h *Handler) CacheMetrics(w http.ResponseWriter, r *http.Request) {
	if !h.config.Cache.Enabled || h.cache == nil {
		SendJSONError(w, http.StatusServiceUnavailable, errors.New("cache is disabled"), "")
		return
	}

	SendJSONSuccess(w, http.StatusOK, h.cache.GetMetricsSnapshot())
}
