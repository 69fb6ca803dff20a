package handler

import (
	"net/http"

	"ai-rivu-backend/middleware"
	"ai-rivu-backend/ratelimit"

	"github.com/gorilla/mux"
)

// RouterConfig carries the middleware applied around the handlers
type RouterConfig struct {
	Governor      *middleware.Governor
	Burst         *middleware.BurstGuard
	Admin         *middleware.AdminAuth
	Metrics       http.Handler
	AllowedOrigin string
}

// NewRouter registers every route with its governance chain
func NewRouter(h *Handler, rc RouterConfig) http.Handler {
	g := rc.Governor
	r := mux.NewRouter()
	r.Use(middleware.RequestLogger)

	// System routes
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/cache/metrics", h.CacheMetrics).Methods("GET")
	if rc.Metrics != nil {
		r.Handle("/metrics", rc.Metrics).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()
	if rc.Burst != nil {
		api.Use(rc.Burst.Limit)
	}

	api.Handle("/login", g.Anonymous(
		middleware.LoginIdentity(
			g.Limit(ratelimit.LimiterLogin)(http.HandlerFunc(h.Login))))).Methods("POST")

	api.Handle("/generate", g.Anonymous(
		middleware.RequireIdentity(
			g.Limit(ratelimit.LimiterGenerate)(
				g.Quota(http.HandlerFunc(h.GeneratePaper)))))).Methods("POST")

	api.Handle("/download", g.Anonymous(
		middleware.RequireIdentity(
			g.Limit(ratelimit.LimiterDownload)(http.HandlerFunc(h.DownloadPaper))))).Methods("POST")

	api.Handle("/stats/me", g.Anonymous(
		middleware.RequireIdentity(http.HandlerFunc(h.MyStatistics)))).Methods("GET")

	// Admin routes
	admin := api.PathPrefix("/admin").Subrouter()
	if rc.Admin != nil {
		admin.Use(rc.Admin.Protect)
	}
	admin.HandleFunc("/analytics", h.GetAnalytics).Methods("GET")
	admin.HandleFunc("/users", h.ListUsers).Methods("GET")
	admin.HandleFunc("/users/{identity}", h.GetUser).Methods("GET")
	admin.HandleFunc("/users/{identity}/reset", h.ResetUser).Methods("POST")
	admin.HandleFunc("/activity", h.GetActivity).Methods("GET")
	admin.HandleFunc("/export", h.ExportAnalytics).Methods("GET")

	// Preflight requests never reach a route, so CORS wraps the router
	return middleware.CORS(rc.AllowedOrigin)(r)
}
