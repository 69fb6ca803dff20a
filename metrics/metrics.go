package metrics

import (
	"net/http"

	"ai-rivu-backend/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "airivu"

// Recorder holds the governance metrics on its own registry
type Recorder struct {
	Registry *prometheus.Registry

	admissions     *prometheus.CounterVec
	quotaChecks    *prometheus.CounterVec
	events         *prometheus.CounterVec
	flushes        *prometheus.CounterVec
	persistFails   *prometheus.CounterVec
	flushDuration  prometheus.Histogram
	pendingEvents  prometheus.Gauge
	llmDuration    prometheus.Histogram
	llmTokens      prometheus.Counter
	burstRejected  prometheus.Counter
	backendHealthy *prometheus.GaugeVec
}

// New creates a Recorder and registers every collector
func New() *Recorder {
	r := &Recorder{
		Registry: prometheus.NewRegistry(),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Sliding-window admission decisions",
		}, []string{"limiter", "result"}),
		quotaChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_checks_total",
			Help:      "Quota ledger decisions",
		}, []string{"result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_events_total",
			Help:      "Activity events appended",
		}, []string{"kind"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Durability flushes",
		}, []string{"trigger", "result"}),
		persistFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Failed writes to a durability backend",
		}, []string{"backend", "document"}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Durability flush duration",
			Buckets:   prometheus.DefBuckets,
		}),
		pendingEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "activity_pending_events",
			Help:      "Activity events awaiting flush",
		}),
		llmDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Paper generation request duration",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		llmTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens reported by the generation provider",
		}),
		burstRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "burst_rejected_total",
			Help:      "Requests rejected by the per-IP burst guard",
		}),
		backendHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_healthy",
			Help:      "1 when the durability backend's last write succeeded",
		}, []string{"backend"}),
	}

	r.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.admissions,
		r.quotaChecks,
		r.events,
		r.flushes,
		r.persistFails,
		r.flushDuration,
		r.pendingEvents,
		r.llmDuration,
		r.llmTokens,
		r.burstRejected,
		r.backendHealthy,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{})
}

func (r *Recorder) Admission(limiter string, allowed, degraded bool) {
	if r == nil {
		return
	}
	result := "denied"
	switch {
	case degraded:
		result = "degraded"
	case allowed:
		result = "allowed"
	}
	r.admissions.WithLabelValues(limiter, result).Inc()
}

func (r *Recorder) QuotaCheck(allowed, approaching, degraded bool) {
	if r == nil {
		return
	}
	result := "denied"
	switch {
	case degraded:
		result = "degraded"
	case approaching:
		result = "approaching"
	case allowed:
		result = "allowed"
	}
	r.quotaChecks.WithLabelValues(result).Inc()
}

// OnEvent is an activity log subscriber
func (r *Recorder) OnEvent(e model.ActivityEvent) {
	if r == nil {
		return
	}
	r.events.WithLabelValues(string(e.EffectiveKind())).Inc()
}

func (r *Recorder) Flush(trigger string, err error, seconds float64) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.flushes.WithLabelValues(trigger, result).Inc()
	r.flushDuration.Observe(seconds)
}

func (r *Recorder) PersistenceFailure(backend, document string) {
	if r == nil {
		return
	}
	r.persistFails.WithLabelValues(backend, document).Inc()
}

func (r *Recorder) BackendHealthy(backend string, healthy bool) {
	if r == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	r.backendHealthy.WithLabelValues(backend).Set(v)
}

func (r *Recorder) PendingEvents(n int) {
	if r == nil {
		return
	}
	r.pendingEvents.Set(float64(n))
}

func (r *Recorder) Generation(seconds float64, tokens int) {
	if r == nil {
		return
	}
	r.llmDuration.Observe(seconds)
	if tokens > 0 {
		r.llmTokens.Add(float64(tokens))
	}
}

func (r *Recorder) BurstRejected() {
	if r == nil {
		return
	}
	r.burstRejected.Inc()
}
