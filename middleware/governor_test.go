package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ai-rivu-backend/activity"
	"ai-rivu-backend/config"
	"ai-rivu-backend/model"
	"ai-rivu-backend/quota"
	"ai-rivu-backend/ratelimit"
	"ai-rivu-backend/stats"
)

type testGovernance struct {
	now      time.Time
	log      *activity.Log
	agg      *stats.Aggregator
	governor *Governor
}

func newTestGovernance(t *testing.T, limits []ratelimit.Limit) *testGovernance {
	t.Helper()
	tg := &testGovernance{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return tg.now }

	c, err := ratelimit.NewController(ratelimit.NewMemoryWindowStore(), limits, ratelimit.WithClock(clock))
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	tg.log = activity.NewLog(activity.WithClock(clock))
	tg.agg = stats.NewAggregator()
	tg.log.Subscribe(tg.agg.OnEvent)

	ledger := quota.NewLedger(config.QuotaConfig{Limit: 20, WarnWithin: 2, ContactEmail: "support@airivu.com"}, tg.agg, tg.log)
	tg.governor = NewGovernor(c, ledger, tg.log, nil)
	return tg
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func generateChain(g *Governor) http.Handler {
	return g.Anonymous(RequireIdentity(g.Limit(ratelimit.LimiterGenerate)(g.Quota(okHandler))))
}

func generateRequest(identity string) *http.Request {
	req := httptest.NewRequest("POST", "/api/generate", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	req.Header.Set("User-Agent", "Mozilla/5.0 test")
	if identity != "" {
		req.Header.Set(HeaderUserEmail, identity)
	}
	return req
}

func TestWindowDenialResponse(t *testing.T) {
	tg := newTestGovernance(t, ratelimit.DefaultLimits())
	chain := generateChain(tg.governor)

	for i := 0; i < 15; i++ {
		rr := httptest.NewRecorder()
		chain.ServeHTTP(rr, generateRequest("u1@example.com"))
		if rr.Code != http.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i+1, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, generateRequest("u1@example.com"))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "900" {
		t.Errorf("Expected Retry-After 900, got %q", got)
	}

	var body model.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body.Error != ratelimit.ReasonRateLimitExceeded || body.RetryAfterSeconds != 900 {
		t.Errorf("Unexpected body: %+v", body)
	}
	if body.Limit == nil || body.Limit.Max != 15 || body.Limit.WindowMinutes != 15 {
		t.Errorf("Unexpected limit info: %+v", body.Limit)
	}
	if body.ErrorCode != "" {
		t.Error("Window denials must not carry the quota error code")
	}

	events, _ := tg.log.Filter("u1@example.com", model.ActionRateLimited, 0)
	if len(events) != 1 {
		t.Fatalf("Expected one rate limit event, got %d", len(events))
	}
	d := events[0].Detail
	if d["limiter"] != ratelimit.LimiterGenerate || d["count"] != 15 || d["ip"] != "10.0.0.7" || d["path"] != "/api/generate" {
		t.Errorf("Unexpected denial detail: %v", d)
	}

	tg.now = tg.now.Add(16 * time.Minute)
	rr = httptest.NewRecorder()
	chain.ServeHTTP(rr, generateRequest("u1@example.com"))
	if rr.Code != http.StatusOK {
		t.Errorf("Expected admission after the window, got %d", rr.Code)
	}
}

func TestQuotaDenialResponse(t *testing.T) {
	tg := newTestGovernance(t, ratelimit.DefaultLimits())
	u2 := model.NewUserStatistics("u2@example.com")
	u2.TotalPapersGenerated = 20
	tg.agg.Restore(map[string]*model.UserStatistics{"u2@example.com": u2})

	rr := httptest.NewRecorder()
	generateChain(tg.governor).ServeHTTP(rr, generateRequest("u2@example.com"))

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "" {
		t.Error("Quota denials must not carry Retry-After")
	}

	var body model.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body.ErrorCode != quota.ErrorCode {
		t.Errorf("Expected errorCode %s, got %q", quota.ErrorCode, body.ErrorCode)
	}
	if body.Quota == nil || body.Quota.Used != 20 || body.Quota.Limit != 20 || body.Quota.ContactEmail != "support@airivu.com" {
		t.Errorf("Unexpected quota info: %+v", body.Quota)
	}
}

func TestMissingIdentity(t *testing.T) {
	tg := newTestGovernance(t, ratelimit.DefaultLimits())

	tests := []struct {
		name   string
		header string
		value  string
	}{
		{"no header", "", ""},
		{"invalid characters", HeaderUserEmail, "bad identity with spaces"},
		{"reserved anonymous", HeaderUserEmail, "anonymous"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := generateRequest("")
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rr := httptest.NewRecorder()
			generateChain(tg.governor).ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("Expected 401, got %d", rr.Code)
			}
			var body model.ErrorResponse
			json.NewDecoder(rr.Body).Decode(&body)
			if body.Error != "authentication_required" {
				t.Errorf("Expected authentication_required, got %q", body.Error)
			}
		})
	}

	if tg.log.Len() != 0 {
		t.Errorf("Missing identity must not reach stateful work, got %d events", tg.log.Len())
	}
}

func TestAnonymousDenialIsLoggedAgainstAnonymous(t *testing.T) {
	limits := []ratelimit.Limit{
		{Name: ratelimit.LimiterAnonymous, Window: time.Minute, Max: 2},
		{Name: ratelimit.LimiterGenerate, Window: time.Minute, Max: 100},
	}
	tg := newTestGovernance(t, limits)
	chain := generateChain(tg.governor)

	codes := make([]int, 3)
	for i := range codes {
		rr := httptest.NewRecorder()
		chain.ServeHTTP(rr, generateRequest("someone@example.com"))
		codes[i] = rr.Code
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("Unexpected status sequence %v", codes)
	}

	events, _ := tg.log.Filter(model.AnonymousIdentity, "", 0)
	if len(events) != 1 || events[0].Detail["ip"] != "10.0.0.7" {
		t.Errorf("Expected one anonymous denial with the IP, got %v", events)
	}
	if _, ok := tg.agg.UserStatistics(model.AnonymousIdentity); ok {
		t.Error("Anonymous denials must not be folded into statistics")
	}
}

type degradedAdmitter struct{}

func (degradedAdmitter) Admit(ctx context.Context, identity, limiter string) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: true, Limiter: limiter, Degraded: errors.New("store down")}, nil
}

type failingReader struct{}

func (failingReader) PapersGenerated(ctx context.Context, identity string) (int, error) {
	return 0, errors.New("statistics unavailable")
}

func TestDegradedDependenciesFailOpen(t *testing.T) {
	log := activity.NewLog()
	ledger := quota.NewLedger(config.QuotaConfig{Limit: 20, WarnWithin: 2}, failingReader{}, log)
	g := NewGovernor(degradedAdmitter{}, ledger, log, nil)

	rr := httptest.NewRecorder()
	generateChain(g).ServeHTTP(rr, generateRequest("u@example.com"))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected degraded dependencies to fail open, got %d", rr.Code)
	}

	events, _ := log.Filter("u@example.com", model.ActionQuotaCheckFailed, 0)
	if len(events) != 1 {
		t.Errorf("Expected a Quota Check Failed event, got %d", len(events))
	}
}

func TestUnknownLimiterIsServerError(t *testing.T) {
	tg := newTestGovernance(t, ratelimit.DefaultLimits())
	chain := RequireIdentity(tg.governor.Limit("nonexistent")(okHandler))

	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, generateRequest("u@example.com"))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 for a misconfigured route, got %d", rr.Code)
	}
}
