package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ai-rivu-backend/activity"
	"ai-rivu-backend/auth"
	"ai-rivu-backend/cache"
	"ai-rivu-backend/config"
	"ai-rivu-backend/metrics"
	"ai-rivu-backend/middleware"
	"ai-rivu-backend/model"
	"ai-rivu-backend/quota"
	"ai-rivu-backend/ratelimit"
	"ai-rivu-backend/stats"
	"ai-rivu-backend/storage"

	"github.com/xuri/excelize/v2"
)

const (
	testAdminKey = "admin-secret"
	testEmail    = "teacher@school.org"
	testPassword = "CorrectHorse9"
)

type fakeGenerator struct {
	calls int
	err   error
}

func (g *fakeGenerator) Generate(ctx context.Context, req model.PaperRequest) (*model.PaperResponse, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return &model.PaperResponse{
		Subject:   req.Subject,
		ClassName: req.ClassName,
		Content:   fmt.Sprintf("Section A\n1. Question (%d total)", req.TotalQuestions()),
		Tokens:    120,
	}, nil
}

type testServer struct {
	log       *activity.Log
	agg       *stats.Aggregator
	generator *fakeGenerator
	handler   *Handler
	router    http.Handler
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	cfg := config.Defaults()
	cfg.Cache.Enabled = true
	cfg.Admin = config.AdminConfig{Enabled: true, APIKey: testAdminKey}

	cacheClient, err := cache.New(cfg.Cache)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	t.Cleanup(cacheClient.Close)

	ts := &testServer{
		log:       activity.NewLog(),
		agg:       stats.NewAggregator(),
		generator: &fakeGenerator{},
	}
	ts.log.Subscribe(ts.agg.OnEvent)

	controller, err := ratelimit.NewController(ratelimit.NewMemoryWindowStore(), ratelimit.DefaultLimits())
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	m := metrics.New()
	ledger := quota.NewLedger(cfg.Quota, ts.agg, ts.log)

	ts.handler = NewHandler(Dependencies{
		Config:     cfg,
		Activity:   ts.log,
		Statistics: ts.agg,
		Verifier:   auth.NewVerifier([]config.UserCredential{{Email: testEmail, PasswordHash: hash}}),
		Generator:  ts.generator,
		Cache:      cacheClient,
		Metrics:    m,
	})
	ts.router = NewRouter(ts.handler, RouterConfig{
		Governor:      middleware.NewGovernor(controller, ledger, ts.log, m),
		Admin:         middleware.NewAdminAuth(testAdminKey, true),
		Metrics:       m.Handler(),
		AllowedOrigin: "*",
	})
	return ts
}

func (ts *testServer) do(method, path, identity string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "10.1.2.3:4000"
	req.Header.Set("Content-Type", "application/json")
	if identity != "" {
		req.Header.Set(middleware.HeaderUserEmail, identity)
	}
	if strings.HasPrefix(path, "/api/admin") {
		req.Header.Set("X-Admin-Key", testAdminKey)
	}
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	return rr
}

func samplePaper() model.PaperRequest {
	return model.PaperRequest{
		Subject:         "Mathematics",
		ClassName:       "Grade 8",
		Curriculum:      "CBSE",
		QuestionDetails: []model.QuestionDetail{{Type: "MCQ", Num: 10}, {Type: "Short", Num: 5}},
		DifficultySplit: "30-50-20",
		TimeDuration:    "90",
	}
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		expected int
		action   string
	}{
		{"valid credentials", testEmail, testPassword, http.StatusOK, model.ActionLoginSuccess},
		{"email is case-insensitive", "Teacher@School.ORG", testPassword, http.StatusOK, model.ActionLoginSuccess},
		{"wrong password", testEmail, "nope", http.StatusUnauthorized, model.ActionLoginFailed},
		{"unknown user", "other@school.org", testPassword, http.StatusUnauthorized, model.ActionLoginFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupTestServer(t)
			rr := ts.do("POST", "/api/login", "", model.LoginRequest{Email: tt.email, Password: tt.password})

			if rr.Code != tt.expected {
				t.Fatalf("Expected %d, got %d: %s", tt.expected, rr.Code, rr.Body.String())
			}
			events := ts.log.Tail(0)
			if len(events) != 1 || !strings.HasPrefix(events[0].Action, tt.action) {
				t.Fatalf("Expected one %q event, got %v", tt.action, events)
			}
			if events[0].Identity != strings.ToLower(tt.email) {
				t.Errorf("Expected event identity %q, got %q", strings.ToLower(tt.email), events[0].Identity)
			}
		})
	}
}

func TestLoginSuccessCountsLogins(t *testing.T) {
	ts := setupTestServer(t)
	for i := 0; i < 3; i++ {
		ts.do("POST", "/api/login", "", model.LoginRequest{Email: testEmail, Password: testPassword})
	}
	ts.do("POST", "/api/login", "", model.LoginRequest{Email: testEmail, Password: "wrong"})

	s, ok := ts.agg.UserStatistics(testEmail)
	if !ok || s.TotalLogins != 3 {
		t.Errorf("Expected 3 logins, got %+v", s)
	}
}

func TestGeneratePaper(t *testing.T) {
	ts := setupTestServer(t)
	rr := ts.do("POST", "/api/generate", testEmail, samplePaper())

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp model.PaperResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Subject != "Mathematics" || resp.Tokens != 120 {
		t.Errorf("Unexpected response: %+v", resp)
	}

	s, ok := ts.agg.UserStatistics(testEmail)
	if !ok {
		t.Fatal("Expected statistics for the caller")
	}
	if s.TotalPapersGenerated != 1 || s.TokensUsed != 120 || s.AvgQuestionsPerPaper != 15 {
		t.Errorf("Unexpected statistics: %+v", s)
	}
	if s.Subjects["Mathematics"] != 1 || s.QuestionTypes["MCQ"] != 10 {
		t.Errorf("Unexpected tables: %+v %+v", s.Subjects, s.QuestionTypes)
	}
}

func TestGeneratePaperFailures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		nilGen   bool
		body     interface{}
		expected int
		action   string
	}{
		{"timeout", fmt.Errorf("gemini: %w", context.DeadlineExceeded), false, samplePaper(), http.StatusGatewayTimeout, "Generate Failed - Timeout"},
		{"provider error", errors.New("upstream 500"), false, samplePaper(), http.StatusBadGateway, "Generate Failed - Provider Error"},
		{"no provider", nil, true, samplePaper(), http.StatusServiceUnavailable, "Generate Failed - Provider Unavailable"},
		{"invalid request", nil, false, model.PaperRequest{Subject: "Math"}, http.StatusBadRequest, "Generate Failed - Invalid Request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupTestServer(t)
			ts.generator.err = tt.err
			if tt.nilGen {
				ts.handler.generator = nil
			}

			rr := ts.do("POST", "/api/generate", testEmail, tt.body)
			if rr.Code != tt.expected {
				t.Fatalf("Expected %d, got %d", tt.expected, rr.Code)
			}

			events, _ := ts.log.Filter(testEmail, tt.action, 0)
			if len(events) != 1 {
				t.Errorf("Expected one %q event, got %v", tt.action, ts.log.Tail(0))
			}
			if s, ok := ts.agg.UserStatistics(testEmail); ok && s.TotalPapersGenerated != 0 {
				t.Error("Failed generations must not count as papers")
			}
		})
	}
}

func TestGenerateQuotaFlow(t *testing.T) {
	ts := setupTestServer(t)
	u := model.NewUserStatistics(testEmail)
	u.TotalPapersGenerated = 19
	ts.agg.Restore(map[string]*model.UserStatistics{testEmail: u})

	rr := ts.do("POST", "/api/generate", testEmail, samplePaper())
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected the 20th paper to be allowed, got %d", rr.Code)
	}
	if events, _ := ts.log.Filter(testEmail, model.ActionQuotaApproaching, 0); len(events) != 1 {
		t.Errorf("Expected an Approaching Quota event, got %d", len(events))
	}

	rr = ts.do("POST", "/api/generate", testEmail, samplePaper())
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429 once the quota is used, got %d", rr.Code)
	}
	var body model.ErrorResponse
	json.NewDecoder(rr.Body).Decode(&body)
	if body.ErrorCode != quota.ErrorCode || body.Quota == nil || body.Quota.Used != 20 {
		t.Errorf("Unexpected quota body: %+v", body)
	}
	if ts.generator.calls != 1 {
		t.Errorf("Expected the provider to be called once, got %d", ts.generator.calls)
	}

	// Reset restores the quota
	rr = ts.do("POST", "/api/admin/users/"+testEmail+"/reset", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected reset 200, got %d", rr.Code)
	}
	rr = ts.do("POST", "/api/generate", testEmail, samplePaper())
	if rr.Code != http.StatusOK {
		t.Errorf("Expected generation after reset, got %d", rr.Code)
	}
}

func TestGenerateRequiresIdentity(t *testing.T) {
	ts := setupTestServer(t)
	rr := ts.do("POST", "/api/generate", "", samplePaper())
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rr.Code)
	}
	if ts.generator.calls != 0 {
		t.Error("Provider must not be called without an identity")
	}
}

func TestDownloadPaper(t *testing.T) {
	ts := setupTestServer(t)
	rr := ts.do("POST", "/api/download", testEmail, model.DownloadRequest{
		Subject:   "Mathematics",
		ClassName: "Grade 8",
		Content:   "1. What is 2 + 2?",
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Disposition"); got != `attachment; filename="Mathematics_Grade_8_question_paper.txt"` {
		t.Errorf("Unexpected Content-Disposition %q", got)
	}
	if !strings.Contains(rr.Body.String(), "What is 2 + 2?") {
		t.Errorf("Expected paper content, got %q", rr.Body.String())
	}
	if s, _ := ts.agg.UserStatistics(testEmail); s == nil || s.TotalDownloads != 1 {
		t.Errorf("Expected one download, got %+v", s)
	}

	rr = ts.do("POST", "/api/download", testEmail, model.DownloadRequest{Subject: "Math"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty content, got %d", rr.Code)
	}
	if events, _ := ts.log.Filter(testEmail, model.ActionDownloadFailed, 0); len(events) != 1 {
		t.Errorf("Expected a Download Failed event, got %d", len(events))
	}
}

func TestMyStatistics(t *testing.T) {
	ts := setupTestServer(t)

	rr := ts.do("GET", "/api/stats/me", "new@school.org", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var s model.UserStatistics
	json.NewDecoder(rr.Body).Decode(&s)
	if s.Identity != "new@school.org" || s.TotalPapersGenerated != 0 {
		t.Errorf("Expected empty statistics, got %+v", s)
	}
}

func TestAdminAnalytics(t *testing.T) {
	ts := setupTestServer(t)
	for _, id := range []string{"a@school.org", "a@school.org", "b@school.org"} {
		ts.do("POST", "/api/generate", id, samplePaper())
	}
	ts.do("POST", "/api/download", "a@school.org", model.DownloadRequest{Content: "x"})

	rr := ts.do("GET", "/api/admin/analytics", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Cache") != "MISS" {
		t.Error("Expected first read to miss the cache")
	}
	var a model.AggregateAnalytics
	json.NewDecoder(rr.Body).Decode(&a)
	if a.TotalUsers != 2 || a.TotalPapersGenerated != 3 || a.TotalDownloads != 1 {
		t.Errorf("Unexpected aggregate: %+v", a)
	}
	if len(a.TopUsers) == 0 || a.TopUsers[0].Name != "a@school.org" {
		t.Errorf("Unexpected top users: %+v", a.TopUsers)
	}

	rr = ts.do("GET", "/api/admin/analytics", "", nil)
	if rr.Header().Get("X-Cache") != "HIT" {
		t.Error("Expected second read to hit the cache")
	}

	// New activity invalidates the cached aggregate
	ts.do("POST", "/api/generate", "b@school.org", samplePaper())
	rr = ts.do("GET", "/api/admin/analytics", "", nil)
	json.NewDecoder(rr.Body).Decode(&a)
	if rr.Header().Get("X-Cache") != "MISS" || a.TotalPapersGenerated != 4 {
		t.Errorf("Expected a fresh aggregate, got %s %d", rr.Header().Get("X-Cache"), a.TotalPapersGenerated)
	}
}

func TestAdminUsers(t *testing.T) {
	ts := setupTestServer(t)
	ts.do("POST", "/api/generate", "a@school.org", samplePaper())
	ts.do("POST", "/api/generate", "b@school.org", samplePaper())
	ts.do("POST", "/api/generate", "b@school.org", samplePaper())

	rr := ts.do("GET", "/api/admin/users", "", nil)
	var list UserListResponse
	json.NewDecoder(rr.Body).Decode(&list)
	if list.Total != 2 || list.Users[0].Identity != "b@school.org" {
		t.Errorf("Expected users ordered by papers, got %+v", list)
	}

	if rr := ts.do("GET", "/api/admin/users/a@school.org", "", nil); rr.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rr.Code)
	}
	if rr := ts.do("GET", "/api/admin/users/ghost@school.org", "", nil); rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rr.Code)
	}
	if rr := ts.do("POST", "/api/admin/users/ghost@school.org/reset", "", nil); rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 on reset, got %d", rr.Code)
	}
}

func TestAdminActivity(t *testing.T) {
	ts := setupTestServer(t)
	ts.do("POST", "/api/login", "", model.LoginRequest{Email: testEmail, Password: testPassword})
	ts.do("POST", "/api/generate", testEmail, samplePaper())
	ts.do("POST", "/api/generate", "other@school.org", samplePaper())

	tests := []struct {
		query    string
		expected int
	}{
		{"", 3},
		{"?identity=" + testEmail, 2},
		{"?action=generated", 2},
		{"?action=LOGIN", 1},
		{"?limit=1", 1},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rr := ts.do("GET", "/api/admin/activity"+tt.query, "", nil)
			var resp model.ActivityListResponse
			json.NewDecoder(rr.Body).Decode(&resp)
			if len(resp.Activities) != tt.expected {
				t.Errorf("Expected %d events, got %d", tt.expected, len(resp.Activities))
			}
		})
	}
}

func TestAdminRequiresKey(t *testing.T) {
	ts := setupTestServer(t)
	req := httptest.NewRequest("GET", "/api/admin/analytics", nil)
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without admin key, got %d", rr.Code)
	}
}

func TestExportAnalytics(t *testing.T) {
	ts := setupTestServer(t)
	ts.do("POST", "/api/generate", "a@school.org", samplePaper())
	ts.do("POST", "/api/generate", "b@school.org", samplePaper())

	rr := ts.do("GET", "/api/admin/export", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("Content-Disposition"), ".xlsx") {
		t.Errorf("Unexpected Content-Disposition %q", rr.Header().Get("Content-Disposition"))
	}

	f, err := excelize.OpenReader(bytes.NewReader(rr.Body.Bytes()))
	if err != nil {
		t.Fatalf("Failed to open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(usersSheet)
	if err != nil {
		t.Fatalf("Failed to read users sheet: %v", err)
	}
	if len(rows) != 3 || rows[0][0] != "Identity" {
		t.Errorf("Expected header plus 2 users, got %v", rows)
	}
	if rows[1][6] != "Mathematics" {
		t.Errorf("Expected top subject column, got %v", rows[1])
	}

	summary, err := f.GetRows(summarySheet)
	if err != nil || len(summary) < 2 || summary[1][0] != "Total Users" || summary[1][1] != "2" {
		t.Errorf("Unexpected summary sheet: %v (%v)", summary, err)
	}
}

func TestHealthCheck(t *testing.T) {
	ts := setupTestServer(t)
	ts.handler.flusher = staticStatus{LastFlush: time.Now(), Backend: "file", PendingEvents: 3}

	rr := ts.do("GET", "/health", "", nil)
	var resp model.HealthResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if rr.Code != http.StatusOK || resp.Status != "healthy" || resp.Backend != "file" || resp.Pending != 3 {
		t.Errorf("Unexpected health: %d %+v", rr.Code, resp)
	}
	if resp.Redis != "disabled" {
		t.Errorf("Expected redis disabled, got %q", resp.Redis)
	}

	ts.handler.flusher = staticStatus{Backend: "file", LastError: "disk full"}
	rr = ts.do("GET", "/health", "", nil)
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Status != "degraded" {
		t.Errorf("Expected degraded status, got %q", resp.Status)
	}
}

func TestCacheMetricsDisabled(t *testing.T) {
	ts := setupTestServer(t)
	ts.handler.config.Cache.Enabled = false

	rr := ts.do("GET", "/cache/metrics", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	ts.do("POST", "/api/generate", testEmail, samplePaper())

	rr := ts.do("GET", "/metrics", "", nil)
	if !strings.Contains(rr.Body.String(), "airivu_admissions_total") {
		t.Error("Expected admission metrics in the exposition")
	}
}

type staticStatus storage.Status

func (s staticStatus) Status() storage.Status {
	return storage.Status(s)
}
