package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/catalogqa/internal/advisor"
	"github.com/MikeSquared-Agency/catalogqa/internal/apperr"
	"github.com/MikeSquared-Agency/catalogqa/internal/catalog"
	"github.com/MikeSquared-Agency/catalogqa/internal/extractor"
	"github.com/MikeSquared-Agency/catalogqa/internal/gateway"
	"github.com/MikeSquared-Agency/catalogqa/internal/processor"
	"github.com/MikeSquared-Agency/catalogqa/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	ctx := context.Background()
	logger := discardLogger()

	cat, err := catalog.OpenSQLite(ctx, ":memory:", "", logger)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(cat.Close)
	if err := cat.SeedDemo(ctx); err != nil {
		t.Fatalf("SeedDemo: %v", err)
	}

	store := session.NewStore(session.Config{}, logger)
	proc := processor.New(store, gateway.New(nil, gateway.Config{}, logger), extractor.New(logger), advisor.New(logger), cat, logger)
	return NewServer(cfg, proc, store, cat, logger)
}

type response struct {
	Errno  int             `json:"errno"`
	Errmsg string          `json:"errmsg"`
	Data   json.RawMessage `json:"data"`
}

func do(t *testing.T, srv *Server, method, path, body string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	var resp response
	if strings.HasPrefix(path, "/api/") {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode envelope %q: %v", w.Body.String(), err)
		}
	}
	return w, resp
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{})

	w, _ := do(t, srv, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{})

	w, resp := do(t, srv, "GET", "/api/v1/status", "")
	if w.Code != http.StatusOK || resp.Errno != 0 || resp.Errmsg != "success" {
		t.Fatalf("unexpected response %d %+v", w.Code, resp)
	}
	var data struct {
		Service  string `json:"service"`
		Provider string `json:"provider"`
		Mock     bool   `json:"mock"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		t.Fatalf("failed to decode data: %v", err)
	}
	if data.Service != "catalogqa" || data.Provider != "mock" || !data.Mock {
		t.Errorf("unexpected status %+v", data)
	}
}

func TestAskEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{})

	w, resp := do(t, srv, "POST", "/api/v1/goods/ask", `{"question":"便宜的手机有哪些"}`)
	if w.Code != http.StatusOK || resp.Errno != 0 {
		t.Fatalf("unexpected response %d %+v", w.Code, resp)
	}
	var data struct {
		Answer      string           `json:"answer"`
		Goods       []map[string]any `json:"goods"`
		SessionID   string           `json:"sessionId"`
		FromCache   bool             `json:"fromCache"`
		QueryIntent struct {
			QueryType string `json:"query_type"`
		} `json:"queryIntent"`
		Quantity int `json:"quantity"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		t.Fatalf("failed to decode data: %v", err)
	}
	if data.SessionID == "" {
		t.Error("expected a session id")
	}
	if data.QueryIntent.QueryType != "price_range" {
		t.Errorf("expected price_range, got %q", data.QueryIntent.QueryType)
	}
	if len(data.Goods) != 5 || data.Goods[0]["name"] != "老人机 功能机" {
		t.Errorf("unexpected goods %v", data.Goods)
	}
	if !strings.Contains(data.Answer, "为您找到 5 个商品") {
		t.Errorf("unexpected answer %q", data.Answer)
	}

	// The session is now visible and can be removed.
	w, resp = do(t, srv, "GET", "/api/v1/sessions/"+data.SessionID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected session, got %d", w.Code)
	}
	var snap struct {
		Turns []struct {
			Question string `json:"question"`
		} `json:"turns"`
	}
	json.Unmarshal(resp.Data, &snap)
	if len(snap.Turns) != 1 || snap.Turns[0].Question != "便宜的手机有哪些" {
		t.Errorf("unexpected turns %+v", snap.Turns)
	}

	if w, _ := do(t, srv, "DELETE", "/api/v1/sessions/"+data.SessionID, ""); w.Code != http.StatusOK {
		t.Errorf("expected delete to succeed, got %d", w.Code)
	}
	if w, resp := do(t, srv, "GET", "/api/v1/sessions/"+data.SessionID, ""); w.Code != http.StatusNotFound || resp.Errno != 404 {
		t.Errorf("expected 404 after delete, got %d %+v", w.Code, resp)
	}
}

func TestAskEndpoint_SessionHeader(t *testing.T) {
	srv := newTestServer(t, Config{})

	req := httptest.NewRequest("POST", "/api/v1/goods/ask", strings.NewReader(`{"question":"统计商品总数"}`))
	req.Header.Set("X-Session-Id", "from-header")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	var resp response
	json.Unmarshal(w.Body.Bytes(), &resp)
	var data struct {
		SessionID string `json:"sessionId"`
	}
	json.Unmarshal(resp.Data, &data)
	if data.SessionID != "from-header" {
		t.Errorf("expected session from header, got %q", data.SessionID)
	}
}

func TestAskEndpoint_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		errno  int
		msg    string
	}{
		{"empty question", `{"question":""}`, http.StatusBadRequest, 401, "invalid request: question"},
		{"malformed body", `{"question":`, http.StatusBadRequest, 401, "invalid request: body"},
		{"oversized body", `{"question":"` + strings.Repeat("a", maxBodyBytes) + `"}`, http.StatusBadRequest, 401, "invalid request: body"},
	}

	srv := newTestServer(t, Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := do(t, srv, "POST", "/api/v1/goods/ask", tt.body)
			if w.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, w.Code)
			}
			if resp.Errno != tt.errno || resp.Errmsg != tt.msg {
				t.Errorf("expected %d %q, got %d %q", tt.errno, tt.msg, resp.Errno, resp.Errmsg)
			}
			if len(resp.Data) != 0 {
				t.Errorf("errors carry no data, got %s", resp.Data)
			}
		})
	}
}

type failingAsker struct{ err error }

func (f failingAsker) Ask(context.Context, processor.Request) (*processor.Answer, error) {
	return nil, f.err
}

func (failingAsker) Provider() string { return "fake" }

func TestAskEndpoint_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		errno      int
		retryAfter string
	}{
		{"unavailable", apperr.ServiceUnavailable("anthropic", 30*time.Second, errors.New("upstream 529")), http.StatusServiceUnavailable, 503, "30"},
		{"unparseable", apperr.OutputParse("no payload", nil), http.StatusUnprocessableEntity, 422, ""},
		{"compile", apperr.SQLGeneration("price_range", "conditions.x", "unsupported"), http.StatusInternalServerError, 502, ""},
		{"uncategorized", errors.New("pq: relation does not exist"), http.StatusInternalServerError, 502, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := session.NewStore(session.Config{}, discardLogger())
			srv := NewServer(Config{}, failingAsker{tt.err}, store, nil, discardLogger())

			w, resp := do(t, srv, "POST", "/api/v1/goods/ask", `{"question":"手机"}`)
			if w.Code != tt.status || resp.Errno != tt.errno {
				t.Errorf("expected %d/%d, got %d/%d", tt.status, tt.errno, w.Code, resp.Errno)
			}
			if got := w.Header().Get("Retry-After"); got != tt.retryAfter {
				t.Errorf("expected Retry-After %q, got %q", tt.retryAfter, got)
			}
			for _, leak := range []string{"upstream 529", "pq:", "no payload"} {
				if strings.Contains(w.Body.String(), leak) {
					t.Errorf("response leaks %q: %s", leak, w.Body.String())
				}
			}
		})
	}
}

func TestCatalogStatsEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{})

	w, resp := do(t, srv, "GET", "/api/v1/catalog/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var sum catalog.Summary
	if err := json.Unmarshal(resp.Data, &sum); err != nil {
		t.Fatalf("failed to decode summary: %v", err)
	}
	if sum.TotalCount != 10 || sum.Stock.TotalStock != 920 || len(sum.Categories) != 3 {
		t.Errorf("unexpected summary %+v", sum)
	}
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, Config{RatePerSecond: 0.01, Burst: 2})

	for i := 0; i < 2; i++ {
		if w, _ := do(t, srv, "GET", "/api/v1/status", ""); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}
	w, resp := do(t, srv, "GET", "/api/v1/status", "")
	if w.Code != http.StatusTooManyRequests || resp.Errno != 429 {
		t.Fatalf("expected 429, got %d %+v", w.Code, resp)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected a Retry-After header")
	}

	// Health checks are never limited.
	if w, _ := do(t, srv, "GET", "/health", ""); w.Code != http.StatusOK {
		t.Errorf("expected health to bypass the limiter, got %d", w.Code)
	}
}

func TestClientLimiter_PerClient(t *testing.T) {
	l := newClientLimiter(1, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if ok, _, _ := l.allow("a"); !ok {
		t.Fatal("first request from a should pass")
	}
	ok, _, wait := l.allow("a")
	if ok || wait <= 0 || wait > time.Second {
		t.Errorf("expected a to wait up to 1s, got ok=%v wait=%v", ok, wait)
	}
	if ok, _, _ := l.allow("b"); !ok {
		t.Error("b has its own bucket")
	}

	now = now.Add(time.Second)
	if ok, _, _ := l.allow("a"); !ok {
		t.Error("a should have a token after a second")
	}

	now = now.Add(visitorIdle + 2*time.Minute)
	l.allow("c")
	if _, kept := l.visitors["a"]; kept {
		t.Error("idle visitors should be pruned")
	}
}

func TestClientLimiter_ReportsUsage(t *testing.T) {
	l := newClientLimiter(1, 3)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i, want := range []int{1, 2, 3} {
		ok, used, _ := l.allow("a")
		if !ok || used != want {
			t.Errorf("request %d: expected ok with %d used, got ok=%v used=%d", i, want, ok, used)
		}
	}
	if ok, used, _ := l.allow("a"); ok || used != 3 {
		t.Errorf("expected a denial with the burst spent, got ok=%v used=%d", ok, used)
	}

	// Two tokens refill; a denied request never consumes one.
	now = now.Add(2 * time.Second)
	if ok, used, _ := l.allow("a"); !ok || used != 2 {
		t.Errorf("expected ok with 2 used after the refill, got ok=%v used=%d", ok, used)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{})

	w, _ := do(t, srv, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "catalogqa_session_active") {
		t.Error("expected catalogqa metrics to be exported")
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{})

	req := httptest.NewRequest("GET", "/nonexistent", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
