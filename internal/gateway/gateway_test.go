package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/catalogqa/internal/anthropic"
	"github.com/MikeSquared-Agency/catalogqa/internal/apperr"
	"github.com/MikeSquared-Agency/catalogqa/internal/intent"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig() Config {
	return Config{
		MaxAttempts:     3,
		AttemptTimeout:  time.Second,
		TotalBudget:     5 * time.Second,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

type scriptedProvider struct {
	calls   atomic.Int32
	results []error
	reply   string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, prompt string) (string, error) {
	n := int(p.calls.Add(1)) - 1
	if n < len(p.results) && p.results[n] != nil {
		return "", p.results[n]
	}
	return p.reply, nil
}

func TestComplete_MockWhenNoProvider(t *testing.T) {
	g := New(nil, Config{}, discardLogger())
	if !g.Mock() || g.Provider() != "mock" {
		t.Fatalf("expected mock provider, got %s", g.Provider())
	}

	prompt := "系统说明：价格 统计 库存\n\n" + QuestionMarker + "便宜的手机有哪些\n请生成查询意图JSON："
	first, err := g.Complete(context.Background(), prompt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, _ := g.Complete(context.Background(), prompt)
	if first != second {
		t.Error("mock must be deterministic")
	}

	in, err := intent.Parse(first)
	if err != nil {
		t.Fatalf("mock payload does not parse: %v", err)
	}
	if in.Type != intent.PriceRange {
		t.Errorf("expected price_range, got %s", in.Type)
	}
	if v, _ := in.Conditions.Number("max_price"); v != 500 {
		t.Errorf("expected max_price 500, got %v", v)
	}
}

func TestMockRules(t *testing.T) {
	tests := []struct {
		question string
		wantType intent.QueryType
		check    func(t *testing.T, in intent.Intent)
	}{
		{"价格便宜一点的商品", intent.PriceRange, func(t *testing.T, in intent.Intent) {
			if v, _ := in.Conditions.Number("min_price"); v != 100 {
				t.Errorf("expected min_price 100, got %v", v)
			}
		}},
		{"库存充足的商品", intent.StockCheck, func(t *testing.T, in intent.Intent) {
			if v, _ := in.Conditions.Number("min_number"); v != 50 {
				t.Errorf("expected min_number 50, got %v", v)
			}
		}},
		{"少量现货", intent.StockCheck, func(t *testing.T, in intent.Intent) {
			if v, _ := in.Conditions.Number("min_number"); v != 1 {
				t.Errorf("expected min_number 1, got %v", v)
			}
		}},
		{"统计平均价格", intent.Statistical, func(t *testing.T, in intent.Intent) {
			if in.StatisticType() != intent.StatPriceStats {
				t.Errorf("expected price_stats, got %s", in.StatisticType())
			}
		}},
		{"一共有多少种分类", intent.Statistical, func(t *testing.T, in intent.Intent) {
			if in.StatisticType() != intent.StatCategoryStats {
				t.Errorf("expected category_stats, got %s", in.StatisticType())
			}
		}},
		{"商品名包含电脑的", intent.NamePattern, func(t *testing.T, in intent.Intent) {
			p, ok := in.Name()
			if !ok || p.Pattern != "电脑" || p.Mode != intent.ModeContains {
				t.Errorf("unexpected name pattern %+v", p)
			}
		}},
		{"推荐一些热门商品", intent.StockCheck, func(t *testing.T, in intent.Intent) {
			if v, _ := in.Conditions.Number("is_hot"); v != 1 {
				t.Errorf("expected is_hot 1, got %v", v)
			}
		}},
		{"有没有耳机", intent.KeywordSearch, func(t *testing.T, in intent.Intent) {
			if kw, _ := in.Conditions.Text("keyword"); kw != "耳机" {
				t.Errorf("expected keyword 耳机, got %q", kw)
			}
		}},
		{`他说"你好"怎么回事`, intent.KeywordSearch, nil},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			raw, _ := Mock{}.Complete(context.Background(), QuestionMarker+tt.question)
			in, err := intent.Parse(raw)
			if err != nil {
				t.Fatalf("payload does not parse: %v\n%s", err, raw)
			}
			if in.Type != tt.wantType {
				t.Errorf("expected %s, got %s", tt.wantType, in.Type)
			}
			if tt.check != nil {
				tt.check(t, in)
			}
		})
	}
}

func TestMockQuestion(t *testing.T) {
	tests := []struct {
		prompt string
		want   string
	}{
		{"便宜的手机", "便宜的手机"},
		{"说明\n" + QuestionMarker + " 耳机 \n请回答", "耳机"},
		{QuestionMarker + "旧问题\n" + QuestionMarker + "新问题", "新问题"},
	}
	for _, tt := range tests {
		if got := mockQuestion(tt.prompt); got != tt.want {
			t.Errorf("mockQuestion(%q) = %q, want %q", tt.prompt, got, tt.want)
		}
	}
}

func TestComplete_RetriesTransientFailures(t *testing.T) {
	p := &scriptedProvider{
		results: []error{errors.New("connection reset"), &anthropic.StatusError{StatusCode: 503}},
		reply:   "ok",
	}
	g := New(p, fastConfig(), discardLogger())

	out, err := g.Complete(context.Background(), "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok" {
		t.Errorf("expected ok, got %q", out)
	}
	if got := p.calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestComplete_ExhaustionIsServiceUnavailable(t *testing.T) {
	boom := errors.New("upstream down")
	p := &scriptedProvider{results: []error{boom, boom, boom, boom}}
	g := New(p, fastConfig(), discardLogger())

	_, err := g.Complete(context.Background(), "q")
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Kind != apperr.KindServiceUnavailable {
		t.Fatalf("expected ServiceUnavailable, got %v", err)
	}
	if ae.RetryAfter != 60*time.Second {
		t.Errorf("expected default retry-after 60s, got %s", ae.RetryAfter)
	}
	if !errors.Is(err, boom) {
		t.Error("cause should be preserved")
	}
	if got := p.calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestComplete_PermanentErrorNotRetried(t *testing.T) {
	p := &scriptedProvider{results: []error{&anthropic.StatusError{StatusCode: 401, Message: "bad key"}}}
	g := New(p, fastConfig(), discardLogger())

	_, err := g.Complete(context.Background(), "q")
	if !errors.Is(err, apperr.ErrServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable, got %v", err)
	}
	if got := p.calls.Load(); got != 1 {
		t.Errorf("expected a single attempt, got %d", got)
	}
}

func TestComplete_ProviderRetryAfterWins(t *testing.T) {
	limited := &anthropic.StatusError{StatusCode: 429, RetryAfter: 5 * time.Second}
	p := &scriptedProvider{results: []error{limited, limited, limited}}
	g := New(p, fastConfig(), discardLogger())

	_, err := g.Complete(context.Background(), "q")
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected *apperr.Error, got %v", err)
	}
	if ae.RetryAfter != 5*time.Second {
		t.Errorf("expected retry-after 5s, got %s", ae.RetryAfter)
	}
}

type blockingProvider struct{ calls atomic.Int32 }

func (p *blockingProvider) Name() string { return "blocking" }

func (p *blockingProvider) Complete(ctx context.Context, prompt string) (string, error) {
	p.calls.Add(1)
	<-ctx.Done()
	return "", ctx.Err()
}

func TestComplete_PerAttemptTimeout(t *testing.T) {
	p := &blockingProvider{}
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	cfg.AttemptTimeout = 20 * time.Millisecond
	g := New(p, cfg, discardLogger())

	start := time.Now()
	_, err := g.Complete(context.Background(), "q")
	if !errors.Is(err, apperr.ErrServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable, got %v", err)
	}
	if got := p.calls.Load(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("attempt timeout was not enforced")
	}
}

func TestComplete_CancelDuringBackoff(t *testing.T) {
	p := &scriptedProvider{results: []error{errors.New("flaky"), errors.New("flaky")}}
	cfg := fastConfig()
	cfg.InitialInterval = time.Hour
	cfg.MaxInterval = time.Hour
	cfg.TotalBudget = 2 * time.Hour
	g := New(p, cfg, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() {
		_, err := g.Complete(ctx, "q")
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error after cancellation")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("backoff wait ignored cancellation")
	}
	if got := p.calls.Load(); got != 1 {
		t.Errorf("expected 1 attempt before cancel, got %d", got)
	}
}

func TestAnthropicProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []anthropic.Message `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if len(body.Messages) != 1 || !strings.Contains(body.Messages[0].Content, "耳机") {
			t.Errorf("unexpected messages %+v", body.Messages)
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"{\"query_type\":\"unknown\"}"}]}`))
	}))
	defer server.Close()

	client := anthropic.NewClient("key", "claude-test")
	client.SetTestTransport(server.URL)
	g := New(NewAnthropic(client, 0), fastConfig(), discardLogger())

	out, err := g.Complete(context.Background(), "耳机")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"query_type":"unknown"}` {
		t.Errorf("unexpected output %q", out)
	}
}

func TestOpenAIProvider(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		var req struct {
			Model       string  `json:"model"`
			Temperature float64 `json:"temperature"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "qwen-test" {
			t.Errorf("expected model qwen-test, got %q", req.Model)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"好的"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	g := New(NewOpenAI("key", server.URL+"/v1", "qwen-test", 0), fastConfig(), discardLogger())
	out, err := g.Complete(context.Background(), "你好")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "好的" {
		t.Errorf("expected 好的, got %q", out)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("expected the 503 to be retried once, got %d hits", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err       error
		class     string
		retryable bool
	}{
		{context.DeadlineExceeded, "timeout", true},
		{context.Canceled, "canceled", false},
		{&anthropic.StatusError{StatusCode: 429}, "rate_limit", true},
		{&anthropic.StatusError{StatusCode: 403}, "auth", false},
		{&anthropic.StatusError{StatusCode: 502}, "server", true},
		{errors.New("dial tcp: refused"), "transport", true},
	}
	for _, tt := range tests {
		class, retryable := classify(tt.err)
		if class != tt.class || retryable != tt.retryable {
			t.Errorf("classify(%v) = %s/%v, want %s/%v", tt.err, class, retryable, tt.class, tt.retryable)
		}
	}
}
