package catalog

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MikeSquared-Agency/catalogqa/internal/intent"
)

func newDemoCatalog(t *testing.T) *Catalog {
	t.Helper()
	ctx := context.Background()
	c, err := OpenSQLite(ctx, ":memory:", "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(c.Close)
	if err := c.SeedDemo(ctx); err != nil {
		t.Fatalf("SeedDemo: %v", err)
	}
	return c
}

func names(rows []Record) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Text("name")
	}
	return out
}

func TestRun_CheapPhones(t *testing.T) {
	c := newDemoCatalog(t)
	in, err := intent.Parse(`{"query_type":"price_range","conditions":{"max_price":500,"is_on_sale":1},"sort":"price ASC"}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	q, err := c.Compiler().Compile(in)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	rows, err := c.Run(context.Background(), q)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"老人机 功能机", "小米蓝牙耳机", "西湖龙井茶叶礼盒", "华为畅享 60 手机", "小米 Redmi 13C 手机"}
	if diff := cmp.Diff(want, names(rows)); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	if got := rows[0].Float("retail_price"); got != 129 {
		t.Errorf("expected price 129, got %v", got)
	}
}

func TestRun_SkipsDeletedAndOffSale(t *testing.T) {
	c := newDemoCatalog(t)
	in, _ := intent.KeywordIntent("手机")
	q, _ := c.Compiler().Compile(in)

	rows, err := c.Run(context.Background(), q)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, r := range rows {
		if id := r.Int("id"); id == 11 || id == 12 {
			t.Errorf("unexpected row %d (%s)", id, r.Text("name"))
		}
	}
}

func TestRun_RegexPostFilter(t *testing.T) {
	c := newDemoCatalog(t)
	in, err := intent.New(intent.NamePattern).
		Where("name", intent.Pattern{Pattern: `^iphone\s\d+`, Mode: intent.ModeRegex}).
		Limit(1).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	q, err := c.Compiler().Compile(in)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	rows, err := c.Run(context.Background(), q)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{"iPhone 15"}, names(rows)); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_CaseSensitiveRegexMissesLowercase(t *testing.T) {
	c := newDemoCatalog(t)
	in, _ := intent.New(intent.NamePattern).
		Where("name", intent.Pattern{Pattern: `^iphone`, Mode: intent.ModeRegex, CaseSensitive: true}).
		Build()
	q, _ := c.Compiler().Compile(in)

	rows, err := c.Run(context.Background(), q)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %v", names(rows))
	}
}

func TestRun_NamePatternCase(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		mode    intent.Mode
		cs      bool
		want    []string
	}{
		{"folded contains", "IPHONE", intent.ModeContains, false, []string{"iPhone 15", "iPhone 15 Pro"}},
		{"sensitive contains misses", "IPHONE", intent.ModeContains, true, []string{}},
		{"sensitive contains hits", "iPhone", intent.ModeContains, true, []string{"iPhone 15", "iPhone 15 Pro"}},
		{"sensitive starts with misses", "airpods", intent.ModeStartsWith, true, []string{}},
		{"sensitive ends with hits", "Pro", intent.ModeEndsWith, true, []string{"AirPods Pro", "iPhone 15 Pro"}},
	}

	c := newDemoCatalog(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := intent.NamePatternIntent(tt.pattern, tt.mode, tt.cs)
			if err != nil {
				t.Fatalf("NamePatternIntent: %v", err)
			}
			q, err := c.Compiler().Compile(in)
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			rows, err := c.Run(context.Background(), q)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			got := names(rows)
			slices.Sort(got)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("rows mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDirectReads(t *testing.T) {
	c := newDemoCatalog(t)
	ctx := context.Background()

	total, err := c.TotalCount(ctx)
	if err != nil {
		t.Fatalf("TotalCount: %v", err)
	}
	if total != 10 {
		t.Errorf("expected 10 on-sale goods, got %d", total)
	}

	price, err := c.PriceRange(ctx)
	if err != nil {
		t.Fatalf("PriceRange: %v", err)
	}
	if price.Min != 129 || price.Max != 7999 {
		t.Errorf("expected 129..7999, got %v..%v", price.Min, price.Max)
	}

	stock, err := c.StockSummary(ctx)
	if err != nil {
		t.Fatalf("StockSummary: %v", err)
	}
	if stock.TotalStock != 920 || stock.Count != 10 || stock.AvgStock != 92 {
		t.Errorf("unexpected stock summary %+v", stock)
	}

	cats, err := c.CategoryStats(ctx)
	if err != nil {
		t.Fatalf("CategoryStats: %v", err)
	}
	want := []CategoryCount{{1, 6}, {2, 3}, {3, 1}}
	if diff := cmp.Diff(want, cats); diff != "" {
		t.Errorf("category stats mismatch (-want +got):\n%s", diff)
	}
}

func TestByID(t *testing.T) {
	c := newDemoCatalog(t)
	ctx := context.Background()

	r, ok, err := c.ByID(ctx, 3)
	if err != nil || !ok {
		t.Fatalf("ByID(3): ok=%v err=%v", ok, err)
	}
	if r.Text("name") != "iPhone 15 Pro" {
		t.Errorf("expected iPhone 15 Pro, got %q", r.Text("name"))
	}

	for _, id := range []int{11, 12, 999} {
		if _, ok, err := c.ByID(ctx, id); ok || err != nil {
			t.Errorf("ByID(%d): expected not found, got ok=%v err=%v", id, ok, err)
		}
	}
}

func TestKeywordSearch(t *testing.T) {
	c := newDemoCatalog(t)
	rows, err := c.KeywordSearch(context.Background(), "华为", 10)
	if err != nil {
		t.Fatalf("KeywordSearch: %v", err)
	}
	want := []string{"华为畅享 60 手机", "华为 FreeBuds 耳机", "华为 Mate 60 Pro 手机"}
	if diff := cmp.Diff(want, names(rows)); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestRecord_MarshalKeepsColumnOrder(t *testing.T) {
	r := Record{{"id", int64(1)}, {"name", "手机"}, {"retail_price", 399.0}}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if got := string(data); got != `{"id":1,"name":"手机","retail_price":399}` {
		t.Errorf("unexpected JSON %s", got)
	}
}

func TestRecord_UnmarshalKeepsColumnOrder(t *testing.T) {
	var r Record
	if err := json.Unmarshal([]byte(`{"name":"手机","id":1,"retail_price":399.5,"brief":null}`), &r); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	want := Record{{"name", "手机"}, {"id", int64(1)}, {"retail_price", 399.5}, {"brief", nil}}
	if diff := cmp.Diff(want, r); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}

	var rows []Record
	if err := json.Unmarshal([]byte(`[{"a":1},{"b":"x"}]`), &rows); err != nil {
		t.Fatalf("Unmarshal slice: %v", err)
	}
	if len(rows) != 2 || rows[0].Int("a") != 1 || rows[1].Text("b") != "x" {
		t.Errorf("unexpected rows %v", rows)
	}

	if err := json.Unmarshal([]byte(`[1,2]`), &r); err == nil {
		t.Error("expected error for non-object record")
	}
}

func TestRecord_Accessors(t *testing.T) {
	r := Record{{"n", int64(7)}, {"f", 2.5}, {"s", "12"}, {"nil", nil}}
	if r.Int("n") != 7 || r.Float("n") != 7 {
		t.Error("int accessors")
	}
	if r.Float("f") != 2.5 || r.Int("f") != 2 {
		t.Error("float accessors")
	}
	if r.Int("s") != 12 || r.Text("s") != "12" {
		t.Error("string accessors")
	}
	if r.Text("nil") != "" || r.Text("missing") != "" {
		t.Error("missing values should render empty")
	}
}

func TestSeedDemo_Idempotent(t *testing.T) {
	c := newDemoCatalog(t)
	if err := c.SeedDemo(context.Background()); err != nil {
		t.Fatalf("second SeedDemo: %v", err)
	}
	total, _ := c.TotalCount(context.Background())
	if total != 10 {
		t.Errorf("expected 10 goods after reseed, got %d", total)
	}
}

func TestOpen_PicksBackend(t *testing.T) {
	c, err := Open(context.Background(), "sqlite://:memory:", "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()
	if !strings.Contains(c.Compiler().Dialect().String(), "sqlite") {
		t.Errorf("expected sqlite dialect, got %s", c.Compiler().Dialect())
	}
}
