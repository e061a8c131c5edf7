package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/catalogqa/internal/extractor"
	"github.com/MikeSquared-Agency/catalogqa/internal/intent"
)

// Recommendation sizes open-ended "what do you suggest" questions. It is not a
// compilable query type.
const Recommendation intent.QueryType = "recommendation"

const (
	defaultBase = 15
	floor       = 1
	ceiling     = 100
)

var baseByType = map[intent.QueryType]int{
	intent.SpecificProduct: 5,
	intent.PriceRange:      20,
	Recommendation:         30,
	intent.CategoryFilter:  50,
	intent.Statistical:     100,
	intent.KeywordSearch:   25,
}

// Per-type ceilings tighter than the global one.
var ceilingByType = map[intent.QueryType]int{
	intent.SpecificProduct: 10,
}

var typeLabels = map[intent.QueryType]string{
	intent.SpecificProduct: "特定商品查询",
	intent.PriceRange:      "价格范围查询",
	Recommendation:         "个性化推荐",
	intent.CategoryFilter:  "类目浏览",
	intent.Statistical:     "统计查询",
	intent.KeywordSearch:   "关键词搜索",
	intent.NamePattern:     "名称匹配",
	intent.StockCheck:      "库存查询",
}

type rule struct {
	words  []string
	target int
	grow   bool
	reason string
}

// Rules are evaluated in order against the base count; the last match wins.
var rules = []rule{
	{[]string{"最好的", "推荐", "精选", "优质", "高质量"}, 10, false, "精选推荐"},
	{[]string{"便宜的", "实惠的", "性价比"}, 15, false, "性价比推荐"},
	{[]string{"几个", "一些", "几款"}, 8, false, "少量选择"},
	{[]string{"所有", "全部", "列表", "浏览", "看看"}, 30, true, "浏览更多"},
	{[]string{"多", "很多", "大量", "丰富"}, 40, true, "需要更多选择"},
	{[]string{"比较", "对比", "挑选", "选择"}, 20, true, "对比挑选"},
	{[]string{"送礼", "礼物", "礼品"}, 12, false, "送礼精选"},
	{[]string{"爆款", "热门", "畅销", "流行"}, 15, false, "热门推荐"},
}

// Completer is the slice of the model gateway the advisor needs.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Suggestion is the advisor's answer for one question.
type Suggestion struct {
	Base        int    `json:"base"`
	Heuristic   int    `json:"heuristic"`
	Final       int    `json:"final"`
	Reason      string `json:"reason"`
	Overridden  bool   `json:"overridden"`
	Explanation string `json:"explanation"`
}

type Advisor struct {
	model   Completer
	timeout time.Duration
	ext     *extractor.Extractor
	logger  *slog.Logger
}

type Option func(*Advisor)

// WithModel lets a model confirm or override the heuristic. Each call is
// bounded by timeout.
func WithModel(m Completer, timeout time.Duration) Option {
	return func(a *Advisor) {
		a.model = m
		if timeout > 0 {
			a.timeout = timeout
		}
	}
}

func New(logger *slog.Logger, opts ...Option) *Advisor {
	a := &Advisor{logger: logger, ext: extractor.New(logger), timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Heuristic sizes the result window from the query type and keyword cues in
// the question.
func Heuristic(qt intent.QueryType, question string) Suggestion {
	base, ok := baseByType[qt]
	if !ok {
		base = defaultBase
	}
	q := strings.ToLower(question)

	n, reason := base, "基础数量"
	for _, r := range rules {
		if !containsAny(q, r.words) {
			continue
		}
		if r.grow {
			n = max(base, r.target)
		} else {
			n = min(base, r.target)
		}
		reason = r.reason
	}
	n = clamp(qt, n)

	return Suggestion{
		Base:        base,
		Heuristic:   n,
		Final:       n,
		Reason:      reason,
		Explanation: Explain(n, qt),
	}
}

// Suggest runs the heuristic and, when a model is configured, lets it
// confirm or override. Model failures fall back to the heuristic silently.
func (a *Advisor) Suggest(ctx context.Context, qt intent.QueryType, question, preferences string) Suggestion {
	s := Heuristic(qt, question)
	if a.model == nil {
		return s
	}

	final, reason, ok := a.askModel(ctx, qt, question, preferences, s)
	if !ok {
		return s
	}
	final = clamp(qt, final)
	if final != s.Heuristic {
		s.Final = final
		s.Reason = reason
		s.Overridden = true
		s.Explanation = Explain(final, qt)
	}
	return s
}

type decision struct {
	FinalQuantity     int    `json:"finalQuantity"`
	OverrideHeuristic bool   `json:"overrideHeuristic"`
	Reason            string `json:"reason"`
}

func (a *Advisor) askModel(ctx context.Context, qt intent.QueryType, question, preferences string, s Suggestion) (int, string, bool) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	prompt := fmt.Sprintf(quantityPrompt, question, qt, s.Heuristic, s.Reason, preferences)
	raw, err := a.model.Complete(ctx, prompt)
	if err != nil {
		a.logger.Debug("quantity model call failed, using heuristic", "error", err)
		return 0, "", false
	}
	payload, err := a.ext.Extract(raw)
	if err != nil {
		return 0, "", false
	}
	var d decision
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		a.logger.Debug("quantity decision unparseable, using heuristic", "error", err)
		return 0, "", false
	}
	if !d.OverrideHeuristic || d.FinalQuantity <= 0 {
		return 0, "", false
	}
	return d.FinalQuantity, d.Reason, true
}

const quantityPrompt = `你是商品问答系统的数量顾问。根据用户问题判断应展示多少个商品。

用户问题：%s
查询类型：%s
启发式建议：%d（%s）
用户偏好：%s

只输出 JSON：{"finalQuantity": 数量, "overrideHeuristic": true 或 false, "reason": "原因"}`

// Explain describes a window size for the shopper.
func Explain(n int, qt intent.QueryType) string {
	label, ok := typeLabels[qt]
	if !ok {
		label = "通用查询"
	}
	var tier string
	switch {
	case n <= 5:
		tier = "精选推荐"
	case n <= 15:
		tier = "适中选择"
	case n <= 30:
		tier = "丰富选择"
	default:
		tier = "全面展示"
	}
	return fmt.Sprintf("基于%s，建议显示%d个商品（%s）", label, n, tier)
}

func clamp(qt intent.QueryType, n int) int {
	hi := ceiling
	if c, ok := ceilingByType[qt]; ok {
		hi = c
	}
	return max(floor, min(n, hi))
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
