package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// QuestionMarker precedes the shopper's question in a full prompt. The mock
// matches its rules against the text after the last marker so instruction
// text does not trigger them.
const QuestionMarker = "用户问题："

// Mock answers without a model, picking a canned intent by keyword rules.
// It is deterministic: the same prompt always yields the same payload.
type Mock struct{}

func (Mock) Name() string { return "mock" }

func (Mock) Complete(_ context.Context, prompt string) (string, error) {
	return mockPayload(mockQuestion(prompt)), nil
}

func mockQuestion(prompt string) string {
	i := strings.LastIndex(prompt, QuestionMarker)
	if i < 0 {
		return strings.TrimSpace(prompt)
	}
	q := prompt[i+len(QuestionMarker):]
	if nl := strings.IndexByte(q, '\n'); nl >= 0 {
		q = q[:nl]
	}
	return strings.TrimSpace(q)
}

func has(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func mockPayload(q string) string {
	switch {
	case strings.Contains(q, "价格") && has(q, "便宜", "低", "优惠"):
		return `{
  "query_type": "price_range",
  "conditions": {"min_price": 100, "max_price": 500, "is_on_sale": 1},
  "sort": "retail_price ASC",
  "limit": 10,
  "confidence": 0.95,
  "explanation": "根据用户询问低价商品，推荐100-500元价格区间的商品"
}`

	case has(q, "便宜", "实惠", "低价"):
		return `{
  "query_type": "price_range",
  "conditions": {"max_price": 500, "is_on_sale": 1},
  "sort": "price ASC",
  "confidence": 0.9,
  "explanation": "用户想要便宜的商品，查询500元以内的在售商品"
}`

	case has(q, "库存", "存货", "现货"):
		if has(q, "统计", "总数", "总库存") {
			return statPayload("stock_stats")
		}
		minStock := 10
		if strings.Contains(q, "充足") {
			minStock = 50
		} else if strings.Contains(q, "少量") {
			minStock = 1
		}
		return fmt.Sprintf(`{
  "query_type": "stock_check",
  "conditions": {"min_number": %d, "is_on_sale": 1},
  "sort": "number DESC",
  "limit": 8,
  "confidence": 0.90,
  "explanation": "根据用户询问库存情况，推荐库存充足的商品"
}`, minStock)

	case has(q, "统计", "总数", "多少种"):
		kind := "total_count"
		switch {
		case has(q, "价格", "平均"):
			kind = "price_stats"
		case has(q, "库存", "总库存"):
			kind = "stock_stats"
		case has(q, "分类", "类别"):
			kind = "category_stats"
		}
		return statPayload(kind)

	case has(q, "名称", "名字", "商品名"):
		pattern := "手机"
		switch {
		case has(q, "电脑", "笔记本"):
			pattern = "电脑"
		case has(q, "衣服", "服装"):
			pattern = "衣服"
		case has(q, "鞋子", "鞋"):
			pattern = "鞋子"
		}
		return fmt.Sprintf(`{
  "query_type": "name_pattern",
  "conditions": {"name": {"pattern": %s, "mode": "contains", "case_sensitive": false}, "is_on_sale": 1},
  "sort": "name ASC",
  "limit": 15,
  "confidence": 0.88,
  "explanation": "根据用户询问特定名称的商品，进行模式匹配查询"
}`, jsonString(pattern))

	case has(q, "推荐", "热销", "热门"):
		return `{
  "query_type": "stock_check",
  "conditions": {"min_number": 1, "is_hot": 1, "is_on_sale": 1},
  "sort": "sales ASC",
  "limit": 12,
  "confidence": 0.82,
  "explanation": "根据用户请求推荐，提供有货的热销商品"
}`
	}

	return fmt.Sprintf(`{
  "query_type": "keyword_search",
  "conditions": {"keyword": %s, "is_on_sale": 1},
  "sort": "sales ASC",
  "limit": 10,
  "confidence": 0.75,
  "explanation": "根据用户问题进行关键词搜索"
}`, jsonString(mockKeyword(q)))
}

func statPayload(kind string) string {
	return fmt.Sprintf(`{
  "query_type": "statistical",
  "conditions": {"statistic_type": %s, "is_on_sale": 1},
  "confidence": 0.85,
  "explanation": "根据用户询问统计信息，提供相应的统计数据"
}`, jsonString(kind))
}

var mockKeywords = []string{"手机", "电脑", "衣服", "鞋子", "包包", "化妆品", "食品", "图书", "家电", "数码", "耳机", "茶叶"}

func mockKeyword(q string) string {
	for _, k := range mockKeywords {
		if strings.Contains(q, k) {
			return k
		}
	}
	if q == "" {
		return "商品"
	}
	if utf8.RuneCountInString(q) > 10 {
		return string([]rune(q)[:10])
	}
	return q
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
