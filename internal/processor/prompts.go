package processor

import (
	"strings"

	"github.com/MikeSquared-Agency/catalogqa/internal/gateway"
)

const intentInstructions = `你是一个智能商品问答助手。请根据用户的商品查询需求，生成结构化的查询意图。
请严格按照以下JSON格式返回结果，不要包含任何其他文本：
{
  "query_type": "查询类型",
  "conditions": {
    "条件1": "值1",
    "条件2": "值2"
  },
  "sort": "排序字段 排序方式",
  "limit": 数量,
  "confidence": 置信度,
  "explanation": "查询解释"
}

查询类型与条件：
- price_range：价格区间，min_price / max_price（单位：元）
- stock_check：库存，min_number / max_number
- category_filter：分类，category_id
- keyword_search：关键词，keyword
- name_pattern：名称匹配，name: {"pattern": "文本", "mode": "exact|contains|starts_with|ends_with|regex", "case_sensitive": false}
- specific_product：指定商品，id
- statistical：统计，statistic_type（total_count / price_stats / stock_stats / category_stats）
- unknown：与商品查询无关的问题，在 explanation 中直接回答
通用条件：is_on_sale、is_new、is_hot、brand_id（0 或 1 / 数字）
排序字段：price、stock、sales、name、time、id，方向 ASC 或 DESC
`

// buildPrompt assembles instructions, prior conversation and the question.
// The question always follows gateway.QuestionMarker on its own line.
func buildPrompt(sessionContext, question string) string {
	var b strings.Builder
	b.WriteString(intentInstructions)
	b.WriteString("\n")
	if strings.TrimSpace(sessionContext) != "" {
		b.WriteString("之前的对话上下文：\n")
		b.WriteString(sessionContext)
		b.WriteString("\n\n")
	}
	b.WriteString(gateway.QuestionMarker)
	b.WriteString(oneLine(question))
	b.WriteString("\n请生成查询意图JSON：")
	return b.String()
}

// oneLine keeps a multi-line question on the marker line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
