package processor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MikeSquared-Agency/catalogqa/internal/catalog"
	"github.com/MikeSquared-Agency/catalogqa/internal/intent"
)

// listPreview is how many goods the answer text spells out.
const listPreview = 5

const (
	noResults     = "抱歉，没有找到符合条件的商品。"
	notUnderstood = "抱歉，我无法理解您的问题。"
)

var answerLeads = map[intent.QueryType]string{
	intent.PriceRange:    "根据您的价格要求，",
	intent.StockCheck:    "关于库存情况，",
	intent.KeywordSearch: "根据您的搜索要求，",
	intent.Statistical:   "根据统计数据，",
}

func renderList(in intent.Intent, rows []catalog.Record, personalized bool) string {
	if len(rows) == 0 {
		return renderEmpty()
	}

	var b strings.Builder
	lead, ok := answerLeads[in.Type]
	if !ok {
		lead = "根据您的查询，"
	}
	b.WriteString(lead)
	if in.Type == intent.PriceRange {
		lo, okLo := in.Conditions.Number("min_price")
		hi, okHi := in.Conditions.Number("max_price")
		if okLo && okHi {
			fmt.Fprintf(&b, "在%s-%s元价格区间内，", yuan(lo), yuan(hi))
		}
	}
	fmt.Fprintf(&b, "为您找到 %d 个商品：\n\n", len(rows))

	for i, r := range rows[:min(len(rows), listPreview)] {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.Text("name"))
		fmt.Fprintf(&b, "   价格：¥%.2f\n", r.Float("retail_price"))
		if _, ok := r.Get("number"); ok {
			fmt.Fprintf(&b, "   库存：%d\n", r.Int("number"))
		}
		if brief := r.Text("brief"); brief != "" {
			fmt.Fprintf(&b, "   简介：%s\n", brief)
		}
		b.WriteString("\n")
	}
	if extra := len(rows) - listPreview; extra > 0 {
		fmt.Fprintf(&b, "... 还有 %d 个商品符合您的要求。\n", extra)
	}

	if personalized {
		b.WriteString("\n根据您的偏好，我为您优先推荐以上商品。")
	}
	if in.Type == intent.PriceRange {
		b.WriteString("\n\n您可以继续询问：")
		b.WriteString("\n- \"这些商品中哪些有现货？\"")
		b.WriteString("\n- \"哪个商品的评分最高？\"")
		b.WriteString("\n- \"给我推荐其中最热门的一个\"")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderEmpty() string {
	return noResults + "\n建议您可以：\n" +
		"1. 放宽价格范围或搜索条件\n" +
		"2. 尝试不同的关键词搜索\n" +
		"3. 浏览其他商品分类"
}

func renderStatistic(kind string, rows []catalog.Record) string {
	if len(rows) == 0 {
		return "根据统计数据，暂时没有符合条件的商品。"
	}
	r := rows[0]

	var b strings.Builder
	b.WriteString(answerLeads[intent.Statistical])
	switch kind {
	case intent.StatPriceStats:
		fmt.Fprintf(&b, "共有 %d 个商品：\n", r.Int("total_count"))
		fmt.Fprintf(&b, "最低价格：¥%.2f\n", r.Float("min_price"))
		fmt.Fprintf(&b, "最高价格：¥%.2f\n", r.Float("max_price"))
		fmt.Fprintf(&b, "平均价格：¥%.2f", r.Float("avg_price"))
	case intent.StatStockStats:
		fmt.Fprintf(&b, "共有 %d 个商品：\n", r.Int("total_count"))
		fmt.Fprintf(&b, "总库存：%d 件\n", r.Int("total_stock"))
		fmt.Fprintf(&b, "平均库存：%.1f 件", r.Float("avg_stock"))
	case intent.StatCategoryStats:
		fmt.Fprintf(&b, "商品分布在 %d 个分类中：", len(rows))
		for _, row := range rows {
			fmt.Fprintf(&b, "\n- 分类 %d：%d 个商品", row.Int("category_id"), row.Int("goods_count"))
		}
	default:
		fmt.Fprintf(&b, "共有 %d 个商品。", r.Int("total_count"))
	}
	return b.String()
}

// yuan prints a price without trailing zeros.
func yuan(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
