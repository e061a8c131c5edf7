package session

import (
	"slices"
	"strings"
)

type PriceTier string

const (
	PriceLow    PriceTier = "low"
	PriceMedium PriceTier = "medium"
	PriceHigh   PriceTier = "high"
)

const recentQueryLimit = 5

var (
	lowPriceWords    = []string{"便宜", "实惠", "低价", "经济", "划算", "性价比"}
	highPriceWords   = []string{"贵", "高端", "豪华", "奢侈", "品质", "高档"}
	mediumPriceWords = []string{"中等", "适中", "一般", "普通"}

	categoryWords = []string{"手机", "电脑", "服装", "食品", "家电", "图书", "美妆", "运动", "家居", "数码"}
	brandWords    = []string{"苹果", "华为", "小米", "三星", "耐克", "阿迪达斯", "优衣库", "海尔", "美的", "格力"}
)

// Preferences is a keyword-derived snapshot of what the shopper seems to want.
// It is advisory: the advisor and intent enrichment read it, nothing else.
type Preferences struct {
	RecentQueries []string  `json:"recent_queries"`
	PriceTier     PriceTier `json:"price_tier"`
	Categories    []string  `json:"categories,omitempty"`
	Brands        []string  `json:"brands,omitempty"`
}

func newPreferences() Preferences {
	return Preferences{PriceTier: PriceMedium}
}

// Observe folds a question into the preferences.
func (p *Preferences) Observe(question string) {
	q := strings.TrimSpace(question)
	if q == "" {
		return
	}
	lower := strings.ToLower(q)

	switch {
	case containsAny(lower, lowPriceWords):
		p.PriceTier = PriceLow
	case containsAny(lower, highPriceWords):
		p.PriceTier = PriceHigh
	case containsAny(lower, mediumPriceWords):
		p.PriceTier = PriceMedium
	}

	for _, c := range categoryWords {
		if strings.Contains(lower, c) && !slices.Contains(p.Categories, c) {
			p.Categories = append(p.Categories, c)
		}
	}
	for _, b := range brandWords {
		if strings.Contains(lower, b) && !slices.Contains(p.Brands, b) {
			p.Brands = append(p.Brands, b)
		}
	}

	if n := len(p.RecentQueries); n > 0 && p.RecentQueries[n-1] == q {
		return
	}
	p.RecentQueries = append(p.RecentQueries, q)
	if len(p.RecentQueries) > recentQueryLimit {
		p.RecentQueries = p.RecentQueries[len(p.RecentQueries)-recentQueryLimit:]
	}
}

// Summary renders the preferences for a prompt.
func (p Preferences) Summary() string {
	var b strings.Builder
	b.WriteString("价格偏好：")
	switch p.PriceTier {
	case PriceLow:
		b.WriteString("低")
	case PriceHigh:
		b.WriteString("高")
	default:
		b.WriteString("中")
	}
	b.WriteString("价位")
	if len(p.Categories) > 0 {
		b.WriteString("，偏好类目：" + strings.Join(p.Categories, ","))
	}
	if len(p.Brands) > 0 {
		b.WriteString("，偏好品牌：" + strings.Join(p.Brands, ","))
	}
	return b.String()
}

func (p Preferences) clone() Preferences {
	p.RecentQueries = slices.Clone(p.RecentQueries)
	p.Categories = slices.Clone(p.Categories)
	p.Brands = slices.Clone(p.Brands)
	return p
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
