package intent

import (
	"math"
	"strings"
)

// Builder assembles intents programmatically. Every factory starts from an
// on-sale-only filter; Build runs the same Validate the parser uses.
type Builder struct {
	in Intent
}

func New(t QueryType) *Builder {
	return &Builder{in: Intent{
		Type:       t,
		Conditions: Conditions{{Key: "is_on_sale", Value: Number(1)}},
		Confidence: 1,
	}}
}

func (b *Builder) Where(key string, v Value) *Builder {
	b.in.Conditions = b.in.Conditions.Set(key, v)
	return b
}

func (b *Builder) Without(key string) *Builder {
	b.in.Conditions = b.in.Conditions.Delete(key)
	return b
}

func (b *Builder) SortBy(field, dir string) *Builder {
	b.in.Sort = strings.ToLower(field) + " " + strings.ToUpper(dir)
	return b
}

func (b *Builder) Limit(n int) *Builder {
	b.in.Limit = n
	return b
}

func (b *Builder) Explain(s string) *Builder {
	b.in.Explanation = s
	return b
}

func (b *Builder) Build() (Intent, error) {
	out := b.in.Clone()
	if err := Validate(out); err != nil {
		return Intent{}, err
	}
	return out, nil
}

// PriceRangeIntent builds a price filter sorted cheapest first. Nil bounds are omitted.
func PriceRangeIntent(lo, hi *float64) (Intent, error) {
	b := New(PriceRange).SortBy("price", "ASC")
	if lo != nil {
		b.Where("min_price", Number(*lo))
	}
	if hi != nil {
		b.Where("max_price", Number(*hi))
	}
	return b.Build()
}

func StockCheckIntent(lo, hi *int) (Intent, error) {
	b := New(StockCheck)
	if lo != nil {
		b.Where("min_number", Number(*lo))
	}
	if hi != nil {
		b.Where("max_number", Number(*hi))
	}
	return b.Build()
}

func NamePatternIntent(pattern string, mode Mode, caseSensitive bool) (Intent, error) {
	if mode == "" {
		mode = ModeContains
	}
	return New(NamePattern).
		Where("name", Pattern{Pattern: pattern, Mode: mode, CaseSensitive: caseSensitive}).
		Build()
}

func KeywordIntent(keyword string) (Intent, error) {
	return New(KeywordSearch).Where("keyword", Text(keyword)).Build()
}

func CategoryIntent(categoryID int) (Intent, error) {
	return New(CategoryFilter).Where("category_id", Number(categoryID)).Build()
}

func SpecificProductIntent(id int) (Intent, error) {
	return New(SpecificProduct).Where("id", Number(id)).Limit(1).Build()
}

func StatisticalIntent(kind string) (Intent, error) {
	if kind == "" {
		kind = StatTotalCount
	}
	return New(Statistical).Where("statistic_type", Text(kind)).Build()
}

// Relax widens an intent for a second attempt when the first returned too
// few rows: the price window grows by 100 below and 200 above, and the limit
// doubles. The input is left untouched.
func Relax(in Intent) Intent {
	out := in.Clone()
	if lo, ok := out.Conditions.Number("min_price"); ok {
		out.Conditions = out.Conditions.Set("min_price", Number(math.Max(0, lo-100)))
	}
	if hi, ok := out.Conditions.Number("max_price"); ok {
		out.Conditions = out.Conditions.Set("max_price", Number(hi+200))
	}
	if out.Limit > 0 {
		out.Limit *= 2
	}
	return out
}
