package intent

import (
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/catalogqa/internal/apperr"
)

// MaxPatternLength caps name patterns. Regex patterns longer than this are
// rejected rather than compiled.
const MaxPatternLength = 256

var statisticTypes = map[string]bool{
	StatTotalCount:    true,
	StatPriceStats:    true,
	StatStockStats:    true,
	StatCategoryStats: true,
}

// Validate checks the intent against the rules for its query type. Both the
// parser and the builder run every intent through here.
func Validate(in Intent) error {
	if !in.Valid() {
		return apperr.Validation("query_type", "missing query type")
	}
	if !in.Type.Known() {
		return apperr.Validation("query_type", fmt.Sprintf("unsupported query type %q", in.Type))
	}
	if in.Limit < 0 {
		return apperr.Validation("limit", "must be positive")
	}
	if in.Confidence < 0 || in.Confidence > 1 {
		return apperr.Validation("confidence", "must be between 0 and 1")
	}
	if in.Sort != "" {
		field, _, ok := SplitSort(in.Sort)
		if !ok {
			return apperr.Validation("sort", fmt.Sprintf("malformed sort %q", in.Sort))
		}
		if _, ok := SortColumn(field); !ok {
			return apperr.Validation("sort", fmt.Sprintf("unsupported sort field %q", field))
		}
	}

	switch in.Type {
	case PriceRange:
		_, hasMin := in.Conditions.Get("min_price")
		_, hasMax := in.Conditions.Get("max_price")
		if !hasMin && !hasMax {
			return apperr.Validation("conditions.min_price", "price_range needs min_price or max_price")
		}
		if err := numeric(in.Conditions, "min_price", "max_price"); err != nil {
			return err
		}
		lo, okLo := in.Conditions.Number("min_price")
		hi, okHi := in.Conditions.Number("max_price")
		if okLo && okHi && lo > hi {
			return apperr.Validation("conditions.min_price", "min_price exceeds max_price")
		}
	case StockCheck:
		if err := numeric(in.Conditions, "min_number", "max_number"); err != nil {
			return err
		}
	case CategoryFilter:
		if !in.Conditions.Has("category_id") && !in.Conditions.Has("category") {
			return apperr.Validation("conditions.category_id", "category_filter needs category_id")
		}
		if err := numeric(in.Conditions, "category_id"); err != nil {
			return err
		}
	case KeywordSearch:
		kw, ok := in.Conditions.Text("keyword")
		if !ok || strings.TrimSpace(kw) == "" {
			return apperr.Validation("conditions.keyword", "keyword_search needs a non-empty keyword")
		}
	case NamePattern:
		p, ok := in.Name()
		if !ok {
			return apperr.Validation("conditions.name", "name_pattern needs a name condition")
		}
		if strings.TrimSpace(p.Pattern) == "" {
			return apperr.Validation("conditions.name.pattern", "pattern must not be empty")
		}
		if !p.Mode.Valid() {
			return apperr.Validation("conditions.name.mode", fmt.Sprintf("unsupported mode %q", p.Mode))
		}
		if p.Mode == ModeRegex && len(p.Pattern) > MaxPatternLength {
			return apperr.Validation("conditions.name.pattern", "pattern too long")
		}
	case SpecificProduct:
		if _, ok := in.Conditions.Number("id"); !ok {
			return apperr.Validation("conditions.id", "specific_product needs a numeric id")
		}
	case Statistical:
		if v, ok := in.Conditions.Get("statistic_type"); ok {
			s, isText := v.(Text)
			if !isText || !statisticTypes[string(s)] {
				return apperr.Validation("conditions.statistic_type", "unsupported statistic type")
			}
		}
	}

	// Pattern values only make sense on the name key.
	for _, c := range in.Conditions {
		if _, ok := c.Value.(Pattern); ok && c.Key != "name" && c.Key != "name_pattern" {
			return apperr.Validation("conditions."+c.Key, "pattern values are only allowed on name")
		}
	}
	return nil
}

func numeric(cs Conditions, keys ...string) error {
	for _, k := range keys {
		v, ok := cs.Get(k)
		if !ok {
			continue
		}
		if _, isNum := v.(Number); !isNum {
			return apperr.Validation("conditions."+k, "must be a number")
		}
	}
	return nil
}
