package intent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type QueryType string

const (
	PriceRange      QueryType = "price_range"
	StockCheck      QueryType = "stock_check"
	CategoryFilter  QueryType = "category_filter"
	KeywordSearch   QueryType = "keyword_search"
	NamePattern     QueryType = "name_pattern"
	SpecificProduct QueryType = "specific_product"
	Statistical     QueryType = "statistical"

	// Unknown is what the model answers when no catalog query is needed.
	// It is never compiled.
	Unknown QueryType = "unknown"
)

var queryTypes = map[QueryType]bool{
	PriceRange:      true,
	StockCheck:      true,
	CategoryFilter:  true,
	KeywordSearch:   true,
	NamePattern:     true,
	SpecificProduct: true,
	Statistical:     true,
}

// Known reports whether t is one of the compilable query types.
func (t QueryType) Known() bool { return queryTypes[t] }

// QueryTypes lists the compilable query types in a stable order.
func QueryTypes() []QueryType {
	return []QueryType{PriceRange, StockCheck, CategoryFilter, KeywordSearch, NamePattern, SpecificProduct, Statistical}
}

type Mode string

const (
	ModeExact      Mode = "exact"
	ModeContains   Mode = "contains"
	ModeStartsWith Mode = "starts_with"
	ModeEndsWith   Mode = "ends_with"
	ModeRegex      Mode = "regex"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeExact, ModeContains, ModeStartsWith, ModeEndsWith, ModeRegex:
		return true
	}
	return false
}

// Statistic kinds understood by the statistical query type.
const (
	StatTotalCount    = "total_count"
	StatPriceStats    = "price_stats"
	StatStockStats    = "stock_stats"
	StatCategoryStats = "category_stats"
)

// Value is a condition value: Number, Bool or Text for scalars, or a Pattern.
type Value interface {
	isValue()
}

type Number float64

type Bool bool

type Text string

// Pattern is a name-matching condition.
type Pattern struct {
	Pattern       string `json:"pattern"`
	Mode          Mode   `json:"mode"`
	CaseSensitive bool   `json:"case_sensitive"`
}

func (Number) isValue()  {}
func (Bool) isValue()    {}
func (Text) isValue()    {}
func (Pattern) isValue() {}

// Condition is one named filter.
type Condition struct {
	Key   string
	Value Value
}

// Conditions keeps insertion order so compiled clauses and bound
// parameters come out in a deterministic order.
type Conditions []Condition

func (cs Conditions) Get(key string) (Value, bool) {
	for _, c := range cs {
		if c.Key == key {
			return c.Value, true
		}
	}
	return nil, false
}

func (cs Conditions) Has(key string) bool {
	_, ok := cs.Get(key)
	return ok
}

// Number returns the numeric value for key, if present and numeric.
func (cs Conditions) Number(key string) (float64, bool) {
	v, ok := cs.Get(key)
	if !ok {
		return 0, false
	}
	n, ok := v.(Number)
	return float64(n), ok
}

// Text returns the string value for key, if present and a string.
func (cs Conditions) Text(key string) (string, bool) {
	v, ok := cs.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(Text)
	return string(s), ok
}

// Set replaces key in place or appends it.
func (cs Conditions) Set(key string, v Value) Conditions {
	for i := range cs {
		if cs[i].Key == key {
			cs[i].Value = v
			return cs
		}
	}
	return append(cs, Condition{Key: key, Value: v})
}

func (cs Conditions) Delete(key string) Conditions {
	out := make(Conditions, 0, len(cs))
	for _, c := range cs {
		if c.Key != key {
			out = append(out, c)
		}
	}
	return out
}

func (cs Conditions) Clone() Conditions {
	if cs == nil {
		return nil
	}
	out := make(Conditions, len(cs))
	copy(out, cs)
	return out
}

func (cs Conditions) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range cs {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(c.Value)
		if err != nil {
			return nil, fmt.Errorf("condition %s: %w", c.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object while preserving key order. Keys are
// normalized to snake_case and null values are dropped.
func (cs *Conditions) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*cs = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("conditions must be an object")
	}

	var out Conditions
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("conditions: unexpected token %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("condition %s: %w", key, err)
		}
		key = NormalizeKey(key)
		v, err := decodeValue(key, raw)
		if err != nil {
			return err
		}
		if v == nil {
			continue
		}
		out = out.Set(key, v)
	}
	*cs = out
	return nil
}

func decodeValue(key string, raw json.RawMessage) (Value, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}
	switch trimmed[0] {
	case 'n':
		return nil, nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return nil, fmt.Errorf("condition %s: %w", key, err)
		}
		return Bool(b), nil
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("condition %s: %w", key, err)
		}
		return Text(s), nil
	case '{':
		var p struct {
			Pattern          string `json:"pattern"`
			Mode             Mode   `json:"mode"`
			CaseSensitive    *bool  `json:"case_sensitive"`
			CaseSensitiveAlt *bool  `json:"caseSensitive"`
		}
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return nil, fmt.Errorf("condition %s: %w", key, err)
		}
		pat := Pattern{Pattern: p.Pattern, Mode: Mode(strings.ToLower(string(p.Mode)))}
		if pat.Mode == "" {
			pat.Mode = ModeContains
		}
		switch {
		case p.CaseSensitive != nil:
			pat.CaseSensitive = *p.CaseSensitive
		case p.CaseSensitiveAlt != nil:
			pat.CaseSensitive = *p.CaseSensitiveAlt
		}
		return pat, nil
	case '[':
		return nil, fmt.Errorf("condition %s: lists are not supported", key)
	default:
		f, err := strconv.ParseFloat(string(trimmed), 64)
		if err != nil {
			return nil, fmt.Errorf("condition %s: %w", key, err)
		}
		return Number(f), nil
	}
}

// NormalizeKey converts camelCase keys ("minPrice") to snake_case ("min_price").
func NormalizeKey(key string) string {
	var b strings.Builder
	for i, r := range key {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Intent is the validated description of what the shopper asked for.
type Intent struct {
	Type        QueryType  `json:"query_type"`
	Conditions  Conditions `json:"conditions"`
	Sort        string     `json:"sort,omitempty"`
	Limit       int        `json:"limit,omitempty"`
	Confidence  float64    `json:"confidence"`
	Explanation string     `json:"explanation,omitempty"`
}

// Valid reports whether the intent names a query type at all. Type-specific
// rules are checked by Validate.
func (i Intent) Valid() bool { return i.Type != "" }

// IsQuery reports whether the intent should be compiled against the catalog.
func (i Intent) IsQuery() bool { return i.Type.Known() }

// Clone returns a copy whose conditions can be changed independently.
func (i Intent) Clone() Intent {
	out := i
	out.Conditions = i.Conditions.Clone()
	return out
}

// Name returns the name pattern condition, accepting either key the model uses.
func (i Intent) Name() (Pattern, bool) {
	for _, key := range []string{"name", "name_pattern"} {
		if v, ok := i.Conditions.Get(key); ok {
			switch p := v.(type) {
			case Pattern:
				return p, true
			case Text:
				return Pattern{Pattern: string(p), Mode: ModeContains}, true
			}
		}
	}
	return Pattern{}, false
}

// StatisticType returns the requested aggregate, defaulting to total_count.
func (i Intent) StatisticType() string {
	if s, ok := i.Conditions.Text("statistic_type"); ok && s != "" {
		return s
	}
	return StatTotalCount
}

// Sort aliases: logical field -> catalog column.
var sortColumns = map[string]string{
	"price":        "retail_price",
	"retail_price": "retail_price",
	"stock":        "number",
	"number":       "number",
	"sales":        "sort_order",
	"sort_order":   "sort_order",
	"name":         "name",
	"time":         "add_time",
	"add_time":     "add_time",
	"id":           "id",
}

// DefaultSort applies when an intent carries no sort.
const DefaultSort = "retail_price ASC"

// SortColumn maps a logical sort field onto its catalog column.
func SortColumn(field string) (string, bool) {
	col, ok := sortColumns[strings.ToLower(strings.TrimSpace(field))]
	return col, ok
}

// SplitSort parses "field direction" into its parts. Direction defaults to ASC.
func SplitSort(sort string) (field, dir string, ok bool) {
	parts := strings.Fields(sort)
	switch len(parts) {
	case 1:
		return parts[0], "ASC", true
	case 2:
		dir = strings.ToUpper(parts[1])
		if dir != "ASC" && dir != "DESC" {
			return "", "", false
		}
		return parts[0], dir, true
	}
	return "", "", false
}
