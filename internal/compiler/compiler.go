package compiler

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/MikeSquared-Agency/catalogqa/internal/apperr"
	"github.com/MikeSquared-Agency/catalogqa/internal/intent"
)

const DefaultTable = "litemall_goods"

const (
	// Regex name patterns are matched in process over a bounded candidate
	// window; rows past the window are never seen.
	regexScanFactor = 10
	regexScanCap    = 1000
)

// Dialect picks the placeholder syntax.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// Query is a compiled, parameterised statement. Values never appear in SQL.
type Query struct {
	SQL  string
	Args []any

	// Post, when set, must match a row's name for the row to be kept.
	Post *regexp.Regexp
	// Limit is the number of rows to keep after Post filtering.
	Limit int
	// Statistic names the aggregate for statistical queries.
	Statistic string
}

// Columns equality conditions may target. Anything else is refused.
var equalityColumns = map[string]bool{
	"id":          true,
	"goods_sn":    true,
	"category_id": true,
	"brand_id":    true,
	"is_on_sale":  true,
	"is_new":      true,
	"is_hot":      true,
	"unit":        true,
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Compiler struct {
	dialect Dialect
	table   string
}

func New(d Dialect, table string) (*Compiler, error) {
	if table == "" {
		table = DefaultTable
	}
	if !identifier.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Compiler{dialect: d, table: table}, nil
}

func (c *Compiler) Dialect() Dialect { return c.dialect }
func (c *Compiler) Table() string    { return c.table }

// Compile turns a validated intent into SQL.
func (c *Compiler) Compile(in intent.Intent) (Query, error) {
	if !in.IsQuery() {
		return Query{}, apperr.SQLGeneration(string(in.Type), "query_type", "query type cannot be compiled")
	}
	if err := requireFields(in); err != nil {
		return Query{}, err
	}

	w := &where{dialect: c.dialect}
	w.add("deleted = 0")

	var post *regexp.Regexp
	for _, cond := range in.Conditions {
		p, err := c.clause(w, in.Type, cond)
		if err != nil {
			return Query{}, err
		}
		if p != nil {
			post = p
		}
	}

	if in.Type == intent.Statistical {
		if post != nil {
			return Query{}, apperr.SQLGeneration(string(in.Type), "conditions.name", "regex patterns are not supported for statistics")
		}
		return c.statistical(in, w)
	}

	order, err := orderBy(in.Sort)
	if err != nil {
		return Query{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s WHERE %s ORDER BY %s", c.table, w.String(), order)

	q := Query{Post: post, Limit: in.Limit}
	switch {
	case post != nil:
		fmt.Fprintf(&b, " LIMIT %d", regexWindow(in.Limit))
	case in.Limit > 0:
		fmt.Fprintf(&b, " LIMIT %d", in.Limit)
	}
	q.SQL = b.String()
	q.Args = w.args
	return q, nil
}

func regexWindow(limit int) int {
	if limit <= 0 {
		return regexScanCap
	}
	return min(limit*regexScanFactor, regexScanCap)
}

func (c *Compiler) clause(w *where, qt intent.QueryType, cond intent.Condition) (*regexp.Regexp, error) {
	switch cond.Key {
	case "statistic_type":
		return nil, nil
	case "min_price", "max_price", "min_number", "max_number":
		n, ok := cond.Value.(intent.Number)
		if !ok {
			return nil, apperr.SQLGeneration(string(qt), "conditions."+cond.Key, "must be a number")
		}
		col, op := "retail_price", ">="
		if strings.HasSuffix(cond.Key, "_number") {
			col = "number"
		}
		if strings.HasPrefix(cond.Key, "max_") {
			op = "<="
		}
		w.add(col+" "+op+" ?", numberArg(float64(n), col == "number"))
		return nil, nil
	case "keyword":
		kw, ok := cond.Value.(intent.Text)
		if !ok {
			return nil, apperr.SQLGeneration(string(qt), "conditions.keyword", "must be text")
		}
		like := "%" + escapeLike(string(kw)) + "%"
		w.add(`(name LIKE ? ESCAPE '\' OR keywords LIKE ? ESCAPE '\' OR brief LIKE ? ESCAPE '\')`, like, like, like)
		return nil, nil
	case "category", "brand":
		// Free-text hints from session preferences, not ids.
		v, ok := cond.Value.(intent.Text)
		if !ok {
			return nil, apperr.SQLGeneration(string(qt), "conditions."+cond.Key, "must be text")
		}
		like := "%" + escapeLike(string(v)) + "%"
		w.add(`(name LIKE ? ESCAPE '\' OR keywords LIKE ? ESCAPE '\')`, like, like)
		return nil, nil
	case "name", "name_pattern":
		return c.namePattern(w, qt, cond)
	}

	if !equalityColumns[cond.Key] {
		return nil, apperr.SQLGeneration(string(qt), "conditions."+cond.Key, "unsupported condition")
	}
	var arg any
	switch v := cond.Value.(type) {
	case intent.Number:
		arg = numberArg(float64(v), true)
	case intent.Bool:
		arg = int64(0)
		if v {
			arg = int64(1)
		}
	case intent.Text:
		arg = string(v)
	default:
		return nil, apperr.SQLGeneration(string(qt), "conditions."+cond.Key, "unsupported value")
	}
	w.add(cond.Key+" = ?", arg)
	return nil, nil
}

func (c *Compiler) namePattern(w *where, qt intent.QueryType, cond intent.Condition) (*regexp.Regexp, error) {
	var p intent.Pattern
	switch v := cond.Value.(type) {
	case intent.Pattern:
		p = v
	case intent.Text:
		p = intent.Pattern{Pattern: string(v), Mode: intent.ModeContains}
	default:
		return nil, apperr.SQLGeneration(string(qt), "conditions.name", "unsupported value")
	}
	if strings.TrimSpace(p.Pattern) == "" {
		return nil, apperr.SQLGeneration(string(qt), "conditions.name.pattern", "pattern must not be empty")
	}

	if p.Mode == intent.ModeRegex {
		if len(p.Pattern) > intent.MaxPatternLength {
			return nil, apperr.Validation("conditions.name.pattern", "pattern too long")
		}
		expr := p.Pattern
		if !p.CaseSensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, apperr.Validation("conditions.name.pattern", "invalid regular expression")
		}
		return re, nil
	}

	col, val := "name", p.Pattern
	if !p.CaseSensitive {
		col, val = "LOWER(name)", strings.ToLower(val)
	} else if w.dialect == SQLite && p.Mode != intent.ModeExact {
		// SQLite's LIKE folds ASCII case; GLOB does not.
		return nil, globPattern(w, qt, p.Mode, val)
	}
	switch p.Mode {
	case intent.ModeExact:
		w.add(col+" = ?", val)
	case intent.ModeStartsWith:
		w.add(col+` LIKE ? ESCAPE '\'`, escapeLike(val)+"%")
	case intent.ModeEndsWith:
		w.add(col+` LIKE ? ESCAPE '\'`, "%"+escapeLike(val))
	case intent.ModeContains, "":
		w.add(col+` LIKE ? ESCAPE '\'`, "%"+escapeLike(val)+"%")
	default:
		return nil, apperr.SQLGeneration(string(qt), "conditions.name.mode", "unsupported match mode")
	}
	return nil, nil
}

func (c *Compiler) statistical(in intent.Intent, w *where) (Query, error) {
	kind := in.StatisticType()
	var sql string
	switch kind {
	case intent.StatTotalCount:
		sql = fmt.Sprintf("SELECT COUNT(*) AS total_count FROM %s WHERE %s", c.table, w)
	case intent.StatPriceStats:
		sql = fmt.Sprintf("SELECT COUNT(*) AS total_count, MIN(retail_price) AS min_price, MAX(retail_price) AS max_price, AVG(retail_price) AS avg_price FROM %s WHERE %s", c.table, w)
	case intent.StatStockStats:
		sql = fmt.Sprintf("SELECT COUNT(*) AS total_count, SUM(number) AS total_stock, AVG(number) AS avg_stock FROM %s WHERE %s", c.table, w)
	case intent.StatCategoryStats:
		sql = fmt.Sprintf("SELECT category_id, COUNT(*) AS goods_count FROM %s WHERE %s GROUP BY category_id ORDER BY goods_count DESC", c.table, w)
		if in.Limit > 0 {
			sql += fmt.Sprintf(" LIMIT %d", in.Limit)
		}
	default:
		return Query{}, apperr.SQLGeneration(string(in.Type), "conditions.statistic_type", fmt.Sprintf("unsupported statistic %q", kind))
	}
	return Query{SQL: sql, Args: w.args, Statistic: kind}, nil
}

func requireFields(in intent.Intent) error {
	missing := func(field string) error {
		return apperr.SQLGeneration(string(in.Type), field, "required condition missing")
	}
	cs := in.Conditions
	switch in.Type {
	case intent.PriceRange:
		if !cs.Has("min_price") && !cs.Has("max_price") {
			return missing("conditions.min_price")
		}
	case intent.KeywordSearch:
		if !cs.Has("keyword") {
			return missing("conditions.keyword")
		}
	case intent.NamePattern:
		if !cs.Has("name") && !cs.Has("name_pattern") {
			return missing("conditions.name")
		}
	case intent.SpecificProduct:
		if !cs.Has("id") {
			return missing("conditions.id")
		}
	case intent.CategoryFilter:
		if !cs.Has("category_id") && !cs.Has("category") {
			return missing("conditions.category_id")
		}
	}
	return nil
}

func orderBy(sort string) (string, error) {
	if sort == "" {
		return intent.DefaultSort, nil
	}
	field, dir, ok := intent.SplitSort(sort)
	if !ok {
		return "", apperr.SQLGeneration("", "sort", fmt.Sprintf("malformed sort %q", sort))
	}
	col, ok := intent.SortColumn(field)
	if !ok {
		return "", apperr.SQLGeneration("", "sort", fmt.Sprintf("unsupported sort field %q", field))
	}
	return col + " " + dir, nil
}

// numberArg binds whole numbers as integers for integer columns.
func numberArg(v float64, integer bool) any {
	if integer && v == math.Trunc(v) && !math.IsInf(v, 0) {
		return int64(v)
	}
	return v
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// globEscaper wraps GLOB metacharacters in brackets so they match literally.
var globEscaper = strings.NewReplacer(`*`, `[*]`, `?`, `[?]`, `[`, `[[]`)

func escapeGlob(s string) string { return globEscaper.Replace(s) }

func globPattern(w *where, qt intent.QueryType, mode intent.Mode, val string) error {
	val = escapeGlob(val)
	switch mode {
	case intent.ModeStartsWith:
		w.add("name GLOB ?", val+"*")
	case intent.ModeEndsWith:
		w.add("name GLOB ?", "*"+val)
	case intent.ModeContains, "":
		w.add("name GLOB ?", "*"+val+"*")
	default:
		return apperr.SQLGeneration(string(qt), "conditions.name.mode", "unsupported match mode")
	}
	return nil
}

func escapeLike(s string) string { return likeEscaper.Replace(s) }

type where struct {
	dialect Dialect
	parts   []string
	args    []any
}

// add appends a predicate written with ? placeholders, renumbering them for
// the dialect.
func (w *where) add(pred string, args ...any) {
	if w.dialect == Postgres {
		var b strings.Builder
		n := len(w.args)
		for _, r := range pred {
			if r == '?' {
				n++
				b.WriteString("$" + strconv.Itoa(n))
				continue
			}
			b.WriteRune(r)
		}
		pred = b.String()
	}
	w.parts = append(w.parts, pred)
	w.args = append(w.args, args...)
}

func (w *where) String() string { return strings.Join(w.parts, " AND ") }
