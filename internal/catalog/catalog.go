package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/catalogqa/internal/compiler"
	"github.com/MikeSquared-Agency/catalogqa/internal/intent"
)

// Executor runs compiled queries.
type Executor interface {
	Run(ctx context.Context, q compiler.Query) ([]Record, error)
}

// backend acquires a connection for exactly one statement and releases it
// before returning, on every path.
type backend interface {
	query(ctx context.Context, sql string, args []any) ([]Record, error)
	close()
}

type Catalog struct {
	db       backend
	compiler *compiler.Compiler
	logger   *slog.Logger
}

// Open picks a backend from the URL scheme: postgres:// and postgresql://
// go to Postgres, anything else is treated as a SQLite path (":memory:" included).
func Open(ctx context.Context, url, table string, logger *slog.Logger) (*Catalog, error) {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return OpenPostgres(ctx, url, table, logger)
	}
	return OpenSQLite(ctx, strings.TrimPrefix(url, "sqlite://"), table, logger)
}

func newCatalog(db backend, d compiler.Dialect, table string, logger *slog.Logger) (*Catalog, error) {
	comp, err := compiler.New(d, table)
	if err != nil {
		db.close()
		return nil, err
	}
	return &Catalog{db: db, compiler: comp, logger: logger}, nil
}

// Compiler returns a compiler for this catalog's dialect and table.
func (c *Catalog) Compiler() *compiler.Compiler { return c.compiler }

func (c *Catalog) Close() {
	c.db.close()
}

// Run executes q and applies its regex post-filter, if any.
func (c *Catalog) Run(ctx context.Context, q compiler.Query) ([]Record, error) {
	c.logger.Debug("running catalog query", "sql", q.SQL, "args", len(q.Args))
	rows, err := c.db.query(ctx, q.SQL, q.Args)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	if q.Post == nil {
		return rows, nil
	}

	kept := make([]Record, 0, min(len(rows), max(q.Limit, 0)))
	for _, r := range rows {
		if q.Post.MatchString(r.Text("name")) {
			kept = append(kept, r)
			if q.Limit > 0 && len(kept) == q.Limit {
				break
			}
		}
	}
	c.logger.Debug("regex post-filter applied", "scanned", len(rows), "kept", len(kept))
	return kept, nil
}

func (c *Catalog) runIntent(ctx context.Context, in intent.Intent) ([]Record, error) {
	q, err := c.compiler.Compile(in)
	if err != nil {
		return nil, err
	}
	return c.Run(ctx, q)
}

func (c *Catalog) statistic(ctx context.Context, kind string) ([]Record, error) {
	in, err := intent.StatisticalIntent(kind)
	if err != nil {
		return nil, err
	}
	return c.runIntent(ctx, in)
}

func (c *Catalog) aggregate(ctx context.Context, kind string) (Record, error) {
	rows, err := c.statistic(ctx, kind)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return Record{}, nil
	}
	return rows[0], nil
}

// TotalCount counts on-sale goods.
func (c *Catalog) TotalCount(ctx context.Context) (int64, error) {
	r, err := c.aggregate(ctx, intent.StatTotalCount)
	if err != nil {
		return 0, err
	}
	return r.Int("total_count"), nil
}

type PriceStats struct {
	Count int64   `json:"total_count"`
	Min   float64 `json:"min_price"`
	Max   float64 `json:"max_price"`
	Avg   float64 `json:"avg_price"`
}

func (c *Catalog) PriceRange(ctx context.Context) (PriceStats, error) {
	r, err := c.aggregate(ctx, intent.StatPriceStats)
	if err != nil {
		return PriceStats{}, err
	}
	return PriceStats{
		Count: r.Int("total_count"),
		Min:   r.Float("min_price"),
		Max:   r.Float("max_price"),
		Avg:   r.Float("avg_price"),
	}, nil
}

type StockStats struct {
	Count      int64   `json:"total_count"`
	TotalStock int64   `json:"total_stock"`
	AvgStock   float64 `json:"avg_stock"`
}

func (c *Catalog) StockSummary(ctx context.Context) (StockStats, error) {
	r, err := c.aggregate(ctx, intent.StatStockStats)
	if err != nil {
		return StockStats{}, err
	}
	return StockStats{
		Count:      r.Int("total_count"),
		TotalStock: r.Int("total_stock"),
		AvgStock:   r.Float("avg_stock"),
	}, nil
}

type CategoryCount struct {
	CategoryID int64 `json:"category_id"`
	GoodsCount int64 `json:"goods_count"`
}

// CategoryStats lists on-sale goods per category, largest first.
func (c *Catalog) CategoryStats(ctx context.Context) ([]CategoryCount, error) {
	rows, err := c.statistic(ctx, intent.StatCategoryStats)
	if err != nil {
		return nil, err
	}
	out := make([]CategoryCount, 0, len(rows))
	for _, r := range rows {
		out = append(out, CategoryCount{CategoryID: r.Int("category_id"), GoodsCount: r.Int("goods_count")})
	}
	return out, nil
}

// ByID looks up a single on-sale product.
func (c *Catalog) ByID(ctx context.Context, id int) (Record, bool, error) {
	in, err := intent.SpecificProductIntent(id)
	if err != nil {
		return nil, false, err
	}
	rows, err := c.runIntent(ctx, in)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

func (c *Catalog) KeywordSearch(ctx context.Context, keyword string, limit int) ([]Record, error) {
	in, err := intent.KeywordIntent(keyword)
	if err != nil {
		return nil, err
	}
	in.Limit = limit
	return c.runIntent(ctx, in)
}

// Summary bundles the direct reads for status pages.
type Summary struct {
	TotalCount int64           `json:"total_count"`
	Price      PriceStats      `json:"price"`
	Stock      StockStats      `json:"stock"`
	Categories []CategoryCount `json:"categories"`
}

func (c *Catalog) Summary(ctx context.Context) (Summary, error) {
	var s Summary
	var err error
	if s.TotalCount, err = c.TotalCount(ctx); err != nil {
		return Summary{}, err
	}
	if s.Price, err = c.PriceRange(ctx); err != nil {
		return Summary{}, err
	}
	if s.Stock, err = c.StockSummary(ctx); err != nil {
		return Summary{}, err
	}
	if s.Categories, err = c.CategoryStats(ctx); err != nil {
		return Summary{}, err
	}
	return s, nil
}
