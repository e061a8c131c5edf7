package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/catalogqa/internal/compiler"
)

type postgres struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, databaseURL, table string, logger *slog.Logger) (*Catalog, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return newCatalog(&postgres{pool: pool}, compiler.Postgres, table, logger)
}

func (p *postgres) query(ctx context.Context, sql string, args []any) ([]Record, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []Record
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		rec := make(Record, len(fields))
		for i, f := range fields {
			rec[i] = Field{Name: f.Name, Value: normalize(vals[i])}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *postgres) close() {
	p.pool.Close()
}
