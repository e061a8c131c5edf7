package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/MikeSquared-Agency/catalogqa/internal/compiler"
)

//go:embed schema.sql
var schemaSQL string

//go:embed seed.sql
var seedSQL string

type sqlite struct {
	db *sql.DB
}

// OpenSQLite opens an embedded catalog. Use ":memory:" for a throwaway one.
func OpenSQLite(ctx context.Context, path, table string, logger *slog.Logger) (*Catalog, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return newCatalog(&sqlite{db: db}, compiler.SQLite, table, logger)
}

func (s *sqlite) query(ctx context.Context, query string, args []any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	var out []Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rec := make(Record, len(cols))
		for i, name := range cols {
			rec[i] = Field{Name: name, Value: normalize(vals[i])}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqlite) close() {
	s.db.Close()
}

func (s *sqlite) exec(ctx context.Context, script string) error {
	for _, stmt := range strings.Split(script, ";\n") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SeedDemo creates the goods table and loads a small demo catalog. It only
// works on the SQLite backend with the default table name.
func (c *Catalog) SeedDemo(ctx context.Context) error {
	s, ok := c.db.(*sqlite)
	if !ok {
		return errors.New("demo seed is only available for sqlite catalogs")
	}
	if c.compiler.Table() != compiler.DefaultTable {
		return fmt.Errorf("demo seed targets %s, catalog uses %s", compiler.DefaultTable, c.compiler.Table())
	}
	if err := s.exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM litemall_goods").Scan(&n); err != nil {
		return fmt.Errorf("count goods: %w", err)
	}
	if n > 0 {
		return nil
	}
	if err := s.exec(ctx, seedSQL); err != nil {
		return fmt.Errorf("seed goods: %w", err)
	}
	c.logger.Info("demo catalog seeded")
	return nil
}
