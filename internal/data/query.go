package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/haasonsaas/presgen/internal/toolerr"
)

// ResultSet is the materialized output of a query.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// Query runs a read-only statement against a dataset and materializes
// the full result. Callers are expected to have bounded the row count.
func (s *Store) Query(ctx context.Context, ds Dataset, sqlText string) (ResultSet, error) {
	db, err := sql.Open("sqlite", ds.DBPath)
	if err != nil {
		return ResultSet{}, fmt.Errorf("data: open db: %w", err)
	}
	defer db.Close()
	return queryDB(ctx, db, sqlText)
}

// Explain checks a statement plans cleanly without executing it.
func (s *Store) Explain(ctx context.Context, ds Dataset, sqlText string) error {
	db, err := sql.Open("sqlite", ds.DBPath)
	if err != nil {
		return fmt.Errorf("data: open db: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "EXPLAIN "+sqlText)
	if err != nil {
		return toolerr.Wrap(toolerr.BadRequest, err, "statement does not plan: %v", err)
	}
	return rows.Close()
}

// Aliased variants expose the sheet's table under the fixed alias "t",
// the name generated SQL is written against.

// QueryAliased runs a statement with "t" bound to the given table.
func (s *Store) QueryAliased(ctx context.Context, ds Dataset, table, sqlText string) (ResultSet, error) {
	db, err := s.openWithAlias(ctx, ds, table)
	if err != nil {
		return ResultSet{}, err
	}
	defer db.Close()
	return queryDB(ctx, db, sqlText)
}

// ExplainAliased validates a statement plans with "t" bound to the table.
func (s *Store) ExplainAliased(ctx context.Context, ds Dataset, table, sqlText string) error {
	db, err := s.openWithAlias(ctx, ds, table)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "EXPLAIN "+sqlText)
	if err != nil {
		return toolerr.Wrap(toolerr.BadRequest, err, "statement does not plan: %v", err)
	}
	return rows.Close()
}

func (s *Store) openWithAlias(ctx context.Context, ds Dataset, table string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", ds.DBPath)
	if err != nil {
		return nil, fmt.Errorf("data: open db: %w", err)
	}
	// Temp views are connection-local; pin to one connection.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE TEMP VIEW t AS SELECT * FROM %q", table)); err != nil {
		db.Close()
		return nil, fmt.Errorf("data: alias table %s: %w", table, err)
	}
	return db, nil
}

func queryDB(ctx context.Context, db *sql.DB, sqlText string) (ResultSet, error) {
	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return ResultSet{}, toolerr.Wrap(toolerr.BadRequest, err, "query failed: %v", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return ResultSet{}, fmt.Errorf("data: columns: %w", err)
	}

	rs := ResultSet{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return ResultSet{}, fmt.Errorf("data: scan: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return ResultSet{}, fmt.Errorf("data: iterate: %w", err)
	}
	return rs, nil
}
