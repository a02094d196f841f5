package data

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/presgen/internal/toolerr"
)

// Ingest loads a CSV or TSV file into a fresh dataset database and
// records it in the catalog. The sheet name is the file's base name
// without extension.
func (s *Store) Ingest(ctx context.Context, srcPath string) (Dataset, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return Dataset{}, toolerr.Wrap(toolerr.ResourceMissing, err, "open %s", srcPath)
	}
	defer f.Close()

	ext := strings.ToLower(filepath.Ext(srcPath))
	var comma rune
	switch ext {
	case ".csv":
		comma = ','
	case ".tsv", ".tab":
		comma = '\t'
	default:
		return Dataset{}, toolerr.New(toolerr.BadRequest, "unsupported file type %s (csv and tsv only)", ext)
	}

	base := filepath.Base(srcPath)
	sheetName := strings.TrimSuffix(base, filepath.Ext(base))
	return s.ingestReader(ctx, f, comma, base, sheetName)
}

func (s *Store) ingestReader(ctx context.Context, r io.Reader, comma rune, sourceName, sheetName string) (Dataset, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return Dataset{}, toolerr.New(toolerr.BadRequest, "file %s is empty", sourceName)
	}
	if err != nil {
		return Dataset{}, toolerr.Wrap(toolerr.BadRequest, err, "read header of %s", sourceName)
	}

	columns := make([]Column, len(header))
	seen := map[string]bool{}
	for i, h := range header {
		base := sanitizeIdent(h)
		// Suffix until free so a header like "a, a_2, a" cannot collide.
		name := base
		for n := 2; seen[name]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		seen[name] = true
		columns[i] = Column{Name: name, Type: "INTEGER"}
	}

	var records [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Dataset{}, toolerr.Wrap(toolerr.BadRequest, err, "read %s", sourceName)
		}
		// Short rows pad with empty strings, long rows truncate.
		if len(rec) < len(columns) {
			padded := make([]string, len(columns))
			copy(padded, rec)
			rec = padded
		} else if len(rec) > len(columns) {
			rec = rec[:len(columns)]
		}
		for i, v := range rec {
			columns[i].Type = narrowType(columns[i].Type, v)
		}
		records = append(records, rec)
	}

	id := newDatasetID()
	dbPath := filepath.Join(s.dir, id+".db")
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Dataset{}, fmt.Errorf("data: create dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return Dataset{}, fmt.Errorf("data: open db: %w", err)
	}
	defer db.Close()

	table := sanitizeIdent(sheetName)
	if err := createAndFill(ctx, db, table, columns, records); err != nil {
		os.Remove(dbPath)
		return Dataset{}, err
	}

	ds := Dataset{
		ID:         id,
		SourceName: sourceName,
		DBPath:     dbPath,
		Sheets: []Sheet{{
			Name:    sheetName,
			Table:   table,
			Columns: columns,
			Rows:    int64(len(records)),
		}},
		CreatedAt: s.now().Unix(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return Dataset{}, err
	}
	if err := s.appendLocked(ds); err != nil {
		return Dataset{}, err
	}
	s.logger.Info("ingested dataset",
		"dataset_id", id, "source", sourceName, "rows", len(records), "columns", len(columns))
	return ds, nil
}

func createAndFill(ctx context.Context, db *sql.DB, table string, columns []Column, records [][]string) error {
	defs := make([]string, len(columns))
	names := make([]string, len(columns))
	holes := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = fmt.Sprintf("%q %s", c.Name, c.Type)
		names[i] = fmt.Sprintf("%q", c.Name)
		holes[i] = "?"
	}
	createStmt := fmt.Sprintf("CREATE TABLE %q (%s)", table, strings.Join(defs, ", "))
	if _, err := db.ExecContext(ctx, createStmt); err != nil {
		return fmt.Errorf("data: create table: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("data: begin: %w", err)
	}
	insertStmt := fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)",
		table, strings.Join(names, ", "), strings.Join(holes, ", "))
	stmt, err := tx.PrepareContext(ctx, insertStmt)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("data: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		args := make([]any, len(rec))
		for i, v := range rec {
			args[i] = coerce(columns[i].Type, v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("data: insert row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("data: commit: %w", err)
	}
	return nil
}

// narrowType widens a column's inferred affinity to accommodate a value.
// Inference starts at INTEGER and can only move toward TEXT.
func narrowType(current, value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return current
	}
	switch current {
	case "INTEGER":
		if _, err := strconv.ParseInt(v, 10, 64); err == nil {
			return "INTEGER"
		}
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			return "REAL"
		}
		return "TEXT"
	case "REAL":
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			return "REAL"
		}
		return "TEXT"
	default:
		return "TEXT"
	}
}

func coerce(colType, value string) any {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil
	}
	switch colType {
	case "INTEGER":
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	case "REAL":
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return v
}
