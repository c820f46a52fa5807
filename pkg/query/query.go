// Package query runs ad-hoc SQL over a table using an embedded DuckDB
// instance. The table is loaded into memory once; queries are read-only.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/soilflow/soilflow/pkg/dataset"
	"github.com/soilflow/soilflow/pkg/errors"
)

// DefaultTable is the SQL name the dataset is registered under.
const DefaultTable = "soil"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Engine holds an in-memory database with one registered table.
type Engine struct {
	db    *sql.DB
	table string
}

// Open loads t into a fresh in-memory database under the given table name.
func Open(ctx context.Context, t *dataset.Table, table string) (*Engine, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, errors.New(errors.CodeQuery, "invalid table name "+table)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeQuery, "open duckdb")
	}

	e := &Engine{db: db, table: table}
	if err := e.load(ctx, t); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

// Close releases the database.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Table returns the registered table name.
func (e *Engine) Table() string {
	return e.table
}

func (e *Engine) load(ctx context.Context, t *dataset.Table) error {
	defs := make([]string, t.NumCols())
	for i, name := range t.Columns() {
		typ := "VARCHAR"
		if t.IsNumeric(i) {
			typ = "DOUBLE"
		}
		defs[i] = quoteIdent(name) + " " + typ
	}

	create := fmt.Sprintf("CREATE TABLE %s (%s)", e.table, strings.Join(defs, ", "))
	if _, err := e.db.ExecContext(ctx, create); err != nil {
		return errors.Wrap(err, errors.CodeQuery, "create table")
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", t.NumCols()), ", ")
	stmt, err := e.db.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", e.table, placeholders))
	if err != nil {
		return errors.Wrap(err, errors.CodeQuery, "prepare insert")
	}
	defer stmt.Close()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.CodeQuery, "begin load")
	}
	txStmt := tx.Stmt(stmt)

	args := make([]interface{}, t.NumCols())
	for r := 0; r < t.NumRows(); r++ {
		for c, v := range t.Row(r) {
			switch v.Kind {
			case dataset.KindNumber:
				args[c] = v.Num
			case dataset.KindText:
				args[c] = v.Str
			default:
				args[c] = nil
			}
		}
		if _, err := txStmt.ExecContext(ctx, args...); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, errors.CodeQuery, "insert row %d", r)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.CodeQuery, "commit load")
	}
	return nil
}

// Run executes a read-only statement and renders every cell as text.
func (e *Engine) Run(ctx context.Context, q string) ([]string, [][]string, error) {
	if !readOnly(q) {
		return nil, nil, errors.New(errors.CodeQuery, "only read-only queries are allowed").
			WithContext("query", q)
	}

	rows, err := e.db.QueryContext(ctx, q)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.CodeQuery, "query failed")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.CodeQuery, "read columns")
	}

	var out [][]string
	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, errors.Wrap(err, errors.CodeQuery, "scan row")
		}
		record := make([]string, len(cols))
		for i, v := range values {
			record[i] = renderValue(v)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, errors.Wrap(err, errors.CodeQuery, "iterate rows")
	}
	return cols, out, nil
}

// readOnly accepts SELECT-shaped statements only. DuckDB has no session
// read-only mode for in-memory databases, so the gate lives here.
func readOnly(q string) bool {
	s := strings.TrimSpace(q)
	for strings.HasPrefix(s, "--") {
		nl := strings.IndexByte(s, '\n')
		if nl < 0 {
			return false
		}
		s = strings.TrimSpace(s[nl+1:])
	}
	head := strings.ToUpper(s)
	for _, prefix := range []string{"SELECT", "WITH", "DESCRIBE", "SHOW", "EXPLAIN"} {
		if strings.HasPrefix(head, prefix) {
			return true
		}
	}
	return false
}

func renderValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 64)
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
