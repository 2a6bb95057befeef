package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/isaacwassouf/schema-migrator/shared"
	"github.com/isaacwassouf/schema-migrator/utils"
)

// QueryRows selects columns of every row of table, in storage order.
func (m *MigratorDB) QueryRows(ctx context.Context, table string, columns []string) (shared.RowSource, error) {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = utils.QuoteIdentifier(c)
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), utils.QualifiedName(m.schema, table))
	m.logger.Debug("query", "sql", stmt)

	rows, err := m.Db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	return &rowSource{rows: rows, values: make([]sql.NullString, len(columns))}, nil
}

type rowSource struct {
	rows   *sql.Rows
	values []sql.NullString
}

func (r *rowSource) Next() bool { return r.rows.Next() }

func (r *rowSource) Values() ([]sql.NullString, error) {
	dest := make([]any, len(r.values))
	for i := range r.values {
		dest[i] = &r.values[i]
	}
	if err := r.rows.Scan(dest...); err != nil {
		return nil, err
	}
	out := make([]sql.NullString, len(r.values))
	copy(out, r.values)
	return out, nil
}

func (r *rowSource) Err() error   { return r.rows.Err() }
func (r *rowSource) Close() error { return r.rows.Close() }

// Begin starts a row-level transaction.
func (m *MigratorDB) Begin(ctx context.Context) (shared.Tx, error) {
	tx, err := m.Db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &rowTx{tx: tx, schema: m.schema, db: m}, nil
}

type rowTx struct {
	tx     *sql.Tx
	schema string
	db     *MigratorDB
}

func (t *rowTx) Delete(ctx context.Context, table string) error {
	stmt := "DELETE FROM " + utils.QualifiedName(t.schema, table)
	t.db.logger.Debug("exec", "sql", stmt)
	_, err := t.tx.ExecContext(ctx, stmt)
	return err
}

func (t *rowTx) Insert(ctx context.Context, table string, fields []string, values []any) error {
	if len(fields) != len(values) {
		return fmt.Errorf("insert into %s: %d fields and %d values", table, len(fields), len(values))
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = utils.QuoteIdentifier(f)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		utils.QualifiedName(t.schema, table),
		strings.Join(quoted, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(fields)), ", "),
	)
	_, err := t.tx.ExecContext(ctx, stmt, values...)
	return err
}

func (t *rowTx) Commit() error   { return t.tx.Commit() }
func (t *rowTx) Rollback() error { return t.tx.Rollback() }
