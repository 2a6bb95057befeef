package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/isaacwassouf/schema-migrator/shared"
)

const (
	tableExistsQuery = `SELECT COUNT(*) FROM information_schema.TABLES
WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`

	listTablesQuery = `SELECT TABLE_NAME FROM information_schema.TABLES
WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
ORDER BY TABLE_NAME`

	describeColumnsQuery = `SELECT COLUMN_NAME, DATA_TYPE, COLUMN_TYPE, COLUMN_KEY, IS_NULLABLE, COLUMN_DEFAULT, EXTRA
FROM information_schema.COLUMNS
WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
ORDER BY ORDINAL_POSITION`

	describeIndexesQuery = `SELECT INDEX_NAME, COLUMN_NAME
FROM information_schema.STATISTICS
WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
ORDER BY INDEX_NAME = 'PRIMARY' DESC, INDEX_NAME, SEQ_IN_INDEX`

	describeReferencesQuery = `SELECT CONSTRAINT_NAME, REFERENCED_TABLE_SCHEMA, REFERENCED_TABLE_NAME, COLUMN_NAME, REFERENCED_COLUMN_NAME
FROM information_schema.KEY_COLUMN_USAGE
WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND REFERENCED_TABLE_NAME IS NOT NULL
ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION`

	tableOptionsQuery = `SELECT ENGINE, TABLE_COLLATION, AUTO_INCREMENT
FROM information_schema.TABLES
WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`
)

func (m *MigratorDB) TableExists(ctx context.Context, table, schema string) (bool, error) {
	var n int
	if err := m.Db.QueryRowContext(ctx, tableExistsQuery, schema, table).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (m *MigratorDB) ListTables(ctx context.Context) ([]string, error) {
	rows, err := m.Db.QueryContext(ctx, listTablesQuery, m.schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (m *MigratorDB) DescribeColumns(ctx context.Context, table, schema string) ([]shared.RawColumnDetails, error) {
	rows, err := m.Db.QueryContext(ctx, describeColumnsQuery, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []shared.RawColumnDetails
	for rows.Next() {
		var c shared.RawColumnDetails
		err := rows.Scan(&c.ColumnName, &c.DataType, &c.ColumnType, &c.ColumnKey, &c.IsNullable, &c.ColumnDefault, &c.Extra)
		if err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", table, err)
		}
		columns = append(columns, c)
	}
	return columns, rows.Err()
}

// DescribeIndexes lists the indexes of table, PRIMARY first and the others
// by name, each with its columns in index order.
func (m *MigratorDB) DescribeIndexes(ctx context.Context, table, schema string) ([]shared.IndexDescriptor, error) {
	rows, err := m.Db.QueryContext(ctx, describeIndexesQuery, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indexes []shared.IndexDescriptor
	for rows.Next() {
		var name, column string
		if err := rows.Scan(&name, &column); err != nil {
			return nil, fmt.Errorf("scan index of %s: %w", table, err)
		}
		if n := len(indexes); n > 0 && indexes[n-1].Name == name {
			indexes[n-1].Columns = append(indexes[n-1].Columns, column)
			continue
		}
		indexes = append(indexes, shared.IndexDescriptor{Name: name, Columns: []string{column}})
	}
	return indexes, rows.Err()
}

// DescribeReferences lists the foreign keys of table by constraint name.
func (m *MigratorDB) DescribeReferences(ctx context.Context, table, schema string) ([]shared.ReferenceDescriptor, error) {
	rows, err := m.Db.QueryContext(ctx, describeReferencesQuery, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []shared.ReferenceDescriptor
	for rows.Next() {
		var name, refSchema, refTable, column, refColumn string
		if err := rows.Scan(&name, &refSchema, &refTable, &column, &refColumn); err != nil {
			return nil, fmt.Errorf("scan reference of %s: %w", table, err)
		}
		if n := len(refs); n > 0 && refs[n-1].Name == name {
			refs[n-1].Columns = append(refs[n-1].Columns, column)
			refs[n-1].ReferencedColumns = append(refs[n-1].ReferencedColumns, refColumn)
			continue
		}
		refs = append(refs, shared.ReferenceDescriptor{
			Name:              name,
			ReferencedSchema:  refSchema,
			ReferencedTable:   refTable,
			Columns:           []string{column},
			ReferencedColumns: []string{refColumn},
		})
	}
	return refs, rows.Err()
}

// TableOptions returns ENGINE, TABLE_COLLATION and AUTO_INCREMENT, leaving
// out the ones that are NULL.
func (m *MigratorDB) TableOptions(ctx context.Context, table, schema string) (map[string]string, error) {
	var engine, collation, autoIncrement sql.NullString
	err := m.Db.QueryRowContext(ctx, tableOptionsQuery, schema, table).Scan(&engine, &collation, &autoIncrement)
	if err != nil {
		return nil, err
	}
	options := make(map[string]string, 3)
	for name, v := range map[string]sql.NullString{
		"ENGINE":          engine,
		"TABLE_COLLATION": collation,
		"AUTO_INCREMENT":  autoIncrement,
	} {
		if v.Valid && v.String != "" {
			options[name] = v.String
		}
	}
	return options, nil
}
