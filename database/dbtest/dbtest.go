// Package dbtest provides an in-memory database collaborator for tests.
//
// DB keeps tables as introspection rows plus row data, applies every DDL
// mutator to that state and records the calls it receives, so a test can
// create a table, introspect it again and see the result.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/isaacwassouf/schema-migrator/shared"
	"github.com/isaacwassouf/schema-migrator/typemap"
)

// Row is one row of table data keyed by column name. A nil value is NULL.
type Row map[string]*string

// Table is the stored state of one table.
type Table struct {
	Columns    []shared.RawColumnDetails
	Indexes    []shared.IndexDescriptor
	References []shared.ReferenceDescriptor
	Options    map[string]string
	Rows       []Row
}

// Call is one recorded mutator invocation.
type Call struct {
	Op    string
	Table string
	Name  string
}

func (c Call) String() string {
	if c.Name == "" {
		return c.Op + "(" + c.Table + ")"
	}
	return c.Op + "(" + c.Table + "." + c.Name + ")"
}

// DB is an in-memory database. The zero value is not usable; call New.
type DB struct {
	mu     sync.Mutex
	schema string
	tables map[string]*Table
	calls  []Call

	// FailOn makes a mutator fail. Keys are "Op" or "Op:name", for example
	// "AddIndex:idx_email" or "Insert".
	FailOn map[string]error
	// FailInsertAt makes the n-th insert of a transaction fail (1-based).
	FailInsertAt int
}

// New returns an empty database whose default schema is schema.
func New(schema string) *DB {
	return &DB{
		schema: schema,
		tables: make(map[string]*Table),
		FailOn: make(map[string]error),
	}
}

// Put stores a table, replacing any previous one.
func (db *DB) Put(name string, t *Table) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tables[name] = cloneTable(t)
}

// Table returns a copy of the stored table, or nil.
func (db *DB) Table(name string) *Table {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tables[name]
	if !ok {
		return nil
	}
	return cloneTable(t)
}

// Calls returns the recorded mutator calls.
func (db *DB) Calls() []Call {
	db.mu.Lock()
	defer db.mu.Unlock()
	return slices.Clone(db.calls)
}

// ResetCalls forgets the recorded calls.
func (db *DB) ResetCalls() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.calls = nil
}

func (db *DB) DefaultSchema() string { return db.schema }

func (db *DB) TableExists(_ context.Context, table, _ string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, ok := db.tables[table]
	return ok, nil
}

func (db *DB) ListTables(context.Context) ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	names := make([]string, 0, len(db.tables))
	for name := range db.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (db *DB) DescribeColumns(_ context.Context, table, _ string) ([]shared.RawColumnDetails, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, err := db.lookup(table)
	if err != nil {
		return nil, err
	}
	return slices.Clone(t.Columns), nil
}

func (db *DB) DescribeIndexes(_ context.Context, table, _ string) ([]shared.IndexDescriptor, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, err := db.lookup(table)
	if err != nil {
		return nil, err
	}
	return cloneTable(t).Indexes, nil
}

func (db *DB) DescribeReferences(_ context.Context, table, _ string) ([]shared.ReferenceDescriptor, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, err := db.lookup(table)
	if err != nil {
		return nil, err
	}
	return cloneTable(t).References, nil
}

func (db *DB) TableOptions(_ context.Context, table, _ string) (map[string]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, err := db.lookup(table)
	if err != nil {
		return nil, err
	}
	return cloneTable(t).Options, nil
}

func (db *DB) CreateTable(_ context.Context, table, _ string, def shared.TableDefinition) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.record("CreateTable", table, ""); err != nil {
		return err
	}
	if _, ok := db.tables[table]; ok {
		return fmt.Errorf("table %s already exists", table)
	}
	t := &Table{Options: make(map[string]string, len(def.Options))}
	for _, col := range def.Columns {
		t.Columns = append(t.Columns, rawColumn(col))
	}
	for _, idx := range def.Indexes {
		t.Indexes = append(t.Indexes, shared.IndexDescriptor{Name: idx.Name, Columns: slices.Clone(idx.Columns)})
	}
	if indexIndex(t.Indexes, shared.PrimaryIndexName) < 0 {
		var primary []string
		for _, col := range def.Columns {
			if col.Primary {
				primary = append(primary, col.Name)
			}
		}
		if len(primary) > 0 {
			t.Indexes = slices.Insert(t.Indexes, 0, shared.IndexDescriptor{Name: shared.PrimaryIndexName, Columns: primary})
		}
	}
	for _, ref := range def.References {
		t.References = append(t.References, cloneReference(ref))
	}
	for k, v := range def.Options {
		t.Options[k] = v
	}
	db.tables[table] = t
	db.syncPrimaryKey(t)
	return nil
}

func (db *DB) AddColumn(_ context.Context, table, _ string, col shared.ColumnDescriptor) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.record("AddColumn", table, col.Name); err != nil {
		return err
	}
	t, err := db.lookup(table)
	if err != nil {
		return err
	}
	if columnIndex(t.Columns, col.Name) >= 0 {
		return fmt.Errorf("duplicate column %s", col.Name)
	}
	at := len(t.Columns)
	switch {
	case col.Position.First:
		at = 0
	case col.Position.After != "":
		if i := columnIndex(t.Columns, col.Position.After); i >= 0 {
			at = i + 1
		}
	}
	t.Columns = slices.Insert(t.Columns, at, rawColumn(col))
	return nil
}

func (db *DB) ModifyColumn(_ context.Context, table, _ string, col shared.ColumnDescriptor) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.record("ModifyColumn", table, col.Name); err != nil {
		return err
	}
	t, err := db.lookup(table)
	if err != nil {
		return err
	}
	i := columnIndex(t.Columns, col.Name)
	if i < 0 {
		return fmt.Errorf("unknown column %s", col.Name)
	}
	key := t.Columns[i].ColumnKey
	t.Columns[i] = rawColumn(col)
	t.Columns[i].ColumnKey = key
	return nil
}

func (db *DB) DropColumn(_ context.Context, table, _ string, column string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.record("DropColumn", table, column); err != nil {
		return err
	}
	t, err := db.lookup(table)
	if err != nil {
		return err
	}
	i := columnIndex(t.Columns, column)
	if i < 0 {
		return fmt.Errorf("unknown column %s", column)
	}
	t.Columns = slices.Delete(t.Columns, i, i+1)
	for _, row := range t.Rows {
		delete(row, column)
	}
	return nil
}

func (db *DB) AddIndex(_ context.Context, table, _ string, idx shared.IndexDescriptor) error {
	return db.addIndex("AddIndex", table, idx)
}

func (db *DB) AddPrimaryKey(_ context.Context, table, _ string, idx shared.IndexDescriptor) error {
	idx.Name = shared.PrimaryIndexName
	return db.addIndex("AddPrimaryKey", table, idx)
}

func (db *DB) DropIndex(_ context.Context, table, _ string, name string) error {
	return db.dropIndex("DropIndex", table, name)
}

func (db *DB) DropPrimaryKey(_ context.Context, table, _ string) error {
	return db.dropIndex("DropPrimaryKey", table, shared.PrimaryIndexName)
}

func (db *DB) AddForeignKey(_ context.Context, table, _ string, ref shared.ReferenceDescriptor) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.record("AddForeignKey", table, ref.Name); err != nil {
		return err
	}
	t, err := db.lookup(table)
	if err != nil {
		return err
	}
	if referenceIndex(t.References, ref.Name) >= 0 {
		return fmt.Errorf("duplicate foreign key %s", ref.Name)
	}
	t.References = append(t.References, cloneReference(ref))
	return nil
}

func (db *DB) DropForeignKey(_ context.Context, table, _ string, name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.record("DropForeignKey", table, name); err != nil {
		return err
	}
	t, err := db.lookup(table)
	if err != nil {
		return err
	}
	i := referenceIndex(t.References, name)
	if i < 0 {
		return fmt.Errorf("unknown foreign key %s", name)
	}
	t.References = slices.Delete(t.References, i, i+1)
	return nil
}

// QueryRows returns the rows of table projected on columns.
func (db *DB) QueryRows(_ context.Context, table string, columns []string) (shared.RowSource, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, err := db.lookup(table)
	if err != nil {
		return nil, err
	}
	rows := make([][]sql.NullString, len(t.Rows))
	for i, row := range t.Rows {
		values := make([]sql.NullString, len(columns))
		for j, c := range columns {
			if v := row[c]; v != nil {
				values[j] = sql.NullString{String: *v, Valid: true}
			}
		}
		rows[i] = values
	}
	return &rowSource{rows: rows, pos: -1}, nil
}

// Begin starts a transaction over row data. Changes become visible on
// Commit only.
func (db *DB) Begin(context.Context) (shared.Tx, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.record("Begin", "", ""); err != nil {
		return nil, err
	}
	return &tx{db: db, staged: make(map[string][]Row)}, nil
}

func (db *DB) addIndex(op, table string, idx shared.IndexDescriptor) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.record(op, table, idx.Name); err != nil {
		return err
	}
	t, err := db.lookup(table)
	if err != nil {
		return err
	}
	if indexIndex(t.Indexes, idx.Name) >= 0 {
		return fmt.Errorf("duplicate index %s", idx.Name)
	}
	t.Indexes = append(t.Indexes, shared.IndexDescriptor{Name: idx.Name, Columns: slices.Clone(idx.Columns)})
	db.syncPrimaryKey(t)
	return nil
}

func (db *DB) dropIndex(op, table, name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.record(op, table, name); err != nil {
		return err
	}
	t, err := db.lookup(table)
	if err != nil {
		return err
	}
	i := indexIndex(t.Indexes, name)
	if i < 0 {
		return fmt.Errorf("unknown index %s", name)
	}
	t.Indexes = slices.Delete(t.Indexes, i, i+1)
	db.syncPrimaryKey(t)
	return nil
}

// syncPrimaryKey keeps COLUMN_KEY in line with the PRIMARY index.
func (db *DB) syncPrimaryKey(t *Table) {
	i := indexIndex(t.Indexes, shared.PrimaryIndexName)
	for c := range t.Columns {
		if t.Columns[c].ColumnKey == "PRI" {
			t.Columns[c].ColumnKey = ""
		}
		if i >= 0 && slices.Contains(t.Indexes[i].Columns, t.Columns[c].ColumnName) {
			t.Columns[c].ColumnKey = "PRI"
		}
	}
}

func (db *DB) record(op, table, name string) error {
	if err := db.FailOn[op+":"+name]; err != nil {
		return err
	}
	if err := db.FailOn[op]; err != nil {
		return err
	}
	if op != "Begin" {
		db.calls = append(db.calls, Call{Op: op, Table: table, Name: name})
	}
	return nil
}

func (db *DB) lookup(table string) (*Table, error) {
	t, ok := db.tables[table]
	if !ok {
		return nil, fmt.Errorf("table %s doesn't exist", table)
	}
	return t, nil
}

type tx struct {
	db      *DB
	staged  map[string][]Row
	inserts int
	done    bool
}

func (t *tx) Delete(_ context.Context, table string) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.done {
		return sql.ErrTxDone
	}
	if err := t.db.record("Delete", table, ""); err != nil {
		return err
	}
	if _, err := t.db.lookup(table); err != nil {
		return err
	}
	t.staged[table] = []Row{}
	return nil
}

func (t *tx) Insert(_ context.Context, table string, fields []string, values []any) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.done {
		return sql.ErrTxDone
	}
	t.inserts++
	if t.db.FailInsertAt > 0 && t.inserts == t.db.FailInsertAt {
		return fmt.Errorf("insert %d into %s failed", t.inserts, table)
	}
	if err := t.db.record("Insert", table, ""); err != nil {
		return err
	}
	tbl, err := t.db.lookup(table)
	if err != nil {
		return err
	}
	if len(fields) != len(values) {
		return fmt.Errorf("column count doesn't match value count")
	}
	row := make(Row, len(fields))
	for i, f := range fields {
		if columnIndex(tbl.Columns, f) < 0 {
			return fmt.Errorf("unknown column %s", f)
		}
		switch v := values[i].(type) {
		case nil:
			row[f] = nil
		case string:
			s := v
			row[f] = &s
		default:
			s := fmt.Sprint(v)
			row[f] = &s
		}
	}
	rows, ok := t.staged[table]
	if !ok {
		rows = cloneRows(tbl.Rows)
	}
	t.staged[table] = append(rows, row)
	return nil
}

func (t *tx) Commit() error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	if err := t.db.record("Commit", "", ""); err != nil {
		return err
	}
	for table, rows := range t.staged {
		if tbl, ok := t.db.tables[table]; ok {
			tbl.Rows = rows
		}
	}
	return nil
}

func (t *tx) Rollback() error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.staged = nil
	return t.db.record("Rollback", "", "")
}

type rowSource struct {
	rows [][]sql.NullString
	pos  int
}

func (r *rowSource) Next() bool {
	r.pos++
	return r.pos < len(r.rows)
}

func (r *rowSource) Values() ([]sql.NullString, error) {
	if r.pos < 0 || r.pos >= len(r.rows) {
		return nil, fmt.Errorf("no current row")
	}
	return r.rows[r.pos], nil
}

func (r *rowSource) Err() error   { return nil }
func (r *rowSource) Close() error { return nil }

// Str is a helper for building Row values.
func Str(s string) *string { return &s }

// RawColumn converts a descriptor into the introspection row MySQL would
// report for it.
func RawColumn(col shared.ColumnDescriptor) shared.RawColumnDetails {
	return rawColumn(col)
}

func rawColumn(col shared.ColumnDescriptor) shared.RawColumnDetails {
	raw := shared.RawColumnDetails{
		ColumnName: col.Name,
		DataType:   dataType(typemap.RenderColumn(col)),
		ColumnType: typemap.RenderColumn(col),
		IsNullable: "YES",
	}
	if col.NotNull || col.Primary {
		raw.IsNullable = "NO"
	}
	if col.Primary {
		raw.ColumnKey = "PRI"
	}
	if col.AutoIncrement {
		raw.Extra = "auto_increment"
	}
	return raw
}

func dataType(columnType string) string {
	end := strings.IndexFunc(columnType, func(r rune) bool { return r < 'a' || r > 'z' })
	if end < 0 {
		return columnType
	}
	return columnType[:end]
}

func columnIndex(cols []shared.RawColumnDetails, name string) int {
	return slices.IndexFunc(cols, func(c shared.RawColumnDetails) bool { return c.ColumnName == name })
}

func indexIndex(idxs []shared.IndexDescriptor, name string) int {
	return slices.IndexFunc(idxs, func(i shared.IndexDescriptor) bool { return i.Name == name })
}

func referenceIndex(refs []shared.ReferenceDescriptor, name string) int {
	return slices.IndexFunc(refs, func(r shared.ReferenceDescriptor) bool { return r.Name == name })
}

func cloneReference(ref shared.ReferenceDescriptor) shared.ReferenceDescriptor {
	ref.Columns = slices.Clone(ref.Columns)
	ref.ReferencedColumns = slices.Clone(ref.ReferencedColumns)
	return ref
}

func cloneRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, row := range rows {
		c := make(Row, len(row))
		for k, v := range row {
			c[k] = v
		}
		out[i] = c
	}
	return out
}

func cloneTable(t *Table) *Table {
	c := &Table{
		Columns: slices.Clone(t.Columns),
		Rows:    cloneRows(t.Rows),
	}
	for _, idx := range t.Indexes {
		c.Indexes = append(c.Indexes, shared.IndexDescriptor{Name: idx.Name, Columns: slices.Clone(idx.Columns)})
	}
	for _, ref := range t.References {
		c.References = append(c.References, cloneReference(ref))
	}
	if t.Options != nil {
		c.Options = make(map[string]string, len(t.Options))
		for k, v := range t.Options {
			c.Options[k] = v
		}
	}
	return c
}
