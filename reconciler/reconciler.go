// Package reconciler converges a live table to a declared TableDefinition.
//
// A missing table is created in one operation. An existing table goes
// through three diff passes in a fixed order: columns, foreign keys, then
// indexes, since foreign keys depend on columns and indexes may depend on
// both. Within a pass, additions and modifications are applied in
// definition order and deletions afterwards in live order. Every operation
// is issued as soon as it is computed; there is no enclosing transaction, so
// a failure leaves the operations applied before it in place.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/isaacwassouf/schema-migrator/shared"
	"github.com/isaacwassouf/schema-migrator/typemap"
)

// Mutator issues DDL against the database, one statement per call.
type Mutator interface {
	CreateTable(ctx context.Context, table, schema string, def shared.TableDefinition) error
	AddColumn(ctx context.Context, table, schema string, col shared.ColumnDescriptor) error
	ModifyColumn(ctx context.Context, table, schema string, col shared.ColumnDescriptor) error
	DropColumn(ctx context.Context, table, schema, column string) error
	AddIndex(ctx context.Context, table, schema string, idx shared.IndexDescriptor) error
	DropIndex(ctx context.Context, table, schema, name string) error
	AddPrimaryKey(ctx context.Context, table, schema string, idx shared.IndexDescriptor) error
	DropPrimaryKey(ctx context.Context, table, schema string) error
	AddForeignKey(ctx context.Context, table, schema string, ref shared.ReferenceDescriptor) error
	DropForeignKey(ctx context.Context, table, schema, name string) error
}

// Database is the collaborator the reconciler reads from and writes to.
type Database interface {
	shared.Introspector
	Mutator
}

// Observer is told about every operation after it was applied.
type Observer func(Operation)

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithObserver registers fn to be called for each applied operation.
func WithObserver(fn Observer) Option {
	return func(r *Reconciler) { r.observe = fn }
}

// Reconciler diffs and applies table definitions.
type Reconciler struct {
	db      Database
	logger  *slog.Logger
	observe Observer
}

// New returns a Reconciler working on db.
func New(db Database, logger *slog.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{db: db, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Introspect reads the current state of table. It returns nil, nil when the
// table does not exist.
func (r *Reconciler) Introspect(ctx context.Context, table, schema string) (*shared.LiveTableState, error) {
	exists, err := r.db.TableExists(ctx, table, schema)
	if err != nil {
		return nil, fmt.Errorf("check table %s: %w", table, err)
	}
	if !exists {
		return nil, nil
	}

	var live shared.LiveTableState
	if live.Columns, err = r.db.DescribeColumns(ctx, table, schema); err != nil {
		return nil, fmt.Errorf("describe columns of %s: %w", table, err)
	}
	if live.Indexes, err = r.db.DescribeIndexes(ctx, table, schema); err != nil {
		return nil, fmt.Errorf("describe indexes of %s: %w", table, err)
	}
	if live.References, err = r.db.DescribeReferences(ctx, table, schema); err != nil {
		return nil, fmt.Errorf("describe references of %s: %w", table, err)
	}
	if live.Options, err = r.db.TableOptions(ctx, table, schema); err != nil {
		return nil, fmt.Errorf("read options of %s: %w", table, err)
	}
	return &live, nil
}

// Reconcile brings table in line with def and returns the operations it
// applied, in order. afterCreate, when not nil, runs once the table has been
// created; it is not called for a table that already existed.
//
// On a failed operation the returned slice still lists what was applied
// before it and the error is an *OperationError.
func (r *Reconciler) Reconcile(ctx context.Context, table string, def shared.TableDefinition, afterCreate func(context.Context) error) ([]Operation, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("table %s: %w", table, err)
	}

	schema := r.db.DefaultSchema()
	live, err := r.Introspect(ctx, table, schema)
	if err != nil {
		return nil, err
	}

	s := &session{r: r, table: table, schema: schema}
	if live == nil {
		err := s.apply(ctx, OpCreateTable, "", func() error {
			return r.db.CreateTable(ctx, table, schema, def)
		})
		if err != nil {
			return s.applied, err
		}
		if afterCreate != nil {
			if err := afterCreate(ctx); err != nil {
				return s.applied, fmt.Errorf("after create table %s: %w", table, err)
			}
		}
		return s.applied, nil
	}

	if err := s.columns(ctx, def.Columns, live.Columns); err != nil {
		return s.applied, err
	}
	if def.References != nil {
		if err := s.references(ctx, def.References, live.References); err != nil {
			return s.applied, err
		}
	}
	if def.Indexes != nil {
		if err := s.indexes(ctx, def.Indexes, live.Indexes); err != nil {
			return s.applied, err
		}
	}

	if len(s.applied) == 0 {
		r.logger.Debug("table up to date", "table", table)
	}
	return s.applied, nil
}

// session tracks the operations applied during one Reconcile call.
type session struct {
	r       *Reconciler
	table   string
	schema  string
	applied []Operation
}

func (s *session) apply(ctx context.Context, kind OpKind, name string, fn func() error) error {
	op := Operation{Kind: kind, Table: s.table, Name: name}
	if err := ctx.Err(); err != nil {
		return &OperationError{Op: op, Cause: err}
	}
	if err := fn(); err != nil {
		s.r.logger.Error("operation failed", "table", s.table, "op", kind.String(), "name", name, "err", err)
		return &OperationError{Op: op, Cause: err}
	}
	s.applied = append(s.applied, op)
	s.r.logger.Info("operation applied", "table", s.table, "op", kind.String(), "name", name)
	if s.r.observe != nil {
		s.r.observe(op)
	}
	return nil
}

func (s *session) columns(ctx context.Context, target []shared.ColumnDescriptor, live []shared.RawColumnDetails) error {
	db := s.r.db
	byName := make(map[string]shared.RawColumnDetails, len(live))
	for _, c := range live {
		byName[c.ColumnName] = c
	}
	declared := make(map[string]struct{}, len(target))

	for _, col := range target {
		declared[col.Name] = struct{}{}
		current, ok := byName[col.Name]
		if !ok {
			if err := s.apply(ctx, OpAddColumn, col.Name, func() error {
				return db.AddColumn(ctx, s.table, s.schema, col)
			}); err != nil {
				return err
			}
			continue
		}
		if columnChanged(col, current) {
			if err := s.apply(ctx, OpModifyColumn, col.Name, func() error {
				return db.ModifyColumn(ctx, s.table, s.schema, col)
			}); err != nil {
				return err
			}
		}
	}

	for _, c := range live {
		if _, ok := declared[c.ColumnName]; ok {
			continue
		}
		if err := s.apply(ctx, OpDropColumn, c.ColumnName, func() error {
			return db.DropColumn(ctx, s.table, s.schema, c.ColumnName)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) references(ctx context.Context, target, live []shared.ReferenceDescriptor) error {
	db := s.r.db
	byName := make(map[string]shared.ReferenceDescriptor, len(live))
	for _, ref := range live {
		byName[ref.Name] = ref
	}
	declared := make(map[string]struct{}, len(target))

	for _, ref := range target {
		declared[ref.Name] = struct{}{}
		current, ok := byName[ref.Name]
		if ok && !referenceChanged(ref, current) {
			continue
		}
		if ok {
			if err := s.apply(ctx, OpDropForeignKey, ref.Name, func() error {
				return db.DropForeignKey(ctx, s.table, s.schema, ref.Name)
			}); err != nil {
				return err
			}
		}
		if err := s.apply(ctx, OpAddForeignKey, ref.Name, func() error {
			return db.AddForeignKey(ctx, s.table, s.schema, ref)
		}); err != nil {
			return err
		}
	}

	for _, ref := range live {
		if _, ok := declared[ref.Name]; ok {
			continue
		}
		if err := s.apply(ctx, OpDropForeignKey, ref.Name, func() error {
			return db.DropForeignKey(ctx, s.table, s.schema, ref.Name)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) indexes(ctx context.Context, target, live []shared.IndexDescriptor) error {
	byName := make(map[string]shared.IndexDescriptor, len(live))
	for _, idx := range live {
		byName[idx.Name] = idx
	}
	declared := make(map[string]struct{}, len(target))

	for _, idx := range target {
		declared[idx.Name] = struct{}{}
		current, ok := byName[idx.Name]
		if ok && !indexChanged(idx, current) {
			continue
		}
		if ok {
			if err := s.dropIndex(ctx, idx.Name); err != nil {
				return err
			}
		}
		if err := s.addIndex(ctx, idx); err != nil {
			return err
		}
	}

	for _, idx := range live {
		if _, ok := declared[idx.Name]; ok {
			continue
		}
		if err := s.dropIndex(ctx, idx.Name); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) addIndex(ctx context.Context, idx shared.IndexDescriptor) error {
	db := s.r.db
	if idx.IsPrimary() {
		return s.apply(ctx, OpAddPrimaryKey, idx.Name, func() error {
			return db.AddPrimaryKey(ctx, s.table, s.schema, idx)
		})
	}
	return s.apply(ctx, OpAddIndex, idx.Name, func() error {
		return db.AddIndex(ctx, s.table, s.schema, idx)
	})
}

func (s *session) dropIndex(ctx context.Context, name string) error {
	db := s.r.db
	if name == shared.PrimaryIndexName {
		return s.apply(ctx, OpDropPrimaryKey, name, func() error {
			return db.DropPrimaryKey(ctx, s.table, s.schema)
		})
	}
	return s.apply(ctx, OpDropIndex, name, func() error {
		return db.DropIndex(ctx, s.table, s.schema, name)
	})
}

// columnChanged compares the rendered type and nullability only. Position,
// auto-increment and primary flags are applied on create and add.
func columnChanged(target shared.ColumnDescriptor, live shared.RawColumnDetails) bool {
	if strings.ToLower(strings.TrimSpace(live.ColumnType)) != typemap.RenderColumn(target) {
		return true
	}
	liveNotNull := strings.EqualFold(live.IsNullable, "NO")
	return target.NotNull != liveNotNull
}

// referenceChanged uses set membership, not position, for column lists.
func referenceChanged(target, live shared.ReferenceDescriptor) bool {
	switch {
	case target.ReferencedTable != live.ReferencedTable:
		return true
	case len(target.Columns) != len(live.Columns):
		return true
	case len(target.ReferencedColumns) != len(live.ReferencedColumns):
		return true
	}
	return !allIn(target.Columns, live.Columns) || !allIn(target.ReferencedColumns, live.ReferencedColumns)
}

// indexChanged uses set membership, not position, for column lists.
func indexChanged(target, live shared.IndexDescriptor) bool {
	if len(target.Columns) != len(live.Columns) {
		return true
	}
	return !allIn(target.Columns, live.Columns)
}

func allIn(names, set []string) bool {
	for _, n := range names {
		if !slices.Contains(set, n) {
			return false
		}
	}
	return true
}
