package migration

import (
	"context"
	"log/slog"
	"slices"

	"github.com/isaacwassouf/schema-migrator/metrics"
	"github.com/isaacwassouf/schema-migrator/reconciler"
	"github.com/isaacwassouf/schema-migrator/shared"
	"github.com/isaacwassouf/schema-migrator/snapshot"
)

// Context is the handle a unit works through during one run. It is not
// shared between runs.
type Context struct {
	unit       *Unit
	reconciler *reconciler.Reconciler
	snapshots  *snapshot.Snapshotter
	db         Database
	metrics    *metrics.Metrics
	logger     *slog.Logger

	operations []reconciler.Operation
	restored   int
}

// Unit returns the unit being run.
func (c *Context) Unit() *Unit { return c.unit }

// Logger returns the logger of the run.
func (c *Context) Logger() *slog.Logger { return c.logger }

// MorphTable reconciles table with def. The unit's AfterCreateTable hook
// runs when the table had to be created.
func (c *Context) MorphTable(ctx context.Context, table string, def shared.TableDefinition) error {
	var afterCreate func(context.Context) error
	if c.unit.AfterCreateTable != nil {
		afterCreate = func(ctx context.Context) error {
			return c.unit.AfterCreateTable(ctx, c)
		}
	}
	ops, err := c.reconciler.Reconcile(ctx, table, def, afterCreate)
	c.operations = append(c.operations, ops...)
	return err
}

// BatchInsert replaces the rows of table with the content of its snapshot
// file. A missing file is not an error.
func (c *Context) BatchInsert(ctx context.Context, table string, fields []snapshot.Field) error {
	res, err := c.snapshots.Restore(ctx, c.db, table, fields)
	if err != nil {
		return err
	}
	c.restored += res.Rows
	c.metrics.AddRestoredRows(res.Rows)
	return nil
}

// Operations returns the operations applied so far in this run.
func (c *Context) Operations() []reconciler.Operation {
	return slices.Clone(c.operations)
}
