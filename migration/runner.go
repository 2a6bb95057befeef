// Package migration runs migration units. A unit is resolved either from a
// registry, for units compiled into the binary, or from a YAML document on
// disk. Running a unit reconciles its table and then runs its hooks.
package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/isaacwassouf/schema-migrator/metrics"
	"github.com/isaacwassouf/schema-migrator/reconciler"
	"github.com/isaacwassouf/schema-migrator/shared"
	"github.com/isaacwassouf/schema-migrator/snapshot"
)

// Database is what a run needs from the database collaborator.
type Database interface {
	reconciler.Database
	snapshot.Beginner
}

// Status is the outcome of a run.
type Status string

const (
	StatusApplied Status = metrics.StatusApplied
	StatusSkipped Status = metrics.StatusSkipped
)

// Result describes one unit run.
type Result struct {
	Unit       string
	Table      string
	Status     Status
	Operations []reconciler.Operation
	Restored   int
}

// Option configures a Runner.
type Option func(*Runner)

// WithRegistry makes Run resolve units from reg instead of DefaultRegistry.
func WithRegistry(reg *Registry) Option {
	return func(r *Runner) { r.registry = reg }
}

// WithMetrics records runs, operations and restored rows on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// Runner executes migration units against a database.
type Runner struct {
	db       Database
	fs       afero.Fs
	root     string
	registry *Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewRunner returns a Runner. root is the migrations directory; the files of
// a version live in Dir(root, version).
func NewRunner(db Database, fsys afero.Fs, root string, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		db:       db,
		fs:       fsys,
		root:     root,
		registry: DefaultRegistry,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run runs the registered unit migrating table at version.
func (r *Runner) Run(ctx context.Context, version, table string) (Result, error) {
	unit, ok := r.registry.Lookup(table, version)
	if !ok {
		r.metrics.ObserveRun(metrics.StatusFailed)
		return Result{Table: table}, &shared.MigrationUnitNotFoundError{Unit: UnitName(table, version)}
	}
	return r.execute(ctx, unit, Dir(r.root, version))
}

// Migrate runs the unit of table at version: the registered one when there
// is one, otherwise the document stored in the version directory.
func (r *Runner) Migrate(ctx context.Context, version, table string) (Result, error) {
	if _, ok := r.registry.Lookup(table, version); ok {
		return r.Run(ctx, version, table)
	}
	return r.RunFile(ctx, version, DocumentPath(Dir(r.root, version), table))
}

// RunFile runs the unit stored at path. A file that does not exist is
// skipped. The document must carry the identity derived from its file name
// and version.
func (r *Runner) RunFile(ctx context.Context, version, path string) (Result, error) {
	expected := UnitName(subjectOf(path), version)
	exists, err := afero.Exists(r.fs, path)
	if err != nil {
		return Result{Unit: expected}, fmt.Errorf("stat %s: %w", path, err)
	}
	if !exists {
		r.logger.Info("migration file not found, skipping", "path", path, "unit", expected)
		r.metrics.ObserveRun(metrics.StatusSkipped)
		return Result{Unit: expected, Status: StatusSkipped}, nil
	}

	doc, err := Load(r.fs, path)
	if err != nil {
		r.metrics.ObserveRun(metrics.StatusFailed)
		return Result{Unit: expected}, err
	}
	if doc.Unit != expected {
		r.metrics.ObserveRun(metrics.StatusFailed)
		return Result{Unit: expected}, &shared.MigrationUnitNotFoundError{Unit: expected, Path: path}
	}
	return r.execute(ctx, UnitFromDocument(doc), filepath.Dir(path))
}

// RunDir runs every document in dir in lexical order and stops at the first
// failure. The results of the units run so far are returned with the error.
func (r *Runner) RunDir(ctx context.Context, version, dir string) ([]Result, error) {
	paths, err := afero.Glob(r.fs, filepath.Join(dir, "*"+DocumentExt))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	sort.Strings(paths)

	results := make([]Result, 0, len(paths))
	for _, path := range paths {
		res, err := r.RunFile(ctx, version, path)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *Runner) execute(ctx context.Context, unit *Unit, dir string) (Result, error) {
	logger := r.logger.With("run_id", uuid.NewString(), "unit", unit.Name)
	mc := &Context{
		unit:      unit,
		db:        r.db,
		snapshots: snapshot.New(r.fs, dir, logger),
		metrics:   r.metrics,
		logger:    logger,
	}
	mc.reconciler = reconciler.New(r.db, logger, reconciler.WithObserver(func(op reconciler.Operation) {
		r.metrics.ObserveOperation(op.Kind.String())
	}))

	logger.Info("running migration unit", "table", unit.Table, "version", unit.Version)
	err := unit.Up(ctx, mc)
	if err == nil && unit.AfterUp != nil {
		if err = unit.AfterUp(ctx, mc); err != nil {
			err = fmt.Errorf("after up: %w", err)
		}
	}

	res := Result{
		Unit:       unit.Name,
		Table:      unit.Table,
		Operations: mc.Operations(),
		Restored:   mc.restored,
	}
	if err != nil {
		logger.Error("migration unit failed", "applied", len(res.Operations), "err", err)
		r.metrics.ObserveRun(metrics.StatusFailed)
		return res, fmt.Errorf("migration %s: %w", unit.Name, err)
	}
	res.Status = StatusApplied
	logger.Info("migration unit applied", "operations", len(res.Operations), "restored", res.Restored)
	r.metrics.ObserveRun(metrics.StatusApplied)
	return res, nil
}

// UnitFromDocument builds the unit a document describes: Up reconciles the
// document's table and each declared hook restores its snapshot.
func UnitFromDocument(doc *Document) *Unit {
	u := &Unit{
		Name:    doc.Unit,
		Table:   doc.Table,
		Version: doc.Version,
		Up: func(ctx context.Context, mc *Context) error {
			return mc.MorphTable(ctx, doc.Table, doc.Definition)
		},
	}
	if h := doc.Hooks.AfterUp; h != nil {
		u.AfterUp = restoreHook(doc, h)
	}
	if h := doc.Hooks.AfterCreateTable; h != nil {
		u.AfterCreateTable = restoreHook(doc, h)
	}
	return u
}

func restoreHook(doc *Document, h *RestoreHook) Hook {
	fields := doc.RestoreFields(h)
	return func(ctx context.Context, mc *Context) error {
		return mc.BatchInsert(ctx, h.Table, fields)
	}
}

// IsNotFound reports whether err is a MigrationUnitNotFoundError.
func IsNotFound(err error) bool {
	var nf *shared.MigrationUnitNotFoundError
	return errors.As(err, &nf)
}
