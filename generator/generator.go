// Package generator derives migration units from live tables.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"

	"github.com/isaacwassouf/schema-migrator/metrics"
	"github.com/isaacwassouf/schema-migrator/migration"
	"github.com/isaacwassouf/schema-migrator/shared"
	"github.com/isaacwassouf/schema-migrator/snapshot"
	"github.com/isaacwassouf/schema-migrator/typemap"
)

// Source is the database the generator reads from.
type Source interface {
	shared.Introspector
	QueryRows(ctx context.Context, table string, columns []string) (shared.RowSource, error)
}

// Option configures a Generator.
type Option func(*Generator)

// WithMetrics counts generated units on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

// WithPackage sets the package name of rendered Go sources.
func WithPackage(name string) Option {
	return func(g *Generator) { g.pkg = name }
}

// Generator turns live tables into migration documents.
type Generator struct {
	src     Source
	fs      afero.Fs
	root    string
	pkg     string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New returns a Generator writing below the migrations directory root.
func New(src Source, fsys afero.Fs, root string, logger *slog.Logger, opts ...Option) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Generator{src: src, fs: fsys, root: root, pkg: "migrations", logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Describe builds the definition of table from introspection. Columns keep
// their storage order; indexes, references and options keep the order the
// database reports them in. Facets the table does not have are left nil.
func (g *Generator) Describe(ctx context.Context, table string) (shared.TableDefinition, error) {
	var def shared.TableDefinition
	schema := g.src.DefaultSchema()

	raw, err := g.src.DescribeColumns(ctx, table, schema)
	if err != nil {
		return def, fmt.Errorf("describe columns of %s: %w", table, err)
	}
	previous := ""
	for _, c := range raw {
		col, err := describeColumn(c)
		if err != nil {
			return shared.TableDefinition{}, err
		}
		if previous == "" {
			col.Position.First = true
		} else {
			col.Position.After = previous
		}
		previous = col.Name
		def.Columns = append(def.Columns, col)
	}

	indexes, err := g.src.DescribeIndexes(ctx, table, schema)
	if err != nil {
		return shared.TableDefinition{}, fmt.Errorf("describe indexes of %s: %w", table, err)
	}
	for _, idx := range indexes {
		def.Indexes = append(def.Indexes, shared.IndexDescriptor{Name: idx.Name, Columns: slices.Clone(idx.Columns)})
	}

	refs, err := g.src.DescribeReferences(ctx, table, schema)
	if err != nil {
		return shared.TableDefinition{}, fmt.Errorf("describe references of %s: %w", table, err)
	}
	for _, ref := range refs {
		ref.Columns = slices.Clone(ref.Columns)
		ref.ReferencedColumns = slices.Clone(ref.ReferencedColumns)
		def.References = append(def.References, ref)
	}

	options, err := g.src.TableOptions(ctx, table, schema)
	if err != nil {
		return shared.TableDefinition{}, fmt.Errorf("read options of %s: %w", table, err)
	}
	if len(options) > 0 {
		def.Options = make(map[string]string, len(options))
		for k, v := range options {
			def.Options[k] = v
		}
	}
	return def, nil
}

func describeColumn(c shared.RawColumnDetails) (shared.ColumnDescriptor, error) {
	info, err := typemap.Parse(c.ColumnType, c.ColumnName)
	if err != nil {
		return shared.ColumnDescriptor{}, err
	}
	col := shared.ColumnDescriptor{
		Name:          c.ColumnName,
		Kind:          info.Kind,
		Size:          info.Size,
		Scale:         info.Scale,
		Unsigned:      info.Unsigned && info.Numeric(),
		NotNull:       strings.EqualFold(c.IsNullable, "NO"),
		Primary:       c.ColumnKey == "PRI",
		AutoIncrement: strings.Contains(strings.ToLower(c.Extra), "auto_increment"),
	}
	switch col.Kind {
	case shared.Date, shared.Datetime, shared.Text:
		col.Size = 0
	}
	return col, nil
}

// Generate builds the migration document of table at version. With an
// export mode other than ExportNone the table rows are snapshotted into the
// version directory as well. Nothing is written when the table has a column
// type outside the supported vocabulary.
func (g *Generator) Generate(ctx context.Context, version, table string, mode ExportMode) (*migration.Document, error) {
	doc, err := g.document(ctx, version, table, mode)
	if err != nil {
		return nil, err
	}
	if err := g.finish(ctx, doc, mode); err != nil {
		return nil, err
	}
	return doc, nil
}

// document describes table and builds its unit without writing anything.
func (g *Generator) document(ctx context.Context, version, table string, mode ExportMode) (*migration.Document, error) {
	def, err := g.Describe(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", table, err)
	}
	if len(def.Columns) == 0 {
		return nil, fmt.Errorf("generate %s: %w", table, shared.ErrEmptyOrInvalidColumnSet)
	}

	doc := &migration.Document{
		FormatVersion: migration.FormatVersion,
		Unit:          migration.UnitName(table, version),
		Table:         table,
		Version:       version,
		Definition:    def,
	}
	if exports(mode) {
		hook := &migration.RestoreHook{Table: table, Fields: def.ColumnNames()}
		if mode == ExportAlways {
			doc.Hooks.AfterUp = hook
		} else {
			doc.Hooks.AfterCreateTable = hook
		}
	}
	return doc, nil
}

// describeAll builds the unit of every table, stopping at the first failure.
func (g *Generator) describeAll(ctx context.Context, version string, mode ExportMode) ([]*migration.Document, error) {
	tables, err := g.src.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	docs := make([]*migration.Document, 0, len(tables))
	for _, table := range tables {
		doc, err := g.document(ctx, version, table, mode)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func exports(mode ExportMode) bool {
	return mode == ExportAlways || mode == ExportOnCreate
}

// finish exports the table data of doc when mode asks for it.
func (g *Generator) finish(ctx context.Context, doc *migration.Document, mode ExportMode) error {
	if exports(mode) {
		if err := g.export(ctx, doc.Version, doc.Table, doc.Definition); err != nil {
			return fmt.Errorf("generate %s: %w", doc.Table, err)
		}
	}
	g.metrics.IncUnitsGenerated()
	g.logger.Info("migration unit generated", "unit", doc.Unit, "table", doc.Table, "export", mode.String())
	return nil
}

func (g *Generator) export(ctx context.Context, version, table string, def shared.TableDefinition) error {
	rows, err := g.src.QueryRows(ctx, table, def.ColumnNames())
	if err != nil {
		return fmt.Errorf("query rows: %w", err)
	}
	s := snapshot.New(g.fs, migration.Dir(g.root, version), g.logger)
	n, err := s.Snapshot(ctx, table, snapshot.FieldsFor(def.Columns), rows)
	if err != nil {
		return err
	}
	g.logger.Info("table data exported", "table", table, "rows", n, "path", s.Path(table))
	return nil
}

// GenerateAll generates a document for every table, one table at a time.
// Every table is described before any data is exported, so a table that
// cannot be described leaves nothing behind.
func (g *Generator) GenerateAll(ctx context.Context, version string, mode ExportMode) ([]*migration.Document, error) {
	docs, err := g.describeAll(ctx, version, mode)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if err := g.finish(ctx, doc, mode); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// Write generates the unit of table and stores it in the version
// directory. With source set the Go rendering is written next to the
// document. It returns the paths written.
func (g *Generator) Write(ctx context.Context, version, table string, mode ExportMode, source bool) ([]string, error) {
	doc, err := g.document(ctx, version, table, mode)
	if err != nil {
		return nil, err
	}
	rendered, err := g.render(doc, source)
	if err != nil {
		return nil, err
	}
	if err := g.finish(ctx, doc, mode); err != nil {
		return nil, err
	}
	return g.save(doc, rendered)
}

// WriteAll is Write for every table, in the order the database lists them.
// All units are built and rendered before the first file is written.
func (g *Generator) WriteAll(ctx context.Context, version string, mode ExportMode, source bool) ([]string, error) {
	docs, err := g.describeAll(ctx, version, mode)
	if err != nil {
		return nil, err
	}
	rendered := make([][]byte, len(docs))
	for i, doc := range docs {
		if rendered[i], err = g.render(doc, source); err != nil {
			return nil, err
		}
	}

	var paths []string
	for i, doc := range docs {
		if err := g.finish(ctx, doc, mode); err != nil {
			return paths, err
		}
		written, err := g.save(doc, rendered[i])
		paths = append(paths, written...)
		if err != nil {
			return paths, err
		}
	}
	return paths, nil
}

func (g *Generator) render(doc *migration.Document, source bool) ([]byte, error) {
	if !source {
		return nil, nil
	}
	return RenderSource(doc, g.pkg)
}

// save writes doc and, when rendered is not nil, its Go source.
func (g *Generator) save(doc *migration.Document, rendered []byte) ([]string, error) {
	dir := migration.Dir(g.root, doc.Version)
	path, err := migration.Save(g.fs, dir, doc)
	if err != nil {
		return nil, err
	}
	paths := []string{path}
	if rendered != nil {
		goPath := filepath.Join(dir, doc.Table+".go")
		if err := afero.WriteFile(g.fs, goPath, rendered, 0o644); err != nil {
			return paths, fmt.Errorf("write %s: %w", goPath, err)
		}
		paths = append(paths, goPath)
	}
	return paths, nil
}
