package generator

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/isaacwassouf/schema-migrator/database/dbtest"
	"github.com/isaacwassouf/schema-migrator/metrics"
	"github.com/isaacwassouf/schema-migrator/migration"
	"github.com/isaacwassouf/schema-migrator/shared"
)

func ordersTable() *dbtest.Table {
	return &dbtest.Table{
		Columns: []shared.RawColumnDetails{
			{ColumnName: "id", DataType: "int", ColumnType: "int(10) unsigned", IsNullable: "NO", ColumnKey: "PRI", Extra: "auto_increment"},
			{ColumnName: "status", DataType: "enum", ColumnType: "enum('new','paid')", IsNullable: "YES"},
			{ColumnName: "total", DataType: "double", ColumnType: "double", IsNullable: "YES"},
			{ColumnName: "price", DataType: "decimal", ColumnType: "decimal(10,2) unsigned", IsNullable: "NO"},
			{ColumnName: "note", DataType: "varchar", ColumnType: "varchar(64)", IsNullable: "YES"},
			{ColumnName: "created_at", DataType: "datetime", ColumnType: "DATETIME", IsNullable: "YES"},
		},
		Indexes: []shared.IndexDescriptor{
			{Name: "PRIMARY", Columns: []string{"id"}},
			{Name: "idx_status", Columns: []string{"status", "created_at"}},
		},
		References: []shared.ReferenceDescriptor{
			{Name: "fk_note", ReferencedSchema: "app", ReferencedTable: "notes", Columns: []string{"note"}, ReferencedColumns: []string{"slug"}},
		},
		Options: map[string]string{"ENGINE": "InnoDB", "TABLE_COLLATION": "utf8mb4_general_ci"},
		Rows: []dbtest.Row{
			{"id": dbtest.Str("1"), "status": dbtest.Str("new"), "total": nil, "price": dbtest.Str("9.99"), "note": dbtest.Str("it's"), "created_at": dbtest.Str("2024-01-02 03:04:05")},
			{"id": dbtest.Str("2"), "status": nil, "total": dbtest.Str(""), "price": dbtest.Str("0.00"), "note": dbtest.Str(""), "created_at": nil},
		},
	}
}

func newSource() *dbtest.DB {
	db := dbtest.New("app")
	db.Put("orders", ordersTable())
	return db
}

func TestParseExportMode(t *testing.T) {
	for in, want := range map[string]ExportMode{"": ExportNone, "none": ExportNone, "Always": ExportAlways, "oncreate": ExportOnCreate} {
		got, err := ParseExportMode(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseExportMode("sometimes")
	require.Error(t, err)
	require.Equal(t, "oncreate", ExportOnCreate.String())
}

func TestGenerateDefinition(t *testing.T) {
	fsys := afero.NewMemMapFs()
	g := New(newSource(), fsys, "migrations", nil)

	doc, err := g.Generate(context.Background(), "1.0.0", "orders", ExportNone)
	require.NoError(t, err)
	require.Equal(t, "OrdersMigration_100", doc.Unit)
	require.Equal(t, migration.FormatVersion, doc.FormatVersion)
	require.Equal(t, []shared.ColumnDescriptor{
		{Name: "id", Kind: shared.Integer, Size: 10, Unsigned: true, NotNull: true, Primary: true, AutoIncrement: true, Position: shared.Position{First: true}},
		{Name: "status", Kind: shared.Char, Size: 1, Position: shared.Position{After: "id"}},
		{Name: "total", Kind: shared.Integer, Position: shared.Position{After: "status"}},
		{Name: "price", Kind: shared.Decimal, Size: 10, Scale: 2, Unsigned: true, NotNull: true, Position: shared.Position{After: "total"}},
		{Name: "note", Kind: shared.Varchar, Size: 64, Position: shared.Position{After: "price"}},
		{Name: "created_at", Kind: shared.Datetime, Position: shared.Position{After: "note"}},
	}, doc.Definition.Columns)
	require.Equal(t, ordersTable().Indexes, doc.Definition.Indexes)
	require.Equal(t, ordersTable().References, doc.Definition.References)
	require.Equal(t, ordersTable().Options, doc.Definition.Options)
	require.Nil(t, doc.Hooks.AfterUp)
	require.Nil(t, doc.Hooks.AfterCreateTable)

	exists, err := afero.DirExists(fsys, "migrations")
	require.NoError(t, err)
	require.False(t, exists, "no snapshot without an export mode")
}

func TestGenerateLeavesMissingFacetsUndeclared(t *testing.T) {
	db := dbtest.New("app")
	db.Put("plain", &dbtest.Table{Columns: []shared.RawColumnDetails{
		{ColumnName: "a", ColumnType: "int(11)", IsNullable: "YES"},
	}})
	doc, err := New(db, afero.NewMemMapFs(), "migrations", nil).Generate(context.Background(), "1", "plain", ExportNone)
	require.NoError(t, err)
	require.Nil(t, doc.Definition.Indexes)
	require.Nil(t, doc.Definition.References)
	require.Nil(t, doc.Definition.Options)
}

func TestGenerateExportAlways(t *testing.T) {
	fsys := afero.NewMemMapFs()
	m := metrics.New()
	doc, err := New(newSource(), fsys, "migrations", nil, WithMetrics(m)).Generate(context.Background(), "1.0.0", "orders", ExportAlways)
	require.NoError(t, err)
	require.Equal(t, &migration.RestoreHook{
		Table:  "orders",
		Fields: []string{"id", "status", "total", "price", "note", "created_at"},
	}, doc.Hooks.AfterUp)
	require.Nil(t, doc.Hooks.AfterCreateTable)

	data, err := afero.ReadFile(fsys, "migrations/100/orders.dat")
	require.NoError(t, err)
	require.Equal(t,
		`1|new|NULL|9.99|it\'s|2024-01-02 03:04:05`+"\n"+
			`2||NULL|0.00||`+"\n",
		string(data))
	require.Equal(t, 1.0, testutil.ToFloat64(m.UnitsGenerated))
}

func TestGenerateExportOnCreate(t *testing.T) {
	fsys := afero.NewMemMapFs()
	doc, err := New(newSource(), fsys, "migrations", nil).Generate(context.Background(), "1.0.0", "orders", ExportOnCreate)
	require.NoError(t, err)
	require.Nil(t, doc.Hooks.AfterUp)
	require.NotNil(t, doc.Hooks.AfterCreateTable)
	exists, err := afero.Exists(fsys, "migrations/100/orders.dat")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestGenerateUnrecognizedTypeWritesNothing(t *testing.T) {
	fsys := afero.NewMemMapFs()
	db := newSource()
	table := ordersTable()
	table.Columns = append(table.Columns, shared.RawColumnDetails{ColumnName: "payload", ColumnType: "blob", IsNullable: "YES"})
	db.Put("orders", table)
	g := New(db, fsys, "migrations", nil)

	_, err := g.Write(context.Background(), "1.0.0", "orders", ExportAlways, true)
	var unrec *shared.UnrecognizedTypeError
	require.ErrorAs(t, err, &unrec)
	require.Equal(t, "blob", unrec.Type)
	require.Equal(t, "payload", unrec.Column)

	exists, err := afero.DirExists(fsys, "migrations")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestWriteIsDeterministic(t *testing.T) {
	ctx := context.Background()
	read := func() (string, string) {
		fsys := afero.NewMemMapFs()
		paths, err := New(newSource(), fsys, "migrations", nil).Write(ctx, "1.0.0", "orders", ExportOnCreate, true)
		require.NoError(t, err)
		require.Equal(t, []string{"migrations/100/orders.yaml", "migrations/100/orders.go"}, paths)
		doc, err := afero.ReadFile(fsys, paths[0])
		require.NoError(t, err)
		src, err := afero.ReadFile(fsys, paths[1])
		require.NoError(t, err)
		return string(doc), string(src)
	}
	doc1, src1 := read()
	doc2, src2 := read()
	require.Equal(t, doc1, doc2)
	require.Equal(t, src1, src2)

	back, err := migration.Unmarshal([]byte(doc1))
	require.NoError(t, err)
	require.Equal(t, "OrdersMigration_100", back.Unit)
}

func TestRenderSource(t *testing.T) {
	doc, err := New(newSource(), afero.NewMemMapFs(), "migrations", nil).Generate(context.Background(), "1.0.0", "orders", ExportAlways)
	require.NoError(t, err)

	src, err := RenderSource(doc, "migrations")
	require.NoError(t, err)
	out := squash(string(src))
	require.Contains(t, out, "package migrations")
	require.Contains(t, out, `Name: "OrdersMigration_100",`)
	require.Contains(t, out, `return mc.MorphTable(ctx, "orders", shared.TableDefinition{`)
	require.Contains(t, out, `Kind: shared.Decimal,`)
	require.Contains(t, out, `Position: shared.Position{After: "note"},`)
	require.Contains(t, out, `{Name: "idx_status", Columns: []string{"status", "created_at"}},`)
	require.Contains(t, out, `"ENGINE": "InnoDB",`)
	require.Contains(t, out, `AfterUp: func(ctx context.Context, mc *migration.Context) error {`)
	require.Contains(t, out, `{Name: "price", Numeric: true},`)
	require.NotContains(t, out, "AfterCreateTable")

	plain := &migration.Document{
		FormatVersion: migration.FormatVersion,
		Unit:          "PlainMigration_1",
		Table:         "plain",
		Version:       "1",
		Definition: shared.TableDefinition{Columns: []shared.ColumnDescriptor{
			{Name: "a", Kind: shared.Text, Position: shared.Position{First: true}},
		}},
	}
	src, err = RenderSource(plain, "units")
	require.NoError(t, err)
	require.NotContains(t, string(src), "snapshot")
	require.NotContains(t, string(src), "Indexes")
}

// squash collapses whitespace runs so assertions do not depend on gofmt
// alignment.
func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func TestGenerateAll(t *testing.T) {
	ctx := context.Background()
	db := newSource()
	db.Put("accounts", &dbtest.Table{Columns: []shared.RawColumnDetails{
		{ColumnName: "id", ColumnType: "int(11)", IsNullable: "NO"},
	}})

	docs, err := New(db, afero.NewMemMapFs(), "migrations", nil).GenerateAll(ctx, "2", ExportNone)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "accounts", docs[0].Table)
	require.Equal(t, "orders", docs[1].Table)

	db.Put("zeta", &dbtest.Table{Columns: []shared.RawColumnDetails{
		{ColumnName: "g", ColumnType: "geometry", IsNullable: "YES"},
	}})
	for _, mode := range []ExportMode{ExportNone, ExportAlways} {
		fsys := afero.NewMemMapFs()
		g := New(db, fsys, "migrations", nil)

		_, err = g.GenerateAll(ctx, "2", mode)
		var unrec *shared.UnrecognizedTypeError
		require.ErrorAs(t, err, &unrec, mode.String())

		paths, err := g.WriteAll(ctx, "2", mode, true)
		require.ErrorAs(t, err, &unrec, mode.String())
		require.Empty(t, paths, mode.String())

		exists, err := afero.DirExists(fsys, "migrations")
		require.NoError(t, err)
		require.False(t, exists, "%s: a failing table leaves no output behind", mode)
	}
}

func TestGeneratedUnitConvergesOnItsSource(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	db := dbtest.New("app")
	require.NoError(t, db.CreateTable(ctx, "orders", "app", shared.TableDefinition{
		Columns: []shared.ColumnDescriptor{
			{Name: "id", Kind: shared.Integer, Size: 10, Unsigned: true, NotNull: true, Primary: true, AutoIncrement: true, Position: shared.Position{First: true}},
			{Name: "total", Kind: shared.Decimal, Size: 8, Scale: 2, Position: shared.Position{After: "id"}},
			{Name: "label", Kind: shared.Varchar, Size: 32, NotNull: true, Position: shared.Position{After: "total"}},
		},
		Indexes: []shared.IndexDescriptor{{Name: "idx_label", Columns: []string{"label"}}},
	}))

	paths, err := New(db, fsys, "migrations", nil).Write(ctx, "1.0.0", "orders", ExportNone, false)
	require.NoError(t, err)
	db.ResetCalls()

	res, err := migration.NewRunner(db, fsys, "migrations", nil).RunFile(ctx, "1.0.0", paths[0])
	require.NoError(t, err)
	require.Equal(t, migration.StatusApplied, res.Status)
	require.Empty(t, res.Operations)
	require.Empty(t, db.Calls())
}

func TestGeneratedLegacyAliasesConverge(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	db := dbtest.New("app")
	db.Put("measures", &dbtest.Table{Columns: []shared.RawColumnDetails{
		{ColumnName: "id", DataType: "int", ColumnType: "int(11)", IsNullable: "NO"},
		{ColumnName: "amount", DataType: "double", ColumnType: "double(10,2)", IsNullable: "YES"},
		{ColumnName: "qty", DataType: "smallint", ColumnType: "smallint(6) unsigned", IsNullable: "YES"},
	}})

	paths, err := New(db, fsys, "migrations", nil).Write(ctx, "1", "measures", ExportNone, false)
	require.NoError(t, err)
	data, err := afero.ReadFile(fsys, paths[0])
	require.NoError(t, err)
	doc, err := migration.Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, shared.ColumnDescriptor{
		Name: "amount", Kind: shared.Integer, Size: 10, Position: shared.Position{After: "id"},
	}, doc.Definition.Columns[1])
	require.NoError(t, doc.Definition.Validate())

	runner := migration.NewRunner(db, fsys, "migrations", nil)
	res, err := runner.RunFile(ctx, "1", paths[0])
	require.NoError(t, err)
	require.Equal(t, migration.StatusApplied, res.Status)
	var applied []string
	for _, op := range res.Operations {
		applied = append(applied, op.String())
	}
	require.Equal(t, []string{"ModifyColumn(measures.amount)", "ModifyColumn(measures.qty)"}, applied)
	require.Equal(t, "int(10)", db.Table("measures").Columns[1].ColumnType)
	require.Equal(t, "int(6) unsigned", db.Table("measures").Columns[2].ColumnType)

	res, err = runner.RunFile(ctx, "1", paths[0])
	require.NoError(t, err)
	require.Empty(t, res.Operations)
}
