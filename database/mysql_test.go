package database

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/isaacwassouf/schema-migrator/generator"
	"github.com/isaacwassouf/schema-migrator/reconciler"
	"github.com/isaacwassouf/schema-migrator/shared"
	"github.com/isaacwassouf/schema-migrator/typemap"
	"github.com/isaacwassouf/schema-migrator/utils"
)

// openLive connects to the server named by MYSQL_TEST_DSN, or skips.
func openLive(t *testing.T) *MigratorDB {
	t.Helper()
	dsn := utils.GetEnvVar("MYSQL_TEST_DSN", "")
	if dsn == "" {
		t.Skip("MYSQL_TEST_DSN not set")
	}
	m, err := Open(dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	require.NoError(t, m.Ping(context.Background()))
	return m
}

func dropTables(t *testing.T, m *MigratorDB, tables ...string) {
	t.Helper()
	for _, table := range tables {
		_, err := m.Db.Exec("DROP TABLE IF EXISTS " + utils.QualifiedName(m.DefaultSchema(), table))
		require.NoError(t, err)
	}
}

func TestLiveReconcileAndGenerate(t *testing.T) {
	ctx := context.Background()
	m := openLive(t)
	dropTables(t, m, "sm_members", "sm_teams")
	t.Cleanup(func() { dropTables(t, m, "sm_members", "sm_teams") })

	schema := m.DefaultSchema()
	r := reconciler.New(m, nil)

	teams := shared.TableDefinition{
		Columns: []shared.ColumnDescriptor{
			{Name: "id", Kind: shared.Integer, Size: 10, Unsigned: true, NotNull: true, Primary: true, AutoIncrement: true, Position: shared.Position{First: true}},
		},
		Indexes: []shared.IndexDescriptor{{Name: "PRIMARY", Columns: []string{"id"}}},
	}
	_, err := r.Reconcile(ctx, "sm_teams", teams, nil)
	require.NoError(t, err)

	// Servers without integer display widths report int(10) as int.
	live, err := m.DescribeColumns(ctx, "sm_teams", schema)
	require.NoError(t, err)
	info, err := typemap.Parse(live[0].ColumnType, live[0].ColumnName)
	require.NoError(t, err)
	width := info.Size

	members := shared.TableDefinition{
		Columns: []shared.ColumnDescriptor{
			{Name: "id", Kind: shared.Integer, Size: width, Unsigned: true, NotNull: true, Primary: true, AutoIncrement: true, Position: shared.Position{First: true}},
			{Name: "team_id", Kind: shared.Integer, Size: width, Unsigned: true, NotNull: true, Position: shared.Position{After: "id"}},
			{Name: "email", Kind: shared.Varchar, Size: 128, NotNull: true, Position: shared.Position{After: "team_id"}},
			{Name: "balance", Kind: shared.Decimal, Size: 10, Scale: 2, Position: shared.Position{After: "email"}},
		},
		Indexes: []shared.IndexDescriptor{
			{Name: "PRIMARY", Columns: []string{"id"}},
			{Name: "fk_members_team", Columns: []string{"team_id"}},
			{Name: "idx_email", Columns: []string{"email"}},
		},
		References: []shared.ReferenceDescriptor{
			{Name: "fk_members_team", ReferencedSchema: schema, ReferencedTable: "sm_teams", Columns: []string{"team_id"}, ReferencedColumns: []string{"id"}},
		},
		Options: map[string]string{"ENGINE": "InnoDB"},
	}
	ops, err := r.Reconcile(ctx, "sm_members", members, nil)
	require.NoError(t, err)
	require.Len(t, ops, 1)

	ops, err = r.Reconcile(ctx, "sm_members", members, nil)
	require.NoError(t, err)
	require.Empty(t, ops, "reconciling an up to date table is a no-op")

	members.Columns[2].Size = 255
	members.Columns = append(members.Columns, shared.ColumnDescriptor{
		Name: "joined_at", Kind: shared.Datetime, Position: shared.Position{After: "balance"},
	})
	members.Indexes[2].Columns = []string{"email", "joined_at"}
	ops, err = r.Reconcile(ctx, "sm_members", members, nil)
	require.NoError(t, err)
	kinds := make([]reconciler.OpKind, len(ops))
	for i, op := range ops {
		kinds[i] = op.Kind
	}
	require.Equal(t, []reconciler.OpKind{
		reconciler.OpModifyColumn, reconciler.OpAddColumn, reconciler.OpDropIndex, reconciler.OpAddIndex,
	}, kinds)

	doc, err := generator.New(m, afero.NewMemMapFs(), "migrations", nil).Generate(ctx, "1", "sm_members", generator.ExportNone)
	require.NoError(t, err)
	require.Equal(t, members.Columns, doc.Definition.Columns)
	require.Equal(t, members.References, doc.Definition.References)
	require.Equal(t, "InnoDB", doc.Definition.Options["ENGINE"])

	ops, err = r.Reconcile(ctx, "sm_members", doc.Definition, nil)
	require.NoError(t, err)
	require.Empty(t, ops)

	tables, err := m.ListTables(ctx)
	require.NoError(t, err)
	require.Contains(t, tables, "sm_members")
}
