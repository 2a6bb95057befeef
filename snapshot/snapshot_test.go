package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/isaacwassouf/schema-migrator/database/dbtest"
	"github.com/isaacwassouf/schema-migrator/shared"
)

var userFields = []Field{
	{Name: "id", Numeric: true},
	{Name: "name", Numeric: false},
	{Name: "score", Numeric: true},
}

func usersTable(rows ...dbtest.Row) *dbtest.Table {
	return &dbtest.Table{
		Columns: []shared.RawColumnDetails{
			{ColumnName: "id", ColumnType: "int(10) unsigned", IsNullable: "NO", ColumnKey: "PRI"},
			{ColumnName: "name", ColumnType: "varchar(64)", IsNullable: "YES"},
			{ColumnName: "score", ColumnType: "decimal(5,2)", IsNullable: "YES"},
		},
		Rows: rows,
	}
}

func TestEncodeRecord(t *testing.T) {
	line, err := EncodeRecord(userFields, []sql.NullString{
		{String: "1", Valid: true},
		{String: `O'Brien "Bob" \ co`, Valid: true},
		{String: "", Valid: true},
	})
	require.NoError(t, err)
	require.Equal(t, `1|O\'Brien \"Bob\" \\ co|NULL`, line)

	line, err = EncodeRecord(userFields, []sql.NullString{
		{String: "0", Valid: true},
		{String: "", Valid: true},
		{},
	})
	require.NoError(t, err)
	require.Equal(t, "0||NULL", line)

	_, err = EncodeRecord(userFields, []sql.NullString{{String: "1", Valid: true}})
	require.Error(t, err)
}

func TestDecodeRecord(t *testing.T) {
	values, err := DecodeRecord(userFields, `7|O\'Brien \\ x|NULL`)
	require.NoError(t, err)
	require.Equal(t, []any{"7", `O'Brien \ x`, nil}, values)

	values, err = DecodeRecord(userFields, "0|NULL|1.50")
	require.NoError(t, err)
	require.Equal(t, []any{"0", "NULL", "1.50"}, values, "NULL on a textual field is text")

	_, err = DecodeRecord(userFields, "1|2")
	require.Error(t, err)
}

func TestEscapeRoundTrip(t *testing.T) {
	for _, s := range []string{"", "plain", `a\b`, `'"`, "nul\x00byte", `trailing\`} {
		require.Equal(t, s, unescape(escape(s)), s)
	}
}

func TestSnapshotRewritesFile(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	db := dbtest.New("app")
	db.Put("users", usersTable(
		dbtest.Row{"id": dbtest.Str("1"), "name": dbtest.Str("ann"), "score": dbtest.Str("9.50")},
		dbtest.Row{"id": dbtest.Str("2"), "name": dbtest.Str(""), "score": nil},
	))
	s := New(fsys, "migrations/1.0.0", nil)

	rows, err := db.QueryRows(ctx, "users", FieldNames(userFields))
	require.NoError(t, err)
	n, err := s.Snapshot(ctx, "users", userFields, rows)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	data, err := afero.ReadFile(fsys, "migrations/1.0.0/users.dat")
	require.NoError(t, err)
	require.Equal(t, "1|ann|9.50"+lineSeparator+"2||NULL"+lineSeparator, string(data))

	db.Put("users", usersTable(dbtest.Row{"id": dbtest.Str("3"), "name": dbtest.Str("cy"), "score": dbtest.Str("1")}))
	rows, err = db.QueryRows(ctx, "users", FieldNames(userFields))
	require.NoError(t, err)
	_, err = s.Snapshot(ctx, "users", userFields, rows)
	require.NoError(t, err)

	data, err = afero.ReadFile(fsys, "migrations/1.0.0/users.dat")
	require.NoError(t, err)
	require.Equal(t, "3|cy|1"+lineSeparator, string(data))
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "m/users.dat", []byte("1|ann|NULL\n2||3.5\r\n"), 0o644))

	db := dbtest.New("app")
	db.Put("users", usersTable(dbtest.Row{"id": dbtest.Str("99"), "name": dbtest.Str("old"), "score": nil}))

	res, err := New(fsys, "m", nil).Restore(ctx, db, "users", userFields)
	require.NoError(t, err)
	require.Equal(t, Result{Rows: 2}, res)

	rows := db.Table("users").Rows
	require.Len(t, rows, 2)
	require.Equal(t, "1", *rows[0]["id"])
	require.Equal(t, "ann", *rows[0]["name"])
	require.Nil(t, rows[0]["score"])
	require.Equal(t, "", *rows[1]["name"])
	require.Equal(t, "3.5", *rows[1]["score"])
}

func TestRestoreMissingFileIsSkipped(t *testing.T) {
	db := dbtest.New("app")
	db.Put("users", usersTable(dbtest.Row{"id": dbtest.Str("1"), "name": dbtest.Str("keep"), "score": nil}))

	res, err := New(afero.NewMemMapFs(), "m", nil).Restore(context.Background(), db, "users", userFields)
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.Empty(t, db.Calls())
	require.Len(t, db.Table("users").Rows, 1)
}

func TestRestoreRollsBackOnInsertFailure(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "m/users.dat", []byte("1|a|1\n2|b|2\n3|c|3\n"), 0o644))

	db := dbtest.New("app")
	db.Put("users", usersTable(dbtest.Row{"id": dbtest.Str("42"), "name": dbtest.Str("before"), "score": nil}))
	db.FailInsertAt = 2

	_, err := New(fsys, "m", nil).Restore(ctx, db, "users", userFields)
	var restoreErr *shared.RestoreError
	require.ErrorAs(t, err, &restoreErr)
	require.Equal(t, "users", restoreErr.Table)
	require.Equal(t, 2, restoreErr.Line)

	rows := db.Table("users").Rows
	require.Len(t, rows, 1)
	require.Equal(t, "42", *rows[0]["id"])
	require.Contains(t, db.Calls(), dbtest.Call{Op: "Rollback"})
}

func TestRestoreRollsBackOnMalformedLine(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "m/users.dat", []byte("1|a|1\nbroken\n"), 0o644))
	db := dbtest.New("app")
	db.Put("users", usersTable())

	_, err := New(fsys, "m", nil).Restore(context.Background(), db, "users", userFields)
	require.Error(t, err)
	require.Empty(t, db.Table("users").Rows)
}

func TestRestoreBeginFailure(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "m/users.dat", []byte("1|a|1\n"), 0o644))
	db := dbtest.New("app")
	db.Put("users", usersTable())
	boom := errors.New("no connection")
	db.FailOn["Begin"] = boom

	_, err := New(fsys, "m", nil).Restore(context.Background(), db, "users", userFields)
	require.ErrorIs(t, err, boom)
}

func TestFieldsFor(t *testing.T) {
	fields := FieldsFor([]shared.ColumnDescriptor{
		{Name: "id", Kind: shared.Integer},
		{Name: "flag", Kind: shared.Char, Size: 1},
		{Name: "price", Kind: shared.Decimal},
	})
	require.Equal(t, []Field{{"id", true}, {"flag", false}, {"price", true}}, fields)
}
