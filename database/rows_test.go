package database

import (
	"context"
	"database/sql"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/isaacwassouf/schema-migrator/shared"
	"github.com/isaacwassouf/schema-migrator/snapshot"
)

var scoreFields = []snapshot.Field{
	{Name: "id", Numeric: true},
	{Name: "name"},
	{Name: "score", Numeric: true},
}

// newSQLite returns a collaborator over an in-memory SQLite database. Row
// statements are plain SQL that SQLite accepts as well, backticks included.
func newSQLite(t *testing.T) *MigratorDB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE scores (id INTEGER NOT NULL PRIMARY KEY, name TEXT, score TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO scores (id, name, score) VALUES (1, 'ann', '9.50'), (2, '', NULL)`)
	require.NoError(t, err)
	return New(db, "main", nil)
}

func readAll(t *testing.T, m *MigratorDB) [][]sql.NullString {
	t.Helper()
	rows, err := m.QueryRows(context.Background(), "scores", snapshot.FieldNames(scoreFields))
	require.NoError(t, err)
	defer rows.Close()
	var out [][]sql.NullString
	for rows.Next() {
		values, err := rows.Values()
		require.NoError(t, err)
		out = append(out, values)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestQueryRows(t *testing.T) {
	got := readAll(t, newSQLite(t))
	require.Equal(t, [][]sql.NullString{
		{{String: "1", Valid: true}, {String: "ann", Valid: true}, {String: "9.50", Valid: true}},
		{{String: "2", Valid: true}, {String: "", Valid: true}, {}},
	}, got)
}

func TestTxCommitAndRollback(t *testing.T) {
	ctx := context.Background()
	m := newSQLite(t)

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Delete(ctx, "scores"))
	require.NoError(t, tx.Insert(ctx, "scores", []string{"id", "name", "score"}, []any{"5", "eve", nil}))
	require.NoError(t, tx.Rollback())
	require.Len(t, readAll(t, m), 2)

	tx, err = m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Delete(ctx, "scores"))
	require.NoError(t, tx.Insert(ctx, "scores", []string{"id", "name", "score"}, []any{"5", "eve", nil}))
	require.Error(t, tx.Insert(ctx, "scores", []string{"id"}, []any{"6", "x"}))
	require.NoError(t, tx.Commit())

	got := readAll(t, m)
	require.Len(t, got, 1)
	require.Equal(t, "eve", got[0][1].String)
	require.False(t, got[0][2].Valid)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := newSQLite(t)
	fsys := afero.NewMemMapFs()
	s := snapshot.New(fsys, "migrations/1", nil)

	rows, err := m.QueryRows(ctx, "scores", snapshot.FieldNames(scoreFields))
	require.NoError(t, err)
	n, err := s.Snapshot(ctx, "scores", scoreFields, rows)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	before := readAll(t, m)

	_, err = m.Db.Exec(`UPDATE scores SET name = 'changed'`)
	require.NoError(t, err)

	res, err := s.Restore(ctx, m, "scores", scoreFields)
	require.NoError(t, err)
	require.Equal(t, snapshot.Result{Rows: 2}, res)
	require.Equal(t, before, readAll(t, m))
}

func TestRestoreIsAtomic(t *testing.T) {
	ctx := context.Background()
	m := newSQLite(t)
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "m/scores.dat", []byte("7|a|1\n7|b|2\n"), 0o644))
	before := readAll(t, m)

	_, err := snapshot.New(fsys, "m", nil).Restore(ctx, m, "scores", scoreFields)
	var restoreErr *shared.RestoreError
	require.ErrorAs(t, err, &restoreErr)
	require.Equal(t, 2, restoreErr.Line)
	require.Equal(t, before, readAll(t, m))
}
