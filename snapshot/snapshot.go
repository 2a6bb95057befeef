// Package snapshot captures table rows to a flat file and restores them.
//
// A snapshot file holds one line per row. Fields are joined with '|';
// textual values are backslash-escaped and left unquoted, and a numeric
// field that is NULL or empty is written as the bare token NULL. The file is
// rewritten from scratch on every snapshot.
package snapshot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/isaacwassouf/schema-migrator/shared"
)

// maxLineSize bounds a single snapshot line on restore.
const maxLineSize = 64 << 20

// Beginner opens row-level transactions.
type Beginner interface {
	Begin(ctx context.Context) (shared.Tx, error)
}

// Result describes the outcome of a restore.
type Result struct {
	Rows    int
	Skipped bool
}

// Snapshotter reads and writes snapshot files under a migration directory.
type Snapshotter struct {
	fs     afero.Fs
	dir    string
	logger *slog.Logger
}

// New returns a Snapshotter storing files in dir on fsys.
func New(fsys afero.Fs, dir string, logger *slog.Logger) *Snapshotter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Snapshotter{fs: fsys, dir: dir, logger: logger}
}

// Dir returns the directory snapshot files live in.
func (s *Snapshotter) Dir() string {
	return s.dir
}

// Path returns the snapshot file of table.
func (s *Snapshotter) Path(table string) string {
	return filepath.Join(s.dir, table+".dat")
}

// Snapshot writes every row of rows to the table's snapshot file, replacing
// any previous content. It returns the number of rows written. rows is
// closed before returning.
func (s *Snapshotter) Snapshot(ctx context.Context, table string, fields []Field, rows shared.RowSource) (n int, err error) {
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close rows: %w", cerr)
		}
	}()

	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return 0, fmt.Errorf("create snapshot dir: %w", err)
	}
	path := s.Path(table)
	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		values, err := rows.Values()
		if err != nil {
			return n, fmt.Errorf("read row %d of %s: %w", n+1, table, err)
		}
		line, err := EncodeRecord(fields, values)
		if err != nil {
			return n, fmt.Errorf("encode row %d of %s: %w", n+1, table, err)
		}
		if _, err := w.WriteString(line + lineSeparator); err != nil {
			return n, fmt.Errorf("write snapshot %s: %w", path, err)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("iterate rows of %s: %w", table, err)
	}
	if err := w.Flush(); err != nil {
		return n, fmt.Errorf("write snapshot %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return n, fmt.Errorf("close snapshot %s: %w", path, err)
	}

	s.logger.Info("snapshot written", "table", table, "rows", n, "path", path)
	return n, nil
}

// Restore replaces the contents of table with the rows of its snapshot file
// in a single transaction. A missing file is not an error: the result is
// marked Skipped and the database is not touched. On any failure the
// transaction is rolled back and a *shared.RestoreError is returned.
func (s *Snapshotter) Restore(ctx context.Context, db Beginner, table string, fields []Field) (Result, error) {
	path := s.Path(table)
	f, err := s.fs.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("no snapshot to restore", "table", table, "path", path)
		return Result{Skipped: true}, nil
	}
	if err != nil {
		return Result{}, &shared.RestoreError{Table: table, Cause: err}
	}
	defer f.Close()

	tx, err := db.Begin(ctx)
	if err != nil {
		return Result{}, &shared.RestoreError{Table: table, Cause: fmt.Errorf("begin: %w", err)}
	}
	rows, line, err := s.apply(ctx, tx, f, table, fields)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return Result{}, &shared.RestoreError{Table: table, Line: line, Cause: err}
	}
	if err := tx.Commit(); err != nil {
		return Result{}, &shared.RestoreError{Table: table, Cause: fmt.Errorf("commit: %w", err)}
	}

	s.logger.Info("snapshot restored", "table", table, "rows", rows)
	return Result{Rows: rows}, nil
}

func (s *Snapshotter) apply(ctx context.Context, tx shared.Tx, f afero.File, table string, fields []Field) (rows, line int, err error) {
	if err := tx.Delete(ctx, table); err != nil {
		return 0, 0, fmt.Errorf("delete: %w", err)
	}

	names := FieldNames(fields)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line++
		values, err := DecodeRecord(fields, strings.TrimSuffix(sc.Text(), "\r"))
		if err != nil {
			return rows, line, err
		}
		if err := tx.Insert(ctx, table, names, values); err != nil {
			return rows, line, fmt.Errorf("insert: %w", err)
		}
		rows++
	}
	if err := sc.Err(); err != nil {
		return rows, line, fmt.Errorf("read snapshot: %w", err)
	}
	return rows, 0, nil
}
