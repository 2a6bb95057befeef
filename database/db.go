// Package database is the MySQL collaborator of the migrator: it reads table
// structure from information_schema, issues one DDL statement per structural
// operation and moves rows for snapshots.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-sql-driver/mysql"

	"github.com/isaacwassouf/schema-migrator/shared"
)

// MySQL error numbers the migrator tells apart.
const (
	errNoSuchTable   = 1146
	errCantDropField = 1091
)

// MigratorDB wraps the connection the migrator works on. Schema is the
// database every unqualified table lives in.
type MigratorDB struct {
	Db     *sql.DB
	schema string
	logger *slog.Logger
}

// Open connects to MySQL with dsn. The default schema is the DSN's
// database name.
func Open(dsn string, logger *slog.Logger) (*MigratorDB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.DBName == "" {
		return nil, errors.New("dsn does not name a database")
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	return New(sql.OpenDB(connector), cfg.DBName, logger), nil
}

// New wraps an open connection.
func New(db *sql.DB, schema string, logger *slog.Logger) *MigratorDB {
	if logger == nil {
		logger = slog.Default()
	}
	return &MigratorDB{Db: db, schema: schema, logger: logger}
}

// Ping checks the connection.
func (m *MigratorDB) Ping(ctx context.Context) error {
	return m.Db.PingContext(ctx)
}

// Close closes the connection.
func (m *MigratorDB) Close() error {
	return m.Db.Close()
}

func (m *MigratorDB) DefaultSchema() string {
	return m.schema
}

// exec runs a single statement outside any transaction.
func (m *MigratorDB) exec(ctx context.Context, stmt string) error {
	m.logger.Debug("exec", "sql", stmt)
	if _, err := m.Db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("%s: %w", stmt, err)
	}
	return nil
}

func (m *MigratorDB) execDDL(ctx context.Context, name string, data ddlData) error {
	stmt, err := renderDDL(name, data)
	if err != nil {
		return err
	}
	return m.exec(ctx, stmt)
}

func (m *MigratorDB) CreateTable(ctx context.Context, table, schema string, def shared.TableDefinition) error {
	stmt, err := createTableSQL(schema, table, def)
	if err != nil {
		return err
	}
	return m.exec(ctx, stmt)
}

func (m *MigratorDB) AddColumn(ctx context.Context, table, schema string, col shared.ColumnDescriptor) error {
	return m.execDDL(ctx, "add_column", ddlData{Schema: schema, Table: table, Column: col})
}

func (m *MigratorDB) ModifyColumn(ctx context.Context, table, schema string, col shared.ColumnDescriptor) error {
	return m.execDDL(ctx, "modify_column", ddlData{Schema: schema, Table: table, Column: col})
}

func (m *MigratorDB) DropColumn(ctx context.Context, table, schema, column string) error {
	return m.execDDL(ctx, "drop_column", ddlData{Schema: schema, Table: table, Name: column})
}

func (m *MigratorDB) AddIndex(ctx context.Context, table, schema string, idx shared.IndexDescriptor) error {
	return m.execDDL(ctx, "add_index", ddlData{Schema: schema, Table: table, Index: idx})
}

func (m *MigratorDB) DropIndex(ctx context.Context, table, schema, name string) error {
	return m.execDDL(ctx, "drop_index", ddlData{Schema: schema, Table: table, Name: name})
}

func (m *MigratorDB) AddPrimaryKey(ctx context.Context, table, schema string, idx shared.IndexDescriptor) error {
	return m.execDDL(ctx, "add_primary_key", ddlData{Schema: schema, Table: table, Index: idx})
}

func (m *MigratorDB) DropPrimaryKey(ctx context.Context, table, schema string) error {
	return m.execDDL(ctx, "drop_primary_key", ddlData{Schema: schema, Table: table})
}

func (m *MigratorDB) AddForeignKey(ctx context.Context, table, schema string, ref shared.ReferenceDescriptor) error {
	return m.execDDL(ctx, "add_foreign_key", ddlData{Schema: schema, Table: table, Reference: ref})
}

func (m *MigratorDB) DropForeignKey(ctx context.Context, table, schema, name string) error {
	return m.execDDL(ctx, "drop_foreign_key", ddlData{Schema: schema, Table: table, Name: name})
}

// IsNoSuchTable reports whether err is MySQL's "table doesn't exist".
func IsNoSuchTable(err error) bool {
	return hasErrorNumber(err, errNoSuchTable)
}

// IsUnknownKey reports whether err is MySQL's "can't drop; check that
// column/key exists".
func IsUnknownKey(err error) bool {
	return hasErrorNumber(err, errCantDropField)
}

func hasErrorNumber(err error, number uint16) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == number
}
