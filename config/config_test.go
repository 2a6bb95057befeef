package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFs(afero.NewMemMapFs(), "")
	require.NoError(t, err)
	require.Equal(t, "localhost", cfg.MySQL.Host)
	require.Equal(t, "3306", cfg.MySQL.Port)
	require.Equal(t, "migrations", cfg.Migrations.Dir)
	require.Equal(t, ":8084", cfg.Server.Addr)
	require.Equal(t, ":9094", cfg.Metrics.Addr)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelInfo, level)
}

func TestLoadFileAndEnv(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/etc/migrator.yaml", []byte(`
mysql:
  user: app
  host: db
  database: shop
migrations:
  dir: schema
log:
  level: debug
`), 0o644))
	t.Setenv("MYSQL_PASSWORD", "s3cret")
	t.Setenv("MYSQL_HOST", "db.internal")

	cfg, err := LoadFs(fsys, "/etc/migrator.yaml")
	require.NoError(t, err)
	require.Equal(t, "app", cfg.MySQL.User)
	require.Equal(t, "s3cret", cfg.MySQL.Password)
	require.Equal(t, "db.internal", cfg.MySQL.Host, "environment wins over the file")
	require.Equal(t, "shop", cfg.MySQL.Database)
	require.Equal(t, "schema", cfg.Migrations.Dir)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)
}

func TestLoadDefaultFileInWorkingDir(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, filepath.Join(wd, "schema-migrator.yaml"), []byte("server:\n  addr: \":9000\"\n"), 0o644))

	cfg, err := LoadFs(fsys, "")
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Server.Addr)
}

func TestLoadErrors(t *testing.T) {
	_, err := LoadFs(afero.NewMemMapFs(), "/missing.yaml")
	require.Error(t, err, "an explicit path must exist")

	t.Setenv("LOG_LEVEL", "loud")
	_, err = LoadFs(afero.NewMemMapFs(), "")
	require.ErrorContains(t, err, "log.level")
}

func TestDSN(t *testing.T) {
	cfg := &Config{}
	_, err := cfg.DSN()
	require.Error(t, err)

	cfg.MySQL.User = "app"
	cfg.MySQL.Password = "pw"
	cfg.MySQL.Host = "db"
	cfg.MySQL.Port = "3307"
	cfg.MySQL.Database = "shop"
	dsn, err := cfg.DSN()
	require.NoError(t, err)
	require.Equal(t, "app:pw@tcp(db:3307)/shop", dsn)
}
