// Package config loads the migrator settings from an optional YAML file, a
// .env file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/isaacwassouf/schema-migrator/utils"
)

const (
	configName = "schema-migrator"
	configType = "yaml"
)

type Config struct {
	MySQL struct {
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Host     string `mapstructure:"host"`
		Port     string `mapstructure:"port"`
		Database string `mapstructure:"database"`
	} `mapstructure:"mysql"`

	Migrations struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"migrations"`

	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`

	Metrics struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

var envKeys = map[string]string{
	"mysql.user":     "MYSQL_USER",
	"mysql.password": "MYSQL_PASSWORD",
	"mysql.host":     "MYSQL_HOST",
	"mysql.port":     "MYSQL_PORT",
	"mysql.database": "MYSQL_DATABASE",
	"migrations.dir": "MIGRATIONS_DIR",
	"server.addr":    "SERVER_ADDR",
	"metrics.addr":   "METRICS_ADDR",
	"log.level":      "LOG_LEVEL",
}

// Load reads the configuration from the local file system. An empty path
// looks for schema-migrator.yaml in the working directory and tolerates its
// absence; an explicit path must exist.
func Load(path string) (*Config, error) {
	if err := utils.LoadEnvVarsFromFile(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return LoadFs(afero.NewOsFs(), path)
}

// LoadFs is Load over fsys, without reading .env.
func LoadFs(fsys afero.Fs, path string) (*Config, error) {
	v := viper.New()
	v.SetFs(fsys)
	v.SetConfigType(configType)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
	}

	v.SetDefault("mysql.host", "localhost")
	v.SetDefault("mysql.port", "3306")
	v.SetDefault("migrations.dir", "migrations")
	v.SetDefault("server.addr", ":8084")
	v.SetDefault("metrics.addr", ":9094")
	v.SetDefault("log.level", "info")

	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if _, err := cfg.LogLevel(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DSN returns the go-sql-driver DSN for the configured server. The database
// name is required since it is the schema every table lives in. Temporal
// values stay strings so snapshots keep the server's text form.
func (c *Config) DSN() (string, error) {
	if c.MySQL.Database == "" {
		return "", errors.New("mysql.database is required")
	}
	mc := mysql.NewConfig()
	mc.User = c.MySQL.User
	mc.Passwd = c.MySQL.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.MySQL.Host, c.MySQL.Port)
	mc.DBName = c.MySQL.Database
	return mc.FormatDSN(), nil
}

func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.Log.Level))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
