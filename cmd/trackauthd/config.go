package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	ta "github.com/panyam/trackauth"
)

// Store drivers.
const (
	storeFS        = "fs"
	storeSQLite    = "sqlite"
	storePostgres  = "postgres"
	storeDatastore = "datastore"
)

// Notifier drivers. console writes full links, tokens included, to the log.
const (
	notifierLog     = "log"
	notifierConsole = "console"
)

// Limiter drivers.
const (
	limiterMemory = "memory"
	limiterRedis  = "redis"
)

type serverConfig struct {
	Addr   string `koanf:"addr"`
	Prefix string `koanf:"prefix"`
}

type logConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type storeConfig struct {
	Driver string `koanf:"driver"`
	// Path is the directory for fs and the database file for sqlite.
	Path      string `koanf:"path"`
	DSN       string `koanf:"dsn"`
	Project   string `koanf:"project"`
	Namespace string `koanf:"namespace"`
}

type limiterConfig struct {
	Driver string `koanf:"driver"`
}

type notifierConfig struct {
	Driver string `koanf:"driver"`
}

type redisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// daemonConfig is the layout of the YAML config file.
type daemonConfig struct {
	Server   serverConfig   `koanf:"server"`
	Log      logConfig      `koanf:"log"`
	Store    storeConfig    `koanf:"store"`
	Limiter  limiterConfig  `koanf:"limiter"`
	Redis    redisConfig    `koanf:"redis"`
	Notifier notifierConfig `koanf:"notifier"`
	Auth     ta.Config      `koanf:"auth"`
}

func defaultDaemonConfig() daemonConfig {
	return daemonConfig{
		Server:   serverConfig{Addr: ":8080"},
		Log:      logConfig{Level: "info", Format: "json"},
		Store:    storeConfig{Driver: storeFS, Path: "./data"},
		Limiter:  limiterConfig{Driver: limiterMemory},
		Redis:    redisConfig{Addr: "localhost:6379"},
		Notifier: notifierConfig{Driver: notifierLog},
		Auth:     ta.DefaultConfig(),
	}
}

// flagKeys maps command-line flags onto config keys. Flags missing here
// (config, help) never reach the config.
var flagKeys = map[string]string{
	"addr":           "server.addr",
	"prefix":         "server.prefix",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"store":          "store.driver",
	"store-path":     "store.path",
	"database-url":   "store.dsn",
	"project":        "store.project",
	"namespace":      "store.namespace",
	"limiter":        "limiter.driver",
	"redis-addr":     "redis.addr",
	"redis-password": "redis.password",
	"redis-db":       "redis.db",
	"notifier":       "notifier.driver",
	"base-url":       "auth.base_url",
	"session-secret": "auth.session_secret",
}

// addConfigFlags registers the overridable settings with their defaults.
func addConfigFlags(fs *pflag.FlagSet) {
	d := defaultDaemonConfig()
	fs.String("addr", d.Server.Addr, "HTTP listen address")
	fs.String("prefix", d.Server.Prefix, "path prefix for the auth routes")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("store", d.Store.Driver, "credential store (fs, sqlite, postgres, datastore)")
	fs.String("store-path", d.Store.Path, "fs directory or sqlite file")
	fs.String("database-url", d.Store.DSN, "PostgreSQL connection URL")
	fs.String("project", d.Store.Project, "Cloud Datastore project id")
	fs.String("namespace", d.Store.Namespace, "Cloud Datastore namespace")
	fs.String("limiter", d.Limiter.Driver, "login rate limiter (memory or redis)")
	fs.String("redis-addr", d.Redis.Addr, "Redis address for the redis limiter")
	fs.String("redis-password", d.Redis.Password, "Redis password")
	fs.Int("redis-db", d.Redis.DB, "Redis database number")
	fs.String("notifier", d.Notifier.Driver, "email notifier (log, or console to print links with tokens)")
	fs.String("base-url", d.Auth.BaseURL, "public URL used in email links")
	fs.String("session-secret", "", "HS256 session signing secret (>= 32 bytes)")
}

// loadConfig layers defaults, the optional YAML file and explicitly set flags.
// The result is not validated.
func loadConfig(path string, fs *pflag.FlagSet) (daemonConfig, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return daemonConfig{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return daemonConfig{}, fmt.Errorf("load flags: %w", err)
		}
	}

	cfg := defaultDaemonConfig()
	if err := k.Unmarshal("", &cfg); err != nil {
		return daemonConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Validate checks the daemon settings and the embedded auth config.
func (c daemonConfig) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.Prefix != "" && !strings.HasPrefix(c.Server.Prefix, "/") {
		errs = append(errs, fmt.Errorf("server.prefix must start with '/', got %q", c.Server.Prefix))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if err := c.Store.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Limiter.Driver {
	case limiterMemory:
	case limiterRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis limiter"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown limiter.driver %q", c.Limiter.Driver))
	}
	switch c.Notifier.Driver {
	case notifierLog, notifierConsole:
	default:
		errs = append(errs, fmt.Errorf("unknown notifier.driver %q", c.Notifier.Driver))
	}
	if err := c.Auth.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate checks that the selected driver has its connection settings.
func (c storeConfig) Validate() error {
	switch c.Driver {
	case storeFS, storeSQLite:
		if c.Path == "" {
			return fmt.Errorf("store.path is required for the %s store", c.Driver)
		}
	case storePostgres:
		if c.DSN == "" {
			return errors.New("store.dsn is required for the postgres store")
		}
	case storeDatastore:
		if c.Project == "" {
			return errors.New("store.project is required for the datastore store")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Driver)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log.level %q", s)
	}
	return level, nil
}

// newLogger builds the process logger from the log settings.
func newLogger(w io.Writer, c logConfig) *slog.Logger {
	level, _ := parseLevel(c.Level)
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
