package nekodb

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
)

const (
	DefaultPoolName = "mysql_pool"
	DefaultPoolSize = 3
	DefaultDriver   = "mysql"
	defaultPort     = 3306
)

// ConnectionConfig describes how to reach a database and how to size the
// pool. It is a plain value: an engine keeps its own copy and never changes it.
type ConnectionConfig struct {
	// Driver overrides the database/sql driver ("mysql" in prod, "sqlite" or
	// "sqlmock" in tests).
	Driver string `yaml:"driver,omitempty"`
	// DSN, when set, is used verbatim instead of the field-based DSN.
	DSN string `yaml:"dsn,omitempty"`

	Host     string            `yaml:"host"`
	Port     int               `yaml:"port,omitempty"`
	User     string            `yaml:"user"`
	Password string            `yaml:"password"`
	Database string            `yaml:"database"`
	Params   map[string]string `yaml:"params,omitempty"`

	PoolName string `yaml:"pool_name,omitempty"`
	// PoolSize below 1 falls back to DefaultPoolSize.
	PoolSize int `yaml:"pool_size,omitempty"`

	// AcquireTimeout bounds how long a pooled checkout may wait before
	// failing with ErrPoolExhausted. Zero waits until the caller's context ends.
	AcquireTimeout time.Duration `yaml:"acquire_timeout,omitempty"`
	// QueryTimeout bounds a single execute call. Zero means no extra bound.
	QueryTimeout       time.Duration `yaml:"query_timeout,omitempty"`
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold,omitempty"`

	Retry RetryPolicy `yaml:"retry,omitempty"`

	// InstrumentDriver wraps the database/sql driver with otelsql, adding
	// driver-level spans and connection pool metrics from the global
	// OpenTelemetry providers.
	InstrumentDriver bool `yaml:"instrument_driver,omitempty"`
}

// withDefaults fills pool name, pool size and driver.
func (c ConnectionConfig) withDefaults() ConnectionConfig {
	if strings.TrimSpace(c.Driver) == "" {
		c.Driver = DefaultDriver
	}
	if c.PoolName == "" {
		c.PoolName = DefaultPoolName
	}
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	if len(c.Params) > 0 {
		params := make(map[string]string, len(c.Params))
		for k, v := range c.Params {
			params[k] = v
		}
		c.Params = params
	}
	return c
}

// Validate reports configuration that cannot produce a working engine.
func (c ConnectionConfig) Validate() error {
	if c.AcquireTimeout < 0 || c.QueryTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.DSN) != "" {
		return nil
	}
	if c.Driver != "" && c.Driver != DefaultDriver {
		return fmt.Errorf("%w: driver %q requires an explicit DSN", ErrInvalidConfig, c.Driver)
	}
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	return nil
}

// dsnFromConfig returns a DSN string.
// Priority: if ConnectionConfig.DSN is non-empty, return it unchanged.
// Otherwise build a go-sql-driver/mysql DSN from the connection fields.
func dsnFromConfig(c ConnectionConfig) (string, error) {
	if strings.TrimSpace(c.DSN) != "" {
		return c.DSN, nil
	}
	if err := c.Validate(); err != nil {
		return "", err
	}
	port := c.Port
	if port <= 0 {
		port = defaultPort
	}
	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(port))
	mc.User = c.User
	mc.Passwd = c.Password
	mc.DBName = c.Database
	if len(c.Params) > 0 {
		mc.Params = make(map[string]string, len(c.Params))
		for k, v := range c.Params {
			mc.Params[k] = v
		}
	}
	return mc.FormatDSN(), nil
}

// Environment variables recognised by ApplyEnv.
const (
	EnvDriver         = "NEKODB_DRIVER"
	EnvDSN            = "NEKODB_DSN"
	EnvHost           = "NEKODB_HOST"
	EnvPort           = "NEKODB_PORT"
	EnvUser           = "NEKODB_USER"
	EnvPassword       = "NEKODB_PASSWORD"
	EnvDatabase       = "NEKODB_DATABASE"
	EnvParams         = "NEKODB_PARAMS"
	EnvPoolName       = "NEKODB_POOL_NAME"
	EnvPoolSize       = "NEKODB_POOL_SIZE"
	EnvAcquireTimeout = "NEKODB_ACQUIRE_TIMEOUT"
	EnvQueryTimeout   = "NEKODB_QUERY_TIMEOUT"
)

// LoadEnv loads .env files into the process environment without overriding
// variables that are already set. Missing files are ignored.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg fields with NEKODB_* environment variables.
func ApplyEnv(cfg *ConnectionConfig) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	str(EnvDriver, &cfg.Driver)
	str(EnvDSN, &cfg.DSN)
	str(EnvHost, &cfg.Host)
	str(EnvUser, &cfg.User)
	str(EnvPassword, &cfg.Password)
	str(EnvDatabase, &cfg.Database)
	str(EnvPoolName, &cfg.PoolName)

	for key, dst := range map[string]*int{EnvPort: &cfg.Port, EnvPoolSize: &cfg.PoolSize} {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, key, v)
		}
		*dst = n
	}

	for key, dst := range map[string]*time.Duration{EnvAcquireTimeout: &cfg.AcquireTimeout, EnvQueryTimeout: &cfg.QueryTimeout} {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, key, v)
		}
		*dst = d
	}

	if v, ok := os.LookupEnv(EnvParams); ok && v != "" {
		params := make(map[string]string, len(cfg.Params))
		for k, pv := range cfg.Params {
			params[k] = pv
		}
		for _, pair := range strings.Split(v, "&") {
			k, pv, found := strings.Cut(pair, "=")
			if !found || k == "" {
				return fmt.Errorf("%w: %s entry %q", ErrInvalidConfig, EnvParams, pair)
			}
			params[k] = pv
		}
		cfg.Params = params
	}
	return nil
}
