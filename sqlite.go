package nekodb

import (
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteConfig describes a file-backed SQLite database used in place of
// MySQL for local runs and tests.
type SQLiteConfig struct {
	// Path is the database file. In-memory databases are not shared between
	// connections, so a real file is needed for the pool and the independent
	// connection to see the same data.
	Path        string
	PoolSize    int
	BusyTimeout time.Duration
	JournalMode string // WAL, DELETE, TRUNCATE, PERSIST, MEMORY, OFF

	InstrumentDriver bool
}

// DefaultSQLiteConfig returns a default SQLite configuration for path.
func DefaultSQLiteConfig(path string) SQLiteConfig {
	return SQLiteConfig{
		Path:        path,
		PoolSize:    DefaultPoolSize,
		BusyTimeout: 5 * time.Second,
		JournalMode: "WAL",
	}
}

// DSN builds a modernc.org/sqlite DSN with the configured pragmas.
func (c SQLiteConfig) DSN() string {
	q := url.Values{}
	if c.BusyTimeout > 0 {
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.BusyTimeout.Milliseconds()))
	}
	if c.JournalMode != "" {
		q.Add("_pragma", fmt.Sprintf("journal_mode(%s)", c.JournalMode))
	}
	q.Add("_pragma", "foreign_keys(1)")
	return "file:" + c.Path + "?" + q.Encode()
}

// ConnectionConfig converts c into the generic engine configuration.
func (c SQLiteConfig) ConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		Driver:   "sqlite",
		DSN:      c.DSN(),
		Database: c.Path,
		PoolName: "sqlite_pool",
		PoolSize: c.PoolSize,

		InstrumentDriver: c.InstrumentDriver,
	}
}

// NewSQLiteEngine builds an engine over a SQLite file. It behaves like a
// MySQL engine: an eager pool plus a lazily opened independent connection.
func NewSQLiteEngine(cfg SQLiteConfig, api *MySQLAPI) (*MySQLEngine, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", ErrInvalidConfig)
	}
	cc := cfg.ConnectionConfig().withDefaults()
	db, err := openDB(cc, cc.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	db.SetMaxOpenConns(cc.PoolSize)
	db.SetMaxIdleConns(cc.PoolSize)

	e, err := newEngineOnDB(cc, ConnectMySQL, db, api)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}
