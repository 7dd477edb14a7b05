package nekodb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/XSAM/otelsql"
	"go.opentelemetry.io/otel/attribute"
)

// SQLConnection wraps a single *sql.Conn and the transaction opened on it.
// Independent connections also own the *sql.DB they were dialled from.
type SQLConnection struct {
	mu     sync.Mutex
	inner  *sql.Conn
	db     *sql.DB
	tx     *sql.Tx
	closed bool
}

func newSQLConnection(inner *sql.Conn, owned *sql.DB) *SQLConnection {
	return &SQLConnection{inner: inner, db: owned}
}

// ConnectMySQL is the default ConnectFunc. It dials a dedicated *sql.DB
// limited to one connection so the independent session never competes with
// the pool.
func ConnectMySQL(ctx context.Context, cfg ConnectionConfig) (Connection, error) {
	cfg = cfg.withDefaults()
	dsn, err := dsnFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	db, err := openDB(cfg, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	if err := c.PingContext(ctx); err != nil {
		_ = c.Close()
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return newSQLConnection(c, db), nil
}

// openDB opens dsn with cfg.Driver, through otelsql when InstrumentDriver is set.
func openDB(cfg ConnectionConfig, dsn string) (*sql.DB, error) {
	if !cfg.InstrumentDriver {
		return sql.Open(cfg.Driver, dsn)
	}
	return otelsql.Open(cfg.Driver, dsn, otelsql.WithAttributes(driverAttrs(cfg)...))
}

func driverAttrs(cfg ConnectionConfig) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("db.system", cfg.Driver)}
	if cfg.Database != "" {
		attrs = append(attrs, attribute.String("db.name", cfg.Database))
	}
	return attrs
}

// Execute runs query inside the connection's transaction, beginning one if
// none is open. The transaction is not bound to ctx so that a cancelled
// query still leaves it for an explicit Rollback.
func (c *SQLConnection) Execute(ctx context.Context, query string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrAlreadyClosed
	}
	if c.tx == nil {
		tx, err := c.inner.BeginTx(context.WithoutCancel(ctx), nil)
		if err != nil {
			return err
		}
		c.tx = tx
	}
	_, err := c.tx.ExecContext(ctx, query)
	return err
}

// Commit commits the open transaction. It is a no-op without one.
//
// If ctx is already done the transaction is left open for Rollback and
// ctx.Err() is returned. database/sql offers no context for the COMMIT
// round-trip itself, so a deadline cannot interrupt one in flight.
func (c *SQLConnection) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrAlreadyClosed
	}
	if c.tx == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := c.tx.Commit()
	c.tx = nil
	return err
}

// Rollback aborts the open transaction. It is a no-op without one.
func (c *SQLConnection) Rollback(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollbackLocked()
}

func (c *SQLConnection) rollbackLocked() error {
	if c.tx == nil {
		return nil
	}
	err := c.tx.Rollback()
	c.tx = nil
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func (c *SQLConnection) InTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx != nil
}

// IsConnected pings the session. A closed or dead session reports false.
func (c *SQLConnection) IsConnected(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.inner == nil {
		return false
	}
	return c.inner.PingContext(ctx) == nil
}

// Close rolls back any open transaction and releases the session. Closing
// twice is a no-op.
func (c *SQLConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.rollbackLocked()
	if c.inner != nil {
		err = appendErr(err, c.inner.Close())
	}
	if c.db != nil {
		err = appendErr(err, c.db.Close())
	}
	return err
}
