package nekodb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/XSAM/otelsql"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// ConnState is the state of an engine's independent connection.
type ConnState int32

const (
	StateUninitialized ConnState = iota
	StateConnected
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnState(%d)", int32(s))
	}
}

// MySQLEngine owns a connection config, a pool sized from it and at most one
// independent connection, and binds them to a MySQLAPI.
//
// The independent connection moves Uninitialized -> Connected on first use,
// Connected -> Closed on CloseConnectionWithDatabase, and back to Connected
// only through an explicit CreateConnectionWithDatabase.
type MySQLEngine struct {
	cfg     ConnectionConfig
	connect ConnectFunc
	pool    *ConnPool
	api     *MySQLAPI
	tel     *telemetry

	// lock serializes every transition of the independent connection.
	lock     *semaphore.Weighted
	state    atomic.Int32
	conn     Connection
	apiBound bool
	shutdown bool

	closers []func() error
}

// NewMySQLEngine builds an engine for cfg. The pool is created eagerly on a
// *sql.DB limited to PoolSize connections; the independent connection is
// dialled later through ConnectMySQL. A nil api gets a fresh MySQLAPI.
func NewMySQLEngine(cfg ConnectionConfig, api *MySQLAPI) (*MySQLEngine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dsn, err := dsnFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	db, err := openDB(cfg, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetMaxIdleConns(cfg.PoolSize)

	e, err := newEngineOnDB(cfg, ConnectMySQL, db, api)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if cfg.InstrumentDriver {
		// The gauges stop reporting once db is closed.
		if err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(driverAttrs(cfg)...)); err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("register pool metrics: %w", err)
		}
	}
	return e, nil
}

func newEngineOnDB(cfg ConnectionConfig, connect ConnectFunc, db *sql.DB, api *MySQLAPI) (*MySQLEngine, error) {
	pool, err := NewConnPool(ConnPoolConfig{
		Name:           cfg.PoolName,
		Size:           cfg.PoolSize,
		AcquireTimeout: cfg.AcquireTimeout,
	}, sqlOpener(db))
	if err != nil {
		return nil, err
	}
	e, err := NewEngine(cfg, connect, pool, api)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	e.closers = append(e.closers, db.Close)
	return e, nil
}

// sqlOpener hands out dedicated sessions from db to a ConnPool.
func sqlOpener(db *sql.DB) OpenFunc {
	return func(ctx context.Context) (Connection, error) {
		c, err := db.Conn(ctx)
		if err != nil {
			return nil, err
		}
		return newSQLConnection(c, nil), nil
	}
}

// NewEngine assembles an engine from parts. The engine takes ownership of
// pool and claims api; an api already claimed by another engine is rejected.
func NewEngine(cfg ConnectionConfig, connect ConnectFunc, pool *ConnPool, api *MySQLAPI) (*MySQLEngine, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	cfg = cfg.withDefaults()
	if connect == nil {
		connect = ConnectMySQL
	}
	if api == nil {
		api = NewMySQLAPI()
	}

	e := &MySQLEngine{
		cfg:     cfg,
		connect: connect,
		pool:    pool,
		api:     api,
		tel:     newTelemetry(cfg.Driver),
		lock:    semaphore.NewWeighted(1),
	}
	if err := api.claim(e); err != nil {
		return nil, err
	}
	api.configure(e.tel, cfg.QueryTimeout, cfg.Retry)
	pool.tel = e.tel
	e.tel.setSlowQueryThreshold(cfg.SlowQueryThreshold)
	return e, nil
}

// ConnectMethod returns the function used to open the independent connection.
func (e *MySQLEngine) ConnectMethod() ConnectFunc { return e.connect }

// Config returns a copy of the engine's connection config.
func (e *MySQLEngine) Config() ConnectionConfig { return e.cfg.withDefaults() }

func (e *MySQLEngine) Pool() *ConnPool { return e.pool }
func (e *MySQLEngine) API() *MySQLAPI  { return e.api }

func (e *MySQLEngine) State() ConnState { return ConnState(e.state.Load()) }

// CreateConnectionWithDatabase opens a new independent connection. A live
// connection it replaces is closed, and a bound API is pointed at the new one.
func (e *MySQLEngine) CreateConnectionWithDatabase(ctx context.Context) error {
	if err := e.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.lock.Release(1)
	return e.createLocked(ctx)
}

func (e *MySQLEngine) createLocked(ctx context.Context) error {
	if e.shutdown {
		return ErrAlreadyClosed
	}
	start := time.Now()
	conn, err := e.connect(ctx, e.cfg)
	if err == nil && conn == nil {
		err = errors.New("connect returned no connection")
	}
	if err != nil {
		if !errors.Is(err, ErrConnection) {
			err = fmt.Errorf("%w: %w", ErrConnection, err)
		}
		e.tel.logConnection(ctx, "connect", time.Since(start), err)
		return err
	}
	e.tel.logConnection(ctx, "connect", time.Since(start), nil)

	prev := e.conn
	e.conn = conn
	e.state.Store(int32(StateConnected))
	if e.apiBound {
		e.api.SetConnectionWithDatabase(conn)
	}
	if prev != nil {
		e.tel.logConnection(ctx, "replace", 0, prev.Close())
	}
	return nil
}

// ConnectionWithDatabase returns the independent connection, creating it on
// first use. Concurrent first callers share one connect. After
// CloseConnectionWithDatabase it fails with ErrAlreadyClosed until the
// connection is recreated explicitly.
func (e *MySQLEngine) ConnectionWithDatabase(ctx context.Context) (Connection, error) {
	if err := e.lock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.lock.Release(1)
	return e.connectionLocked(ctx)
}

func (e *MySQLEngine) connectionLocked(ctx context.Context) (Connection, error) {
	switch e.State() {
	case StateConnected:
		return e.conn, nil
	case StateClosed:
		return nil, ErrAlreadyClosed
	}
	if err := e.createLocked(ctx); err != nil {
		return nil, err
	}
	return e.conn, nil
}

// CloseConnectionWithDatabase closes the independent connection. Closing
// when no connection is open is a no-op.
func (e *MySQLEngine) CloseConnectionWithDatabase(ctx context.Context) error {
	if err := e.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.lock.Release(1)
	return e.closeConnLocked(ctx)
}

func (e *MySQLEngine) closeConnLocked(ctx context.Context) error {
	if e.State() != StateConnected {
		return nil
	}
	start := time.Now()
	err := e.conn.Close()
	e.conn = nil
	e.state.Store(int32(StateClosed))
	if e.apiBound {
		e.api.SetConnectionWithDatabase(nil)
	}
	e.tel.logConnection(ctx, "close", time.Since(start), err)
	return err
}

// ConnectAPIToDatabase binds the pool and the independent connection to the
// engine's API, creating the connection if needed.
func (e *MySQLEngine) ConnectAPIToDatabase(ctx context.Context) error {
	if err := e.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.lock.Release(1)

	conn, err := e.connectionLocked(ctx)
	if err != nil {
		return err
	}
	e.api.SetUp(conn, e.pool)
	e.apiBound = true
	return nil
}

// Close shuts the engine down: the independent connection, the pool and the
// underlying database handles. It waits for pooled connections on loan.
func (e *MySQLEngine) Close() error {
	if err := e.lock.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer e.lock.Release(1)
	if e.shutdown {
		return nil
	}
	e.shutdown = true

	err := e.closeConnLocked(context.Background())
	err = appendErr(err, e.pool.Close())
	for _, c := range e.closers {
		err = appendErr(err, c())
	}
	return err
}

// EnableLogging turns structured logging on or off. Logging uses a JSON
// handler on stdout until SetLogger installs another logger.
func (e *MySQLEngine) EnableLogging(enabled bool) { e.tel.enableLogging(enabled) }

func (e *MySQLEngine) SetLogger(logger *slog.Logger) { e.tel.setLogger(logger) }

// SetSlowQueryThreshold logs executions slower than d at WARN. Zero disables it.
func (e *MySQLEngine) SetSlowQueryThreshold(d time.Duration) { e.tel.setSlowQueryThreshold(d) }

// EnableTelemetry turns OpenTelemetry tracing on or off. Spans go to the
// global tracer provider unless SetTracerProvider was called.
func (e *MySQLEngine) EnableTelemetry(enabled bool) { e.tel.enableTracing(enabled) }

func (e *MySQLEngine) SetTracerProvider(tp trace.TracerProvider) { e.tel.setTracerProvider(tp) }

// EnableMetrics turns OpenTelemetry metrics on or off.
func (e *MySQLEngine) EnableMetrics(enabled bool) { e.tel.enableMetrics(enabled) }

func (e *MySQLEngine) SetMeterProvider(mp metric.MeterProvider) { e.tel.setMeterProvider(mp) }
