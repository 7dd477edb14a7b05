package nekodb

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// rollbackTimeout bounds a rollback issued after the caller's context ended.
const rollbackTimeout = 5 * time.Second

// MySQLAPI executes templated statements either on the engine's independent
// connection or on a connection checked out from the engine's pool. It holds
// references only: the engine opens and closes everything it uses.
type MySQLAPI struct {
	mu        sync.RWMutex
	conn      Connection
	pool      *ConnPool
	connBound bool
	poolBound bool
	owner     *MySQLEngine

	// direct serializes statements on the independent connection, which
	// carries a single transaction at a time.
	direct *semaphore.Weighted

	tel          *telemetry
	queryTimeout time.Duration
	retry        RetryPolicy
}

func NewMySQLAPI() *MySQLAPI {
	return &MySQLAPI{direct: semaphore.NewWeighted(1)}
}

func (a *MySQLAPI) claim(e *MySQLEngine) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.owner != nil && a.owner != e {
		return errors.New("api is already bound to another engine")
	}
	a.owner = e
	return nil
}

func (a *MySQLAPI) configure(tel *telemetry, queryTimeout time.Duration, retry RetryPolicy) {
	a.mu.Lock()
	a.tel, a.queryTimeout, a.retry = tel, queryTimeout, retry
	a.mu.Unlock()
}

// SetUp points the API at an independent connection and a pool.
func (a *MySQLAPI) SetUp(conn Connection, pool *ConnPool) {
	a.SetConnectionWithDatabase(conn)
	a.SetConnectionToPool(pool)
}

func (a *MySQLAPI) SetConnectionWithDatabase(conn Connection) {
	a.mu.Lock()
	a.conn = conn
	a.connBound = true
	a.mu.Unlock()
}

// ConnectionWithDatabase returns the independent connection, or nil when
// none is bound.
func (a *MySQLAPI) ConnectionWithDatabase() Connection {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.conn
}

func (a *MySQLAPI) SetConnectionToPool(pool *ConnPool) {
	a.mu.Lock()
	a.pool = pool
	a.poolBound = pool != nil
	a.mu.Unlock()
}

// CheckConnectionWithDatabase reports whether the independent connection is
// bound and answers a ping.
func (a *MySQLAPI) CheckConnectionWithDatabase(ctx context.Context) bool {
	conn := a.ConnectionWithDatabase()
	if conn == nil {
		return false
	}
	return conn.IsConnected(ctx)
}

func (a *MySQLAPI) directConn() (Connection, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	switch {
	case a.conn != nil:
		return a.conn, nil
	case a.connBound:
		return nil, ErrAlreadyClosed
	default:
		return nil, ErrAPINotBound
	}
}

func (a *MySQLAPI) boundPool() (*ConnPool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.poolBound {
		return nil, ErrAPINotBound
	}
	return a.pool, nil
}

func (a *MySQLAPI) settings() (*telemetry, time.Duration, RetryPolicy) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tel, a.queryTimeout, a.retry
}

// GetConnectionFromPool checks out a pooled connection. The caller must hand
// it back through CloseConnectionFromPool exactly once.
func (a *MySQLAPI) GetConnectionFromPool(ctx context.Context) (PooledConnection, error) {
	pool, err := a.boundPool()
	if err != nil {
		return nil, err
	}
	return pool.Acquire(ctx)
}

// CloseConnectionFromPool returns conn to the pool.
func (a *MySQLAPI) CloseConnectionFromPool(conn PooledConnection) error {
	if conn == nil {
		return ErrAlreadyReleased
	}
	pool, err := a.boundPool()
	if err != nil {
		return err
	}
	return pool.Release(conn)
}

// ExecuteSQLQueryToDatabase renders query with data and runs it on the
// independent connection, committing on success. On failure the transaction
// is rolled back and a *QueryError is returned.
func (a *MySQLAPI) ExecuteSQLQueryToDatabase(ctx context.Context, query Template, data map[string]string) error {
	sqlText, err := query.Substitute(data)
	if err != nil {
		return &QueryError{Path: PathDirect, Query: query.String(), Err: err}
	}
	conn, err := a.directConn()
	if err != nil {
		return err
	}
	if err := a.direct.Acquire(ctx, 1); err != nil {
		return err
	}
	defer a.direct.Release(1)

	return a.run(ctx, PathDirect, uuid.NewString(), conn, sqlText)
}

// ExecuteSQLQueryUsePool renders query with data and runs it on a pooled
// connection, committing on success and rolling back on failure. The
// connection is released before the call returns, whatever the outcome.
func (a *MySQLAPI) ExecuteSQLQueryUsePool(ctx context.Context, query Template, data map[string]string) error {
	sqlText, err := query.Substitute(data)
	if err != nil {
		return &QueryError{Path: PathPool, Query: query.String(), Err: err}
	}
	pool, err := a.boundPool()
	if err != nil {
		return err
	}
	_, _, policy := a.settings()
	queryID := uuid.NewString()
	return retryWithPolicy(ctx, policy, func() error {
		return a.executePooled(ctx, pool, queryID, sqlText)
	})
}

func (a *MySQLAPI) executePooled(ctx context.Context, pool *ConnPool, queryID, sqlText string) (err error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = appendErr(err, pool.Release(conn))
	}()
	return a.run(ctx, PathPool, queryID, conn, sqlText)
}

// run executes and commits sqlText on conn, rolling back on any failure.
func (a *MySQLAPI) run(ctx context.Context, path, queryID string, conn Connection, sqlText string) error {
	tel, queryTimeout, _ := a.settings()

	ctx, span := tel.startSpan(ctx, "execute", path, sqlText)
	start := time.Now()

	err := executeAndCommit(ctx, conn, sqlText, queryTimeout)
	if err != nil {
		rbErr := rollback(ctx, conn)
		tel.recordRollback(ctx, path)
		tel.logTransaction(ctx, "rollback", path, queryID, rbErr)
		err = &QueryError{Path: path, Query: sqlText, Err: err, RollbackErr: rbErr}
	} else {
		tel.logTransaction(ctx, "commit", path, queryID, nil)
	}

	elapsed := time.Since(start)
	tel.logQuery(ctx, path, queryID, sqlText, elapsed, err)
	tel.recordQuery(ctx, path, elapsed, err)
	tel.finishSpan(span, err)
	return err
}

func executeAndCommit(ctx context.Context, conn Connection, sqlText string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := conn.Execute(ctx, sqlText); err != nil {
		return err
	}
	return conn.Commit(ctx)
}

// rollback runs even when ctx has already been cancelled.
func rollback(ctx context.Context, conn Connection) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	return conn.Rollback(rctx)
}
