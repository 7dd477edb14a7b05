package nekodb

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"
)

// ConnPoolConfig sizes a ConnPool.
type ConnPoolConfig struct {
	Name string
	Size int
	// AcquireTimeout bounds a single Acquire. Zero waits until the caller's
	// context ends.
	AcquireTimeout time.Duration
}

// OpenFunc opens one connection for the pool.
type OpenFunc func(ctx context.Context) (Connection, error)

// BorrowLeak describes a pooled connection held longer than the configured
// warn threshold.
type BorrowLeak struct {
	Pool    string
	ConnID  uint64
	HeldFor time.Duration
}

// PoolStats is a point-in-time view of a ConnPool.
type PoolStats struct {
	Name      string `json:"name"`
	Size      int    `json:"size"`
	InUse     int    `json:"in_use"`
	Idle      int    `json:"idle"`
	Total     int    `json:"total"`
	Acquired  int64  `json:"acquired"`
	Released  int64  `json:"released"`
	Exhausted int64  `json:"exhausted"`
}

// ConnPool is a fixed-size pool of Connections. Acquire blocks while every
// connection is checked out; each checkout must be released exactly once.
type ConnPool struct {
	name           string
	size           int
	acquireTimeout time.Duration

	res    *puddle.Pool[Connection]
	nextID atomic.Uint64

	acquired  atomic.Int64
	released  atomic.Int64
	exhausted atomic.Int64

	mu            sync.RWMutex
	leakThreshold time.Duration
	leakHandler   func(BorrowLeak)

	tel *telemetry
}

// NewConnPool creates a pool that opens connections lazily through open and
// closes them when they are destroyed.
func NewConnPool(conf ConnPoolConfig, open OpenFunc) (*ConnPool, error) {
	if open == nil {
		return nil, fmt.Errorf("%w: nil open function", ErrInvalidConfig)
	}
	if conf.Size <= 0 {
		conf.Size = DefaultPoolSize
	}
	if conf.Name == "" {
		conf.Name = DefaultPoolName
	}
	res, err := puddle.NewPool(&puddle.Config[Connection]{
		Constructor: func(ctx context.Context) (Connection, error) { return open(ctx) },
		Destructor:  func(c Connection) { _ = c.Close() },
		MaxSize:     int32(conf.Size),
	})
	if err != nil {
		return nil, err
	}
	return &ConnPool{
		name:           conf.Name,
		size:           conf.Size,
		acquireTimeout: conf.AcquireTimeout,
		res:            res,
	}, nil
}

func (p *ConnPool) Name() string { return p.name }
func (p *ConnPool) Size() int    { return p.size }

// SetBorrowWarnThreshold enables leak reports for connections held longer
// than d. Zero disables them.
func (p *ConnPool) SetBorrowWarnThreshold(d time.Duration) {
	p.mu.Lock()
	p.leakThreshold = d
	p.mu.Unlock()
}

// SetLeakHandler installs the callback that receives leak reports. Without a
// handler, leaks are logged when logging is enabled.
func (p *ConnPool) SetLeakHandler(fn func(BorrowLeak)) {
	p.mu.Lock()
	p.leakHandler = fn
	p.mu.Unlock()
}

// Acquire checks out a connection, waiting for one to become free.
// It fails with ErrPoolExhausted when the acquire timeout elapses first,
// with the context error when ctx ends, and with ErrAlreadyClosed after Close.
func (p *ConnPool) Acquire(ctx context.Context) (PooledConnection, error) {
	start := time.Now()
	actx := ctx
	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeoutCause(ctx, p.acquireTimeout, ErrPoolExhausted)
		defer cancel()
	}

	r, err := p.res.Acquire(actx)
	if err != nil {
		err = p.acquireError(ctx, actx, err)
		p.tel.logPool(ctx, "acquire", p.name, time.Since(start), err)
		return nil, err
	}

	pc := &pooledConn{
		Connection: r.Value(),
		res:        r,
		pool:       p,
		id:         p.nextID.Add(1),
		acquiredAt: time.Now(),
	}
	p.acquired.Add(1)
	p.armLeakTimer(pc)
	p.tel.recordConnectionAcquired(ctx, p.name)
	p.tel.logPool(ctx, "acquire", p.name, time.Since(start), nil)
	return pc, nil
}

func (p *ConnPool) acquireError(ctx, actx context.Context, err error) error {
	switch {
	case errors.Is(err, puddle.ErrClosedPool):
		return fmt.Errorf("pool %q: %w", p.name, ErrAlreadyClosed)
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(context.Cause(actx), ErrPoolExhausted):
		p.exhausted.Add(1)
		return fmt.Errorf("pool %q (size %d): %w", p.name, p.size, ErrPoolExhausted)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
}

func (p *ConnPool) armLeakTimer(pc *pooledConn) {
	p.mu.RLock()
	threshold, handler := p.leakThreshold, p.leakHandler
	p.mu.RUnlock()
	if threshold <= 0 {
		return
	}
	pc.leak = time.AfterFunc(threshold, func() {
		if pc.released.Load() {
			return
		}
		info := BorrowLeak{Pool: p.name, ConnID: pc.id, HeldFor: time.Since(pc.acquiredAt)}
		if handler != nil {
			handler(info)
			return
		}
		p.tel.logLeak(context.Background(), info)
	})
}

// Release returns conn to the pool. A connection that failed, or that still
// has an open transaction which cannot be rolled back, is destroyed instead
// of being reused. A nil connection reports ErrAlreadyReleased.
func (p *ConnPool) Release(conn PooledConnection) error {
	pc, ok := conn.(*pooledConn)
	if ok && pc == nil {
		return ErrAlreadyReleased
	}
	if !ok || pc.pool != p {
		return fmt.Errorf("pool %q: connection was not acquired from this pool", p.name)
	}
	if !pc.released.CompareAndSwap(false, true) {
		return ErrAlreadyReleased
	}
	if pc.leak != nil {
		pc.leak.Stop()
	}

	var err error
	if ts, ok := pc.Connection.(txState); ok && ts.InTransaction() {
		if rbErr := pc.Connection.Rollback(context.Background()); rbErr != nil {
			pc.broken.Store(true)
			err = rbErr
		}
	}
	if pc.broken.Load() {
		pc.res.Destroy()
	} else {
		pc.res.Release()
	}

	p.released.Add(1)
	p.tel.recordConnectionReleased(context.Background(), p.name, time.Since(pc.acquiredAt))
	return err
}

// Stats reports current pool usage.
func (p *ConnPool) Stats() PoolStats {
	s := p.res.Stat()
	return PoolStats{
		Name:      p.name,
		Size:      p.size,
		InUse:     int(s.AcquiredResources()),
		Idle:      int(s.IdleResources()),
		Total:     int(s.TotalResources()),
		Acquired:  p.acquired.Load(),
		Released:  p.released.Load(),
		Exhausted: p.exhausted.Load(),
	}
}

// Close destroys idle connections and rejects further Acquire calls. It
// waits for checked out connections to be released.
func (p *ConnPool) Close() error {
	p.res.Close()
	return nil
}

// pooledConn is a Connection on loan from a ConnPool.
type pooledConn struct {
	Connection
	res        *puddle.Resource[Connection]
	pool       *ConnPool
	id         uint64
	acquiredAt time.Time
	released   atomic.Bool
	broken     atomic.Bool
	leak       *time.Timer
}

func (c *pooledConn) ID() uint64 { return c.id }

func (c *pooledConn) Execute(ctx context.Context, query string) error {
	if c.released.Load() {
		return ErrAlreadyReleased
	}
	err := c.Connection.Execute(ctx, query)
	if errors.Is(err, driver.ErrBadConn) {
		c.broken.Store(true)
	}
	return err
}

func (c *pooledConn) Commit(ctx context.Context) error {
	if c.released.Load() {
		return ErrAlreadyReleased
	}
	err := c.Connection.Commit(ctx)
	if errors.Is(err, driver.ErrBadConn) {
		c.broken.Store(true)
	}
	return err
}

func (c *pooledConn) Rollback(ctx context.Context) error {
	if c.released.Load() {
		return ErrAlreadyReleased
	}
	err := c.Connection.Rollback(ctx)
	if err != nil {
		c.broken.Store(true)
	}
	return err
}

func (c *pooledConn) IsConnected(ctx context.Context) bool {
	return !c.released.Load() && c.Connection.IsConnected(ctx)
}

// Close returns the connection to its pool.
func (c *pooledConn) Close() error { return c.pool.Release(c) }
