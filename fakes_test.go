package nekodb

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeConn is an in-memory Connection that records what was done to it.
type fakeConn struct {
	id int

	mu          sync.Mutex
	executed    []string
	commits     int
	rollbacks   int
	closes      int
	inTx        bool
	closed      bool
	execErr     error
	execErrs    []error // consumed one per Execute before execErr
	commitErr   error
	rollbackErr error
	block       chan struct{}
}

func (c *fakeConn) Execute(ctx context.Context, query string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.executed = append(c.executed, query)
	c.inTx = true
	err := c.execErr
	if len(c.execErrs) > 0 {
		err, c.execErrs = c.execErrs[0], c.execErrs[1:]
	}
	block := c.block
	c.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (c *fakeConn) Commit(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits++
	c.inTx = false
	return c.commitErr
}

func (c *fakeConn) Rollback(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollbacks++
	c.inTx = false
	return c.rollbackErr
}

func (c *fakeConn) IsConnected(context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	c.closed = true
	return nil
}

func (c *fakeConn) InTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inTx
}

type fakeCounts struct {
	executed  []string
	commits   int
	rollbacks int
	closes    int
}

func (c *fakeConn) counts() fakeCounts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fakeCounts{
		executed:  append([]string(nil), c.executed...),
		commits:   c.commits,
		rollbacks: c.rollbacks,
		closes:    c.closes,
	}
}

// fakeDB hands out fakeConns to a pool and to the engine's connect func.
type fakeDB struct {
	mu      sync.Mutex
	conns   []*fakeConn
	opens   atomic.Int32
	openErr error
	// prepare, when set, configures every new connection.
	prepare func(*fakeConn)
}

func (d *fakeDB) newConn() (*fakeConn, error) {
	d.opens.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	c := &fakeConn{id: len(d.conns) + 1}
	if d.prepare != nil {
		d.prepare(c)
	}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDB) open(context.Context) (Connection, error) {
	c, err := d.newConn()
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (d *fakeDB) connect(ctx context.Context, _ ConnectionConfig) (Connection, error) {
	// Widen the race window for concurrent first access.
	time.Sleep(5 * time.Millisecond)
	return d.open(ctx)
}

func (d *fakeDB) all() []*fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeConn(nil), d.conns...)
}

// totals sums the counters of every connection handed out so far.
func (d *fakeDB) totals() fakeCounts {
	var t fakeCounts
	for _, c := range d.all() {
		n := c.counts()
		t.executed = append(t.executed, n.executed...)
		t.commits += n.commits
		t.rollbacks += n.rollbacks
		t.closes += n.closes
	}
	return t
}

func newTestPool(t *testing.T, db *fakeDB, conf ConnPoolConfig) *ConnPool {
	t.Helper()
	p, err := NewConnPool(conf, db.open)
	if err != nil {
		t.Fatalf("NewConnPool: %v", err)
	}
	return p
}

// newTestEngine builds an engine whose pool and independent connection are
// both served by one fakeDB. The pool is drained on cleanup.
func newTestEngine(t *testing.T, cfg ConnectionConfig) (*MySQLEngine, *fakeDB, *fakeDB) {
	t.Helper()
	poolDB, directDB := &fakeDB{}, &fakeDB{}
	cfg = cfg.withDefaults()
	pool := newTestPool(t, poolDB, ConnPoolConfig{Name: cfg.PoolName, Size: cfg.PoolSize, AcquireTimeout: cfg.AcquireTimeout})
	e, err := NewEngine(cfg, directDB.connect, pool, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e, poolDB, directDB
}

var errBoom = errors.New("boom")
