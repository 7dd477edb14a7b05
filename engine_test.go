package nekodb

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_LazyInitExactlyOnce(t *testing.T) {
	e, _, directDB := newTestEngine(t, ConnectionConfig{})
	assert.Equal(t, StateUninitialized, e.State())

	const n = 32
	var (
		wg    sync.WaitGroup
		conns = make([]Connection, n)
		errs  = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conns[i], errs[i] = e.ConnectionWithDatabase(context.Background())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), directDB.opens.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, conns[0], conns[i])
	}
	assert.Equal(t, StateConnected, e.State())
}

func TestEngine_ConnectMethod(t *testing.T) {
	e, _, directDB := newTestEngine(t, ConnectionConfig{})
	connect := e.ConnectMethod()
	require.NotNil(t, connect)

	c, err := connect(context.Background(), e.Config())
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, int32(1), directDB.opens.Load())
	assert.Equal(t, StateUninitialized, e.State(), "ConnectMethod must not change engine state")
}

func TestEngine_CloseThenGetFails(t *testing.T) {
	e, _, _ := newTestEngine(t, ConnectionConfig{})
	ctx := context.Background()

	c, err := e.ConnectionWithDatabase(ctx)
	require.NoError(t, err)
	require.NoError(t, e.CloseConnectionWithDatabase(ctx))
	assert.Equal(t, StateClosed, e.State())
	assert.False(t, c.IsConnected(ctx))

	got, err := e.ConnectionWithDatabase(ctx)
	require.ErrorIs(t, err, ErrAlreadyClosed)
	assert.Nil(t, got)
}

func TestEngine_ExplicitCreateAfterClose(t *testing.T) {
	e, _, directDB := newTestEngine(t, ConnectionConfig{})
	ctx := context.Background()

	old, err := e.ConnectionWithDatabase(ctx)
	require.NoError(t, err)
	require.NoError(t, e.CloseConnectionWithDatabase(ctx))
	require.NoError(t, e.CreateConnectionWithDatabase(ctx))

	fresh, err := e.ConnectionWithDatabase(ctx)
	require.NoError(t, err)
	assert.NotSame(t, old, fresh)
	assert.True(t, fresh.IsConnected(ctx))
	assert.Equal(t, int32(2), directDB.opens.Load())
}

func TestEngine_CloseIsIdempotent(t *testing.T) {
	e, _, directDB := newTestEngine(t, ConnectionConfig{})
	ctx := context.Background()

	require.NoError(t, e.CloseConnectionWithDatabase(ctx), "close on uninitialized is a no-op")
	assert.Equal(t, StateUninitialized, e.State())

	_, err := e.ConnectionWithDatabase(ctx)
	require.NoError(t, err)
	require.NoError(t, e.CloseConnectionWithDatabase(ctx))
	require.NoError(t, e.CloseConnectionWithDatabase(ctx))
	assert.Equal(t, 1, directDB.all()[0].counts().closes)
}

func TestEngine_CreateReplacesLiveConnection(t *testing.T) {
	e, _, directDB := newTestEngine(t, ConnectionConfig{})
	ctx := context.Background()
	require.NoError(t, e.ConnectAPIToDatabase(ctx))

	first := e.API().ConnectionWithDatabase()
	require.NoError(t, e.CreateConnectionWithDatabase(ctx))
	second := e.API().ConnectionWithDatabase()

	assert.NotSame(t, first, second, "bound API must follow the new connection")
	assert.Equal(t, 1, directDB.all()[0].counts().closes)
	assert.Equal(t, 0, directDB.all()[1].counts().closes)
}

func TestEngine_ConnectFailure(t *testing.T) {
	e, _, directDB := newTestEngine(t, ConnectionConfig{})
	directDB.openErr = errBoom

	_, err := e.ConnectionWithDatabase(context.Background())
	require.ErrorIs(t, err, ErrConnection)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateUninitialized, e.State())

	directDB.openErr = nil
	_, err = e.ConnectionWithDatabase(context.Background())
	require.NoError(t, err)
}

func TestEngine_ConnectAPIToDatabase(t *testing.T) {
	e, _, _ := newTestEngine(t, ConnectionConfig{})
	ctx := context.Background()

	require.NoError(t, e.ConnectAPIToDatabase(ctx))
	conn, err := e.ConnectionWithDatabase(ctx)
	require.NoError(t, err)
	assert.Same(t, conn, e.API().ConnectionWithDatabase())
	assert.True(t, e.API().CheckConnectionWithDatabase(ctx))

	require.NoError(t, e.ConnectAPIToDatabase(ctx), "rebinding is allowed")
	assert.Same(t, conn, e.API().ConnectionWithDatabase())
}

func TestEngine_ConnectAPIAfterCloseFails(t *testing.T) {
	e, _, _ := newTestEngine(t, ConnectionConfig{})
	ctx := context.Background()
	require.NoError(t, e.ConnectAPIToDatabase(ctx))
	require.NoError(t, e.CloseConnectionWithDatabase(ctx))

	require.ErrorIs(t, e.ConnectAPIToDatabase(ctx), ErrAlreadyClosed)
	assert.Nil(t, e.API().ConnectionWithDatabase())
	assert.False(t, e.API().CheckConnectionWithDatabase(ctx))
}

func TestEngine_APIBelongsToOneEngine(t *testing.T) {
	api := NewMySQLAPI()
	pool1 := newTestPool(t, &fakeDB{}, ConnPoolConfig{})
	_, err := NewEngine(ConnectionConfig{}, (&fakeDB{}).connect, pool1, api)
	require.NoError(t, err)

	pool2 := newTestPool(t, &fakeDB{}, ConnPoolConfig{})
	_, err = NewEngine(ConnectionConfig{}, (&fakeDB{}).connect, pool2, api)
	require.Error(t, err)
}

func TestEngine_Close(t *testing.T) {
	e, poolDB, directDB := newTestEngine(t, ConnectionConfig{})
	ctx := context.Background()
	require.NoError(t, e.ConnectAPIToDatabase(ctx))
	require.NoError(t, e.API().ExecuteSQLQueryUsePool(ctx, NewTemplate("SELECT 1"), nil))

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	assert.Equal(t, 1, directDB.totals().closes)
	assert.Equal(t, 1, poolDB.totals().closes)
	require.ErrorIs(t, e.CreateConnectionWithDatabase(ctx), ErrAlreadyClosed)
	_, err := e.Pool().Acquire(ctx)
	require.ErrorIs(t, err, ErrAlreadyClosed)
}

func TestEngine_LockHonoursContext(t *testing.T) {
	e, _, _ := newTestEngine(t, ConnectionConfig{})
	require.NoError(t, e.lock.Acquire(context.Background(), 1))
	defer e.lock.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.ConnectionWithDatabase(ctx)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestNewMySQLEngine_DefaultsAndLazyConnect(t *testing.T) {
	e, err := NewMySQLEngine(ConnectionConfig{Host: "db.invalid", User: "u", Database: "shop"}, nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultPoolName, e.Pool().Name())
	assert.Equal(t, DefaultPoolSize, e.Pool().Size())
	assert.Equal(t, StateUninitialized, e.State())
	assert.Equal(t, "mysql", e.Config().Driver)
	require.NoError(t, e.Close())
}

func TestNewMySQLEngine_NegativePoolSizeUsesDefault(t *testing.T) {
	e, err := NewMySQLEngine(ConnectionConfig{Host: "db.invalid", PoolSize: -4}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultPoolSize, e.Pool().Size())
	assert.Equal(t, DefaultPoolSize, e.Config().PoolSize)
	require.NoError(t, e.Close())
}

func TestNewMySQLEngine_InstrumentDriver(t *testing.T) {
	e, err := NewMySQLEngine(ConnectionConfig{Host: "127.0.0.1", Database: "shop", InstrumentDriver: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, StateUninitialized, e.State())
	require.NoError(t, e.Close())
}

func TestNewMySQLEngine_InvalidConfig(t *testing.T) {
	_, err := NewMySQLEngine(ConnectionConfig{}, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConnState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "ConnState(9)", ConnState(9).String())
}
