package nekodb

import "context"

// ConnectFunc opens one independent connection described by cfg.
type ConnectFunc func(ctx context.Context, cfg ConnectionConfig) (Connection, error)

// Connection is a single database session. Execute opens a transaction on
// first use; Commit and Rollback end it.
type Connection interface {
	Execute(ctx context.Context, query string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	IsConnected(ctx context.Context) bool
	Close() error
}

// PooledConnection is a Connection on loan from a ConnPool. Close returns it
// to the pool; it must be called exactly once per checkout.
type PooledConnection interface {
	Connection
	ID() uint64
}

// Engine owns the connection data, the connect function, the independent
// connection and the pool, and binds them to an API.
type Engine interface {
	ConnectMethod() ConnectFunc
	CreateConnectionWithDatabase(ctx context.Context) error
	ConnectionWithDatabase(ctx context.Context) (Connection, error)
	CloseConnectionWithDatabase(ctx context.Context) error
	ConnectAPIToDatabase(ctx context.Context) error
}

// SingleConnAPI executes templated SQL on the engine's independent connection.
type SingleConnAPI interface {
	SetConnectionWithDatabase(conn Connection)
	ConnectionWithDatabase() Connection
	CheckConnectionWithDatabase(ctx context.Context) bool
	ExecuteSQLQueryToDatabase(ctx context.Context, query Template, data map[string]string) error
}

// PoolAPI executes templated SQL on connections checked out from a pool.
type PoolAPI interface {
	SetConnectionToPool(pool *ConnPool)
	GetConnectionFromPool(ctx context.Context) (PooledConnection, error)
	CloseConnectionFromPool(conn PooledConnection) error
	ExecuteSQLQueryUsePool(ctx context.Context, query Template, data map[string]string) error
}

// txState is implemented by connections that can report an open transaction.
type txState interface {
	InTransaction() bool
}

// Ensure our concrete types implement the interfaces at compile time
var (
	_ Engine           = (*MySQLEngine)(nil)
	_ SingleConnAPI    = (*MySQLAPI)(nil)
	_ PoolAPI          = (*MySQLAPI)(nil)
	_ Connection       = (*SQLConnection)(nil)
	_ PooledConnection = (*pooledConn)(nil)
)
