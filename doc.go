// Package nekodb is a small database access layer built around two ways of
// running a statement: on one long-lived independent connection, or on a
// connection borrowed from a bounded pool.
//
// # Overview
//
// An engine (MySQLEngine) owns a ConnectionConfig, a ConnPool created
// eagerly from it, and at most one independent connection that is opened on
// first use. The engine binds both to a MySQLAPI, which renders Template
// statements and runs them inside a transaction:
//
//	cfg := nekodb.ConnectionConfig{
//		Host:     "localhost",
//		User:     "shop",
//		Password: "secret",
//		Database: "shop",
//	}
//
//	engine, err := nekodb.NewMySQLEngine(cfg, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	ctx := context.Background()
//	if err := engine.ConnectAPIToDatabase(ctx); err != nil {
//		log.Fatal(err)
//	}
//
//	insert := nekodb.NewTemplate("INSERT INTO users(name) VALUES ('${name}')")
//	err = engine.API().ExecuteSQLQueryUsePool(ctx, insert, map[string]string{"name": "neko"})
//
// Successful statements are committed. Failed ones are rolled back and
// reported as a *QueryError; pooled connections are always returned.
//
// # Templates
//
// Placeholders are $name or ${name}; $$ is a literal dollar sign. Values are
// inserted verbatim with no quoting or escaping, so they must come from a
// trusted source.
//
// # Connection lifecycle
//
// The independent connection is Uninitialized until first requested,
// Connected afterwards and Closed after CloseConnectionWithDatabase. A closed
// connection is only reopened by CreateConnectionWithDatabase.
//
// Pool checkouts block while every connection is in use. Set
// ConnectionConfig.AcquireTimeout to fail with ErrPoolExhausted instead of
// waiting for the caller's context.
//
// # Observability
//
// Structured logging (log/slog), OpenTelemetry tracing and OpenTelemetry
// metrics are off by default and are enabled per engine with EnableLogging,
// EnableTelemetry and EnableMetrics.
//
// # Testing
//
// NewMockEngine runs an engine on go-sqlmock and NewSQLiteEngine on a SQLite
// file, so code written against the engine can be tested without MySQL.
package nekodb
