package nekodb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/DATA-DOG/go-sqlmock"
)

// NewMockEngine builds an engine whose pool and independent connection both
// run on one go-sqlmock database. Queries are matched verbatim.
//
// Every execution expects Begin, Exec and then Commit or Rollback. Close the
// engine only after registering mock.ExpectClose().
func NewMockEngine(cfg ConnectionConfig, api *MySQLAPI) (*MySQLEngine, sqlmock.Sqlmock, error) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		return nil, nil, fmt.Errorf("sqlmock: %w", err)
	}
	if cfg.Driver == "" {
		cfg.Driver = "sqlmock"
	}
	cfg = cfg.withDefaults()

	e, err := newEngineOnDB(cfg, mockConnect(db), db, api)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return e, mock, nil
}

// mockConnect opens independent connections from the shared mock database.
// The database outlives them; the engine closes it.
func mockConnect(db *sql.DB) ConnectFunc {
	open := sqlOpener(db)
	return func(ctx context.Context, _ ConnectionConfig) (Connection, error) {
		return open(ctx)
	}
}
