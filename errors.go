package nekodb

import (
	"errors"
	"fmt"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/hashicorp/go-multierror"
)

// Sentinel errors. Match them with errors.Is.
var (
	// ErrConnection indicates the connect function or the pool constructor
	// could not reach the database (bad credentials, unreachable host).
	ErrConnection = errors.New("database connection failed")

	// ErrPoolExhausted indicates no pooled connection became free within
	// the configured acquire timeout.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrQueryExecution indicates a query could not be rendered or executed.
	ErrQueryExecution = errors.New("query execution failed")

	// ErrAlreadyClosed indicates use of a connection, pool or engine after Close.
	ErrAlreadyClosed = errors.New("already closed")

	// ErrAlreadyReleased indicates a pooled connection was returned twice.
	ErrAlreadyReleased = errors.New("pooled connection already released")

	// ErrAPINotBound indicates the API was used before the engine bound a
	// connection or pool to it.
	ErrAPINotBound = errors.New("api is not bound to a database")

	// ErrInvalidConfig indicates an unusable ConnectionConfig.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMissingPlaceholder indicates template data lacks a value for a
	// placeholder.
	ErrMissingPlaceholder = errors.New("missing placeholder value")

	// ErrInvalidPlaceholder indicates a malformed $ sequence in a template.
	ErrInvalidPlaceholder = errors.New("invalid placeholder")
)

// Execution paths reported by QueryError and telemetry.
const (
	PathPool   = "pool"
	PathDirect = "direct"
)

// QueryError describes a failed render or execution. The transaction has
// already been rolled back when a QueryError is returned; RollbackErr holds
// the rollback failure, if any.
type QueryError struct {
	Path        string
	Query       string
	Err         error
	RollbackErr error
}

func (e *QueryError) Error() string {
	msg := fmt.Sprintf("%s query %q: %v", e.Path, e.Query, e.Err)
	if e.RollbackErr != nil {
		msg += fmt.Sprintf(" (rollback: %v)", e.RollbackErr)
	}
	return msg
}

func (e *QueryError) Is(target error) bool { return target == ErrQueryExecution }

func (e *QueryError) Unwrap() []error {
	if e.RollbackErr == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.RollbackErr}
}

// ErrorClass groups driver errors by how a caller should react to them.
type ErrorClass int

const (
	ErrClassUnknown ErrorClass = iota
	ErrClassRetryable
	ErrClassConflict
	ErrClassReadonly
	ErrClassConstraint
)

func (c ErrorClass) String() string {
	switch c {
	case ErrClassRetryable:
		return "retryable"
	case ErrClassConflict:
		return "conflict"
	case ErrClassReadonly:
		return "readonly"
	case ErrClassConstraint:
		return "constraint"
	default:
		return "unknown"
	}
}

// Classify maps MySQL server error numbers to an ErrorClass.
func Classify(err error) ErrorClass {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return ErrClassUnknown
	}
	switch me.Number {
	case 1213, 1205: // ER_LOCK_DEADLOCK, ER_LOCK_WAIT_TIMEOUT
		return ErrClassRetryable
	case 1290: // ER_OPTION_PREVENTS_STATEMENT (read-only replica)
		return ErrClassReadonly
	case 1062, 1022:
		return ErrClassConflict
	case 1048, 1451, 1452, 3819:
		return ErrClassConstraint
	}
	return ErrClassUnknown
}

func isRetryable(err error) bool {
	switch Classify(err) {
	case ErrClassRetryable, ErrClassReadonly:
		return true
	}
	return false
}

// appendErr aggregates err into acc without allocating for the nil case.
func appendErr(acc, err error) error {
	if err == nil {
		return acc
	}
	if acc == nil {
		return err
	}
	return multierror.Append(acc, err)
}
