package app

import (
	"context"
	"errors"

	"github.com/4-proxy/nekodb"
)

// Exit codes returned by the nekoshop binary.
const (
	ExitSuccess         = 0
	ExitGeneralError    = 1
	ExitUsageError      = 2
	ExitPanic           = 3
	ExitConfigError     = 10
	ExitConnectionError = 11
	ExitExecutionFailed = 13
	ExitPoolExhausted   = 14
	ExitInterrupted     = 130
)

// ExitCodeForError maps err to a process exit code.
func ExitCodeForError(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, ErrConfigNotFound), errors.Is(err, nekodb.ErrInvalidConfig):
		return ExitConfigError
	case errors.Is(err, ErrUsage):
		return ExitUsageError
	case errors.Is(err, nekodb.ErrConnection):
		return ExitConnectionError
	case errors.Is(err, nekodb.ErrPoolExhausted):
		return ExitPoolExhausted
	case errors.Is(err, nekodb.ErrQueryExecution):
		return ExitExecutionFailed
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	}
	return ExitGeneralError
}

// ErrUsage marks invalid command line arguments.
var ErrUsage = errors.New("usage error")
