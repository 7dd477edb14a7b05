package nekodb

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	mysql "github.com/go-sql-driver/mysql"
)

func TestClassify_MySQLErrorCodes(t *testing.T) {
	cases := []struct {
		code uint16
		want ErrorClass
		name string
	}{
		{1213, ErrClassRetryable, "deadlock"},
		{1205, ErrClassRetryable, "lock_wait_timeout"},
		{1290, ErrClassReadonly, "read_only_mode"},
		{1062, ErrClassConflict, "duplicate_entry"},
		{1022, ErrClassConflict, "duplicate_key"},
		{1048, ErrClassConstraint, "not_null"},
		{1452, ErrClassConstraint, "fk_no_referenced"},
		{1451, ErrClassConstraint, "fk_row_referenced"},
		{3819, ErrClassConstraint, "check_violation"},
		{9999, ErrClassUnknown, "unknown"},
	}
	for _, tc := range cases {
		if got := Classify(&mysql.MySQLError{Number: tc.code}); got != tc.want {
			t.Fatalf("%s: classify(%d)=%v want %v", tc.name, tc.code, got, tc.want)
		}
	}
	if got := Classify(errors.New("plain")); got != ErrClassUnknown {
		t.Fatalf("plain error classified as %v", got)
	}
}

func TestClassify_SeesThroughQueryError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &QueryError{Path: PathPool, Query: "x", Err: &mysql.MySQLError{Number: 1213}})
	if got := Classify(err); got != ErrClassRetryable {
		t.Fatalf("got %v want retryable", got)
	}
}

func TestIsRetryable_IncludesDeadlockTimeoutReadonly(t *testing.T) {
	for _, c := range []uint16{1213, 1205, 1290} {
		if !isRetryable(&mysql.MySQLError{Number: c}) {
			t.Fatalf("code %d expected retryable", c)
		}
	}
	if isRetryable(&mysql.MySQLError{Number: 1062}) {
		t.Fatalf("duplicate should not be retryable")
	}
}

func TestErrorClass_String(t *testing.T) {
	if ErrClassConflict.String() != "conflict" || ErrorClass(42).String() != "unknown" {
		t.Fatalf("unexpected names %q %q", ErrClassConflict, ErrorClass(42))
	}
}

func TestQueryError(t *testing.T) {
	cause := errors.New("syntax")
	qe := &QueryError{Path: PathDirect, Query: "SELEC 1", Err: cause}
	if !errors.Is(qe, ErrQueryExecution) || !errors.Is(qe, cause) {
		t.Fatalf("QueryError should match ErrQueryExecution and its cause")
	}
	if strings.Contains(qe.Error(), "rollback") {
		t.Fatalf("no rollback failure expected in %q", qe.Error())
	}

	rb := errors.New("conn gone")
	qe.RollbackErr = rb
	if !errors.Is(qe, rb) {
		t.Fatalf("QueryError should expose the rollback failure")
	}
	if !strings.Contains(qe.Error(), "rollback: conn gone") {
		t.Fatalf("message %q lacks rollback failure", qe.Error())
	}
}

func TestAppendErr(t *testing.T) {
	a, b := errors.New("a"), errors.New("b")
	if appendErr(nil, nil) != nil {
		t.Fatalf("nil + nil should be nil")
	}
	if appendErr(nil, a) != a || appendErr(a, nil) != a {
		t.Fatalf("single error should be returned as is")
	}
	both := appendErr(a, b)
	if !errors.Is(both, a) || !errors.Is(both, b) {
		t.Fatalf("aggregate lost an error: %v", both)
	}
}
