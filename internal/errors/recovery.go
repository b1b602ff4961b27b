package errors

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// Recover converts a panic in the calling function into an *Error of the given
// kind stored in *errp. It must be deferred directly:
//
//	defer errors.Recover(errors.KindOptimizer, "NextTrials", &err)
//
// The numeric layer (gonum/mat, kernel constructors) reports misuse by
// panicking; callers of the optimization engine only ever see an error.
func Recover(kind Kind, op string, errp *error) {
	rec := recover()
	if rec == nil {
		return
	}

	var cause error
	switch v := rec.(type) {
	case error:
		cause = v
	default:
		cause = fmt.Errorf("%v", v)
	}

	e := &Error{
		Kind:      kind,
		Err:       cause,
		Message:   "recovered from panic",
		Operation: op,
		Stack:     strings.Split(strings.TrimSpace(string(debug.Stack())), "\n"),
	}
	if errp != nil {
		*errp = e
	}
}
