package querycore

import (
	"errors"
	"fmt"
)

// ErrUndefinedEndpoint is returned by Refetch, Invalidate, and Subscribe
// when called against a key that has never been passed to DefineEndpoint.
var ErrUndefinedEndpoint = errors.New("querycore: undefined endpoint")

// ErrTypeMismatch is returned when a generic operation is called with a
// type parameter that does not match the type the endpoint was defined
// with.
var ErrTypeMismatch = errors.New("querycore: type mismatch for endpoint")

// ProducerPanicError wraps a value recovered from a panicking producer so
// it can travel through State.Err like any other error.
type ProducerPanicError struct {
	Key    string
	Reason any
}

func (e *ProducerPanicError) Error() string {
	return fmt.Sprintf("querycore: producer for %q panicked: %v", e.Key, e.Reason)
}

func (e *ProducerPanicError) Unwrap() error {
	if err, ok := e.Reason.(error); ok {
		return err
	}
	return nil
}
