// Package eventloop: error taxonomy for the reactor core.
//
// Programmer errors (illegal state transitions, double-registration) are
// returned directly from the offending call and are never routed through a
// pipeline. I/O and task failures are reported via PanicError/TaskError so
// a channel's exception-caught handler can distinguish "my own handler
// panicked" from "the loop recovered a panic in unrelated code".
package eventloop

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrLoopAlreadyRunning is returned when Run() is called on a loop that is already running.
	ErrLoopAlreadyRunning = errors.New("eventloop: loop is already running")

	// ErrLoopTerminated is returned when operations are attempted on a terminated loop.
	ErrLoopTerminated = errors.New("eventloop: loop has been terminated")

	// ErrLoopNotRunning is returned when operations are attempted on a loop that hasn't been started.
	ErrLoopNotRunning = errors.New("eventloop: loop is not running")

	// ErrReentrantRun is returned when Run() is called from within the loop itself.
	ErrReentrantRun = errors.New("eventloop: cannot call Run() from within the loop")

	// ErrInvalidIORatio is returned when an I/O ratio outside [1,100] is supplied.
	ErrInvalidIORatio = errors.New("eventloop: io-ratio must be in [1,100]")

	// ErrLoopOverloaded is passed to the onOverload callback when a tick's
	// task budget is exhausted while tasks remain queued.
	ErrLoopOverloaded = errors.New("eventloop: task queue exceeded per-tick budget")
)

// PanicError wraps a value recovered from a panicking task or handler
// callback. It is surfaced to callers instead of crashing the loop's
// goroutine, per the "uncaught errors are caught and surfaced" failure
// model.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("eventloop: recovered panic: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error,
// enabling [errors.Is] / [errors.As] through the cause chain.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// TaskError wraps a task failure with a category so dispatchers can decide
// whether to log-and-continue (pure scheduled task) or surface it as an
// exception-caught pipeline event (channel-bound task).
type TaskError struct {
	Cause error
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	return fmt.Sprintf("eventloop: task failed: %v", e.Cause)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *TaskError) Unwrap() error {
	return e.Cause
}

// WrapError wraps an error with a message and optional cause chain.
//
// If the original error should be the cause, pass it as both arguments:
//
//	WrapError("context failed", originalErr)
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
