package engine

import (
	"errors"
	"fmt"
)

var (
	ErrDisabled    = errors.New("task engine disabled")
	ErrStopped     = errors.New("task engine stopped")
	ErrStopping    = errors.New("task engine stopping")
	ErrQueueFull   = errors.New("task engine queue full")
	ErrOverlapSkip = errors.New("job skipped: previous run still in flight")
)

// ExecutionError is the failure carried by a FAILED event: any error or panic
// raised by a job's action.
type ExecutionError struct {
	Job string
	Err error
}

func (e *ExecutionError) Error() string { return fmt.Sprintf("job %q failed: %v", e.Job, e.Err) }
func (e *ExecutionError) Unwrap() error { return e.Err }

// NoRetry marks an error as permanent so the engine skips remaining retries.
//
//	return engine.NoRetry(fmt.Errorf("bad input: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }
