package scheduler

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateJobID    = errors.New("duplicate job id")
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ExecutionError wraps a failure raised by a job's callable during dispatch.
// It is logged and recorded, never propagated: a failing job cannot crash
// the loop, a worker, or other jobs, and its schedule continues unaffected.
type ExecutionError struct {
	JobID   string
	JobName string
	Err     error
	Stack   string // non-empty when the job body panicked
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("job %s (%s): %v", e.JobID, e.JobName, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
