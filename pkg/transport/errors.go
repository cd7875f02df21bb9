package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrMachineExpired signals the server no longer recognizes this
	// machine registration and the agent must re-register.
	ErrMachineExpired = errors.New("machine registration expired")

	// ErrPollTimeout is returned when a caller-side job wait exhausts
	// its retry budget.
	ErrPollTimeout = errors.New("job polling timed out")
)

// APIError wraps a failed HTTP exchange with the MeshRPC API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("meshrpc api error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("meshrpc api error: %s", e.Message)
}

// JobFailedError reports a remote job that finished with failure status.
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}
