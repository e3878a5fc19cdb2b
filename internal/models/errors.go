package models

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrBookNotFound = errors.New("book not found")
	ErrUnknownChunk = errors.New("result for undeclared chunk")
	ErrJobFinished  = errors.New("job already finished")
)

// Error codes recorded on failed jobs and returned by the API.
const (
	CodeInvalidSource       = "INVALID_SOURCE"
	CodeSourceUnavailable   = "SOURCE_UNAVAILABLE"
	CodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	CodeTaskFailed          = "TASK_FAILED"
	CodeAssemblyFailed      = "ASSEMBLY_FAILED"
	CodeConflict            = "CONFLICT"
)

// InvalidSourceError means the URL does not identify a video.
type InvalidSourceError struct{ URL string }

func (e *InvalidSourceError) Error() string {
	return fmt.Sprintf("invalid source url: %q", e.URL)
}

// SourceUnavailableError means the video exists but cannot be fetched
// (private, removed, region locked). Not retried.
type SourceUnavailableError struct {
	VideoID string
	Err     error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.VideoID, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// TransientProviderError is a capability failure worth retrying: rate
// limits, timeouts, 5xx responses.
type TransientProviderError struct {
	Provider string
	Err      error
}

func (e *TransientProviderError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Provider, e.Err)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// PermanentTaskError is a capability failure that will not succeed on retry.
type PermanentTaskError struct {
	Provider string
	Err      error
}

func (e *PermanentTaskError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *PermanentTaskError) Unwrap() error { return e.Err }

// ConcurrencyConflictError is returned by the store when a write carries a
// stale version.
type ConcurrencyConflictError struct {
	JobID    string
	Expected int64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("job %s: version %d is stale", e.JobID, e.Expected)
}

// AssemblyInconsistencyError means assembly was attempted without a complete
// set of generation results.
type AssemblyInconsistencyError struct {
	Missing []int
	Reason  string
}

func (e *AssemblyInconsistencyError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("cannot assemble: missing generation chunks %v", e.Missing)
	}
	return "cannot assemble: " + e.Reason
}

// IsTransient reports whether err should be retried by the executor.
// Unclassified network errors and attempt deadlines are transient; typed
// permanent errors and cancellation are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perm *PermanentTaskError
	var unavailable *SourceUnavailableError
	var invalid *InvalidSourceError
	if errors.As(err, &perm) || errors.As(err, &unavailable) || errors.As(err, &invalid) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var transient *TransientProviderError
	if errors.As(err, &transient) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// ErrorCode maps an error to the code stored in JobError.
func ErrorCode(err error) string {
	var invalid *InvalidSourceError
	var unavailable *SourceUnavailableError
	var transient *TransientProviderError
	var assembly *AssemblyInconsistencyError
	var conflict *ConcurrencyConflictError
	switch {
	case errors.As(err, &invalid):
		return CodeInvalidSource
	case errors.As(err, &unavailable):
		return CodeSourceUnavailable
	case errors.As(err, &transient):
		return CodeProviderUnavailable
	case errors.As(err, &assembly):
		return CodeAssemblyFailed
	case errors.As(err, &conflict):
		return CodeConflict
	}
	return CodeTaskFailed
}
