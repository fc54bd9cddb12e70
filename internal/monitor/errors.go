package monitor

import (
	"errors"
	"fmt"
)

var (
	// ErrCounterSource reports that CPU counters could not be read or parsed.
	// The host interface is missing, unreadable, or returned malformed data.
	ErrCounterSource = errors.New("cpu counter source unavailable")

	// ErrAlreadyRunning is returned by Start on a running Monitor.
	ErrAlreadyRunning = errors.New("monitor already running")

	// ErrTickInProgress is returned by TickNow when another tick holds the sampler.
	ErrTickInProgress = errors.New("tick already in progress")
)

// sourceError wraps err as an ErrCounterSource failure during op.
func sourceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCounterSource, op, err)
}

// ErrorSource identifies which component produced an error.
type ErrorSource string

const (
	ErrorSourceCPU      ErrorSource = "cpu"
	ErrorSourceProcess  ErrorSource = "process"
	ErrorSourcePlatform ErrorSource = "platform"
)

// ComponentError wraps an error with source information.
// It preserves the original error for inspection via errors.Is/errors.As.
type ComponentError struct {
	Source ErrorSource
	// Counter is the source name (procfs, gopsutil, ssh, ...) when known.
	Counter string
	Err     error
}

// Error implements the error interface.
func (e *ComponentError) Error() string {
	if e.Counter != "" {
		return fmt.Sprintf("%s (%s): %v", e.Source, e.Counter, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *ComponentError) Unwrap() error {
	return e.Err
}

// NewComponentError creates a new ComponentError.
func NewComponentError(source ErrorSource, counter string, err error) *ComponentError {
	return &ComponentError{
		Source:  source,
		Counter: counter,
		Err:     err,
	}
}

// IsComponentError returns true if err wraps or is a ComponentError with the given source.
func IsComponentError(err error, source ErrorSource) bool {
	var ce *ComponentError
	for errors.As(err, &ce) {
		if ce.Source == source {
			return true
		}
		err = ce.Err
	}
	return false
}
