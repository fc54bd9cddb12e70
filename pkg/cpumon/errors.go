package cpumon

import (
	"errors"

	"github.com/opd-ai/go-cpumon/internal/monitor"
	"github.com/opd-ai/go-cpumon/internal/platform"
)

// Sentinel errors returned by Instance methods.
var (
	// ErrAlreadyRunning is returned by Start on a running instance.
	ErrAlreadyRunning = errors.New("cpumon instance already running")
	// ErrNotRunning is returned by operations that need a running instance.
	ErrNotRunning = errors.New("cpumon instance not running")
	// ErrNoConfigLoader is returned by ReloadConfig when the configuration
	// cannot be read again.
	ErrNoConfigLoader = errors.New("no config loader available")
)

// Errors re-exported from the internal packages so callers can match them
// with errors.Is.
var (
	// ErrCounterSource wraps every failure to read CPU counters.
	ErrCounterSource = monitor.ErrCounterSource
	// ErrTickInProgress is returned by Sample while another tick runs.
	ErrTickInProgress = monitor.ErrTickInProgress
	// ErrInvalidPID is returned by Terminate for non-positive PIDs.
	ErrInvalidPID = platform.ErrInvalidPID
	// ErrProtectedPID is returned by Terminate for init and the monitor itself.
	ErrProtectedPID = platform.ErrProtectedPID
)
