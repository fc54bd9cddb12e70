package cpumon

import (
	"time"
)

// DefaultShutdownTimeout is the default timeout for graceful shutdown.
// This can be overridden via Options.ShutdownTimeout.
const DefaultShutdownTimeout = 5 * time.Second

// Options configures the Instance behavior.
type Options struct {
	// UpdateInterval overrides the configuration file's update_interval.
	// Zero means use the configuration file's value.
	UpdateInterval time.Duration

	// TopCount overrides the configuration file's top_processes.
	// Zero means use the configuration file's value.
	TopCount int

	// SourceKind overrides the configuration file's source
	// (auto, procfs, native, gopsutil, ssh). Empty means use the file.
	SourceKind string

	// Source replaces the counter source named by the configuration.
	// The instance does not close a caller-supplied source.
	Source CounterSource

	// ProcessLister replaces the process lister named by the configuration.
	ProcessLister ProcessLister

	// Environ supplies the variables used for CPUMON_* overrides and for
	// ${VAR} references in configuration values.
	// Nil means the process environment.
	Environ map[string]string

	// ShutdownTimeout sets the maximum time to wait for graceful shutdown.
	// Zero means use DefaultShutdownTimeout (5 seconds).
	ShutdownTimeout time.Duration

	// Logger sets a custom logger for debug/info messages.
	// If nil, no logging is performed.
	Logger Logger

	// Metrics sets a custom metrics collector for operational metrics.
	// If nil, the instance creates its own.
	Metrics *Metrics

	// CircuitBreaker configures the guard around the counter source. After
	// FailureThreshold consecutive read failures the source is left alone
	// for Timeout and ticks publish the last-known-good value. Nil uses
	// DefaultCircuitBreakerConfig.
	CircuitBreaker *CircuitBreakerConfig

	// DisableCircuitBreaker reads the counter source on every tick even
	// while it keeps failing.
	DisableCircuitBreaker bool

	// WatchConfig enables automatic configuration hot-reloading when the
	// configuration file changes on disk. It is combined with the file's
	// watch_config setting; either enables watching. Only instances created
	// with New have a file to watch.
	WatchConfig bool

	// WatchDebounce sets the debounce interval for file change events.
	// Multiple rapid file modifications within this window trigger only
	// a single reload. Zero means use the default (500ms).
	WatchDebounce time.Duration
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		ShutdownTimeout: DefaultShutdownTimeout,
		WatchDebounce:   DefaultWatchDebounce,
	}
}

func resolveOptions(opts *Options) Options {
	if opts == nil {
		return DefaultOptions()
	}
	return *opts
}

// Logger interface for custom logging.
// It follows the slog-style signature for compatibility with Go's structured logging.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, args ...any)
	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, args ...any)
	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, args ...any)
	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, args ...any)
}
