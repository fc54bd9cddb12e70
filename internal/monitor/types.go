// Package monitor samples aggregate CPU time counters and turns two successive
// snapshots into a utilization percentage. It contains the sampler state, the
// local /proc/stat counter source, and the serial periodic driver that feeds
// readings to a consumer callback.
package monitor

import (
	"fmt"
	"time"
)

// Utilization is the busy share of one sampling interval.
type Utilization struct {
	// Percent is the non-idle share of the interval as a percentage (0-100).
	Percent float64
	// Available is false until two snapshots exist to compare.
	Available bool
}

// String formats the utilization with two decimal places, or "n/a".
func (u Utilization) String() string {
	if !u.Available {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%%", u.Percent)
}

// Reading is the result of one tick.
type Reading struct {
	// Total is the aggregate utilization across all CPUs.
	Total Utilization
	// Cores contains per-core utilization, in cpuN order.
	// Empty when per-core sampling is disabled or the source has no per-core data.
	Cores []Utilization
	// Timestamp is when the underlying snapshot was taken.
	Timestamp time.Time
	// Stale is true when the latest read failed and Total is the last-known-good value.
	Stale bool
	// Err is the read error behind a stale reading.
	Err error
}

// clone returns a copy that does not share the Cores slice.
func (r Reading) clone() Reading {
	if r.Cores != nil {
		cores := make([]Utilization, len(r.Cores))
		copy(cores, r.Cores)
		r.Cores = cores
	}
	return r
}

// Stats contains counters describing the driver's activity.
type Stats struct {
	// Ticks is the number of ticks that read the counter source.
	Ticks uint64
	// Skipped is the number of ticks dropped because another tick was in progress.
	Skipped uint64
	// Failures is the number of ticks whose read failed.
	Failures uint64
	// LastDuration is how long the most recent tick took.
	LastDuration time.Duration
}

// Logger is the structured logging surface the driver writes to.
// It matches the slog-style key/value signature.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
