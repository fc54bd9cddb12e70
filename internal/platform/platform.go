package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// SourceKind names a counter source implementation.
type SourceKind string

const (
	// SourceAuto picks the best source for the running OS.
	SourceAuto SourceKind = "auto"
	// SourceProcfs reads the local /proc/stat file.
	SourceProcfs SourceKind = "procfs"
	// SourceNative uses the OS kernel API directly (macOS only).
	SourceNative SourceKind = "native"
	// SourceGopsutil uses github.com/shirou/gopsutil.
	SourceGopsutil SourceKind = "gopsutil"
	// SourceSSH reads /proc/stat from a remote host over SSH.
	SourceSSH SourceKind = "ssh"
)

// ParseSourceKind converts a configuration string into a SourceKind.
// The empty string selects SourceAuto.
func ParseSourceKind(s string) (SourceKind, error) {
	switch k := SourceKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return SourceAuto, nil
	case SourceAuto, SourceProcfs, SourceNative, SourceGopsutil, SourceSSH:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedSource, s)
	}
}

var (
	// ErrUnsupportedSource is returned for unknown source names and for
	// sources that are not available on the running OS.
	ErrUnsupportedSource = errors.New("unsupported counter source")

	// ErrInvalidPID is returned by Terminate for non-positive PIDs.
	ErrInvalidPID = errors.New("invalid pid")

	// ErrProtectedPID is returned by Terminate for init and for the
	// monitor's own process.
	ErrProtectedPID = errors.New("refusing to signal protected process")
)

// ProcessInfo contains information about a single process.
type ProcessInfo struct {
	PID  int
	Name string
	// CPUPercent is the share of total CPU capacity used since the previous
	// listing, in the range 0-100. A process without a previous listing
	// reports its average since it started.
	CPUPercent float64
	// State is the single-letter scheduler state (R, S, D, Z, T, I).
	// Empty when the lister cannot report it.
	State    string
	MemBytes uint64
	Threads  int
}

// ProcessLister enumerates processes ordered by CPU usage.
type ProcessLister interface {
	// TopProcesses returns at most n processes, highest CPUPercent first.
	// Ties are broken by ascending PID. n <= 0 returns every process.
	TopProcesses(ctx context.Context, n int) ([]ProcessInfo, error)
}

// sortAndTrim orders processes by CPU percent descending, then PID, and keeps
// the first n.
func sortAndTrim(procs []ProcessInfo, n int) []ProcessInfo {
	sort.Slice(procs, func(i, j int) bool {
		if procs[i].CPUPercent != procs[j].CPUPercent {
			return procs[i].CPUPercent > procs[j].CPUPercent
		}
		return procs[i].PID < procs[j].PID
	})
	if n > 0 && len(procs) > n {
		procs = procs[:n]
	}
	return procs
}
