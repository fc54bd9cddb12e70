package platform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/opd-ai/go-cpumon/internal/monitor"
)

const defaultProcRoot = "/proc"

// Field indices in /proc/[pid]/stat, relative to the fields after the
// command name. Numbers in comments are from proc(5).
const (
	// statMinFields is the minimum number of fields required after comm.
	statMinFields = 22
	// statFieldState is the process state (field 3).
	statFieldState = 0
	// statFieldUtime is user mode CPU time in clock ticks (field 14).
	statFieldUtime = 11
	// statFieldStime is kernel mode CPU time in clock ticks (field 15).
	statFieldStime = 12
	// statFieldNumThreads is the number of threads (field 20).
	statFieldNumThreads = 17
	// statFieldStarttime is the start time after boot in clock ticks (field 22).
	statFieldStarttime = 19
	// statFieldRss is resident set size in pages (field 24).
	statFieldRss = 21
)

// procfsProcessLister reads the process table from /proc.
//
// CPU percent is the process's share of all CPU time that elapsed between two
// calls, which is the same basis the aggregate utilization uses. A process
// seen for the first time is instead given its share of the CPU time that
// elapsed since it started, the way ps(1) reports %cpu.
type procfsProcessLister struct {
	mu       sync.Mutex
	procRoot string
	pageSize uint64
	clkTck   int64

	lastProcTicks  map[int]uint64 // PID -> utime+stime at the last call
	lastTotalTicks uint64         // aggregate CPU ticks at the last call
}

func newProcfsProcessLister(procRoot string) *procfsProcessLister {
	return &procfsProcessLister{
		procRoot:      procRoot,
		pageSize:      uint64(os.Getpagesize()),
		clkTck:        clockTicksPerSecond(),
		lastProcTicks: make(map[int]uint64),
	}
}

// TopProcesses implements ProcessLister.
func (r *procfsProcessLister) TopProcesses(ctx context.Context, n int) ([]ProcessInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	totalTicks, err := r.readTotalTicks(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(r.procRoot)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", r.procRoot, err)
	}

	// Counters going backwards means the host rebooted or the fixture changed.
	var totalDelta uint64
	if r.lastTotalTicks > 0 && totalTicks > r.lastTotalTicks {
		totalDelta = totalTicks - r.lastTotalTicks
	}

	// Without an uptime the lifetime average cannot be computed and new
	// processes report zero until the next call.
	uptime, _ := r.readUptime()

	processes := make([]ProcessInfo, 0, len(entries))
	current := make(map[int]uint64, len(entries))

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			// Not a PID directory
			continue
		}

		proc, stat, err := r.readProcess(pid)
		if err != nil {
			// Process may have exited, skip it
			continue
		}
		current[pid] = stat.ticks

		last, ok := r.lastProcTicks[pid]
		switch {
		case ok && totalDelta > 0 && stat.ticks >= last:
			proc.CPUPercent = clampPercent(float64(stat.ticks-last) / float64(totalDelta) * 100)
		case !ok:
			proc.CPUPercent = r.lifetimePercent(stat, totalTicks, uptime)
		}
		processes = append(processes, proc)
	}

	r.lastProcTicks = current
	r.lastTotalTicks = totalTicks

	return sortAndTrim(processes, n), nil
}

// readTotalTicks returns the aggregate CPU ticks from <procRoot>/stat.
func (r *procfsProcessLister) readTotalTicks(ctx context.Context) (uint64, error) {
	total, _, err := monitor.NewProcStatSource(filepath.Join(r.procRoot, "stat")).ReadTimes(ctx)
	if err != nil {
		return 0, err
	}
	return total.Total(), nil
}

// readUptime returns the seconds since boot from <procRoot>/uptime.
func (r *procfsProcessLister) readUptime() (float64, error) {
	content, err := os.ReadFile(filepath.Join(r.procRoot, "uptime"))
	if err != nil {
		return 0, fmt.Errorf("reading uptime: %w", err)
	}
	fields := strings.Fields(string(content))
	if len(fields) == 0 {
		return 0, fmt.Errorf("invalid uptime format: empty")
	}
	uptime, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parsing uptime: %w", err)
	}
	return uptime, nil
}

// lifetimePercent estimates a process's share of aggregate CPU time since it
// started. The aggregate ticks accumulated since boot are scaled down to the
// part of the uptime the process has been alive for.
func (r *procfsProcessLister) lifetimePercent(stat procStat, totalTicks uint64, uptime float64) float64 {
	if uptime <= 0 || r.clkTck <= 0 || totalTicks == 0 {
		return 0
	}
	alive := uptime - float64(stat.startTicks)/float64(r.clkTck)
	if alive <= 0 {
		return 0
	}
	elapsed := float64(totalTicks) * min(alive/uptime, 1)
	return clampPercent(float64(stat.ticks) / elapsed * 100)
}

// procStat holds the counters of /proc/[pid]/stat that are not part of
// ProcessInfo.
type procStat struct {
	ticks      uint64 // utime+stime
	startTicks uint64 // starttime
}

// readProcess reads /proc/[pid]/stat and returns the process with its
// cumulative CPU ticks.
func (r *procfsProcessLister) readProcess(pid int) (ProcessInfo, procStat, error) {
	content, err := os.ReadFile(filepath.Join(r.procRoot, strconv.Itoa(pid), "stat"))
	if err != nil {
		return ProcessInfo{}, procStat{}, fmt.Errorf("reading stat: %w", err)
	}

	proc, stat, err := parseProcessStat(string(content), r.pageSize)
	if err != nil {
		return ProcessInfo{}, procStat{}, fmt.Errorf("parsing stat for pid %d: %w", pid, err)
	}
	proc.PID = pid
	return proc, stat, nil
}

// parseProcessStat parses /proc/[pid]/stat content. The format is:
// pid (comm) state ppid pgrp session tty_nr tpgid flags minflt cminflt
// majflt cmajflt utime stime cutime cstime priority nice num_threads
// itrealvalue starttime vsize rss ...
func parseProcessStat(content string, pageSize uint64) (ProcessInfo, procStat, error) {
	var proc ProcessInfo

	// comm may itself contain spaces and parentheses.
	openParen := strings.IndexByte(content, '(')
	closeParen := strings.LastIndexByte(content, ')')
	if openParen == -1 || closeParen == -1 || closeParen <= openParen || closeParen+2 > len(content) {
		return proc, procStat{}, fmt.Errorf("invalid stat format: missing parentheses")
	}
	proc.Name = content[openParen+1 : closeParen]

	fields := strings.Fields(content[closeParen+2:])
	if len(fields) < statMinFields {
		return proc, procStat{}, fmt.Errorf("invalid stat format: not enough fields (got %d, need %d)", len(fields), statMinFields)
	}

	proc.State = fields[statFieldState]

	utime, err := strconv.ParseUint(fields[statFieldUtime], 10, 64)
	if err != nil {
		return proc, procStat{}, fmt.Errorf("parsing utime: %w", err)
	}
	stime, err := strconv.ParseUint(fields[statFieldStime], 10, 64)
	if err != nil {
		return proc, procStat{}, fmt.Errorf("parsing stime: %w", err)
	}

	threads, err := strconv.Atoi(fields[statFieldNumThreads])
	if err != nil {
		return proc, procStat{}, fmt.Errorf("parsing num_threads: %w", err)
	}
	proc.Threads = threads

	rss, err := strconv.ParseUint(fields[statFieldRss], 10, 64)
	if err != nil {
		return proc, procStat{}, fmt.Errorf("parsing rss: %w", err)
	}
	proc.MemBytes = rss * pageSize

	start, err := strconv.ParseUint(fields[statFieldStarttime], 10, 64)
	if err != nil {
		return proc, procStat{}, fmt.Errorf("parsing starttime: %w", err)
	}

	return proc, procStat{ticks: utime + stime, startTicks: start}, nil
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
