package platform

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v4/process"
)

// gopsutilProcessLister enumerates processes with gopsutil. Process handles
// are cached between calls because gopsutil computes CPU percent against the
// previous measurement stored on the handle. A handle seen for the first time
// reports the average since the process was created.
type gopsutilProcessLister struct {
	mu     sync.Mutex
	procs  map[int32]*process.Process
	numCPU float64
	list   func(ctx context.Context) ([]*process.Process, error)
}

func newGopsutilProcessLister() *gopsutilProcessLister {
	return &gopsutilProcessLister{
		procs:  make(map[int32]*process.Process),
		numCPU: float64(runtime.NumCPU()),
		list:   process.ProcessesWithContext,
	}
}

// TopProcesses implements ProcessLister.
func (l *gopsutilProcessLister) TopProcesses(ctx context.Context, n int) ([]ProcessInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, err := l.list(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	seen := make(map[int32]*process.Process, len(current))
	result := make([]ProcessInfo, 0, len(current))

	for _, p := range current {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cached, ok := l.procs[p.Pid]
		if ok {
			p = cached
		}
		seen[p.Pid] = p

		info, err := l.describe(ctx, p, !ok)
		if err != nil {
			// Process may have exited, skip it
			continue
		}
		result = append(result, info)
	}

	l.procs = seen
	return sortAndTrim(result, n), nil
}

func (l *gopsutilProcessLister) describe(ctx context.Context, p *process.Process, fresh bool) (ProcessInfo, error) {
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return ProcessInfo{}, err
	}

	info := ProcessInfo{PID: int(p.Pid), Name: name}

	// Percent of one CPU since the previous call on this handle. The first
	// call on a handle only records the baseline and returns 0.
	pct, err := p.PercentWithContext(ctx, 0)
	if fresh && err == nil {
		pct, err = p.CPUPercentWithContext(ctx)
	}
	if err == nil && l.numCPU > 0 {
		info.CPUPercent = clampPercent(pct / l.numCPU)
	}
	if status, err := p.StatusWithContext(ctx); err == nil && len(status) > 0 {
		info.State = stateLetter(status[0])
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		info.MemBytes = mem.RSS
	}
	if threads, err := p.NumThreadsWithContext(ctx); err == nil {
		info.Threads = int(threads)
	}
	return info, nil
}

// stateLetter maps gopsutil status names to the proc(5) letters.
func stateLetter(status string) string {
	switch status {
	case process.Running:
		return "R"
	case process.Sleep:
		return "S"
	case process.Blocked:
		return "D"
	case process.Stop:
		return "T"
	case process.Zombie:
		return "Z"
	case process.Idle:
		return "I"
	case process.Wait:
		return "W"
	case process.Lock:
		return "L"
	default:
		return ""
	}
}
