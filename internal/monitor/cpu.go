package monitor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// DefaultProcStatPath is where Linux exposes the cumulative CPU counters.
const DefaultProcStatPath = "/proc/stat"

// cpuLineMinFields is the number of counters every kernel reports
// (user, nice, system, idle). Later categories default to zero when absent.
const cpuLineMinFields = 4

// CPUTimes holds cumulative CPU time per category, in clock ticks since boot.
type CPUTimes struct {
	User    uint64
	Nice    uint64
	System  uint64
	Idle    uint64
	IOWait  uint64
	IRQ     uint64
	SoftIRQ uint64
	Steal   uint64
}

// Total returns the sum of all categories.
func (c CPUTimes) Total() uint64 {
	return c.User + c.Nice + c.System + c.Idle + c.IOWait + c.IRQ + c.SoftIRQ + c.Steal
}

// IdleTime returns the time counted as not busy: idle plus iowait.
func (c CPUTimes) IdleTime() uint64 {
	return c.Idle + c.IOWait
}

// Snapshot reduces the counters to the two values utilization needs.
func (c CPUTimes) Snapshot() CPUSnapshot {
	return CPUSnapshot{IdleTicks: c.IdleTime(), TotalTicks: c.Total()}
}

// CPUSnapshot is one point-in-time reading of the aggregate counters.
// Both fields are non-decreasing on a live host.
type CPUSnapshot struct {
	IdleTicks  uint64
	TotalTicks uint64
}

// ComputeUtilization returns the busy percentage of the interval between two
// snapshots. A non-positive total delta (no elapsed ticks, or counters reset
// by a reboot) yields 0. The result is always within [0, 100].
func ComputeUtilization(prev, curr CPUSnapshot) float64 {
	// Unsigned subtraction reinterpreted as signed keeps backwards deltas negative.
	totalDelta := int64(curr.TotalTicks - prev.TotalTicks)
	if totalDelta <= 0 {
		return 0
	}
	idleDelta := int64(curr.IdleTicks - prev.IdleTicks)

	usage := (1 - float64(idleDelta)/float64(totalDelta)) * 100
	if usage < 0 {
		return 0
	}
	if usage > 100 {
		return 100
	}
	return usage
}

// CounterSource reads cumulative CPU counters from a host.
// ReadTimes returns the aggregate counters and, when available, one entry per core.
// Errors wrap ErrCounterSource.
type CounterSource interface {
	Name() string
	ReadTimes(ctx context.Context) (CPUTimes, []CPUTimes, error)
}

// ProcStatSource reads counters from a Linux /proc/stat file.
type ProcStatSource struct {
	path string
}

// NewProcStatSource returns a source reading path, or /proc/stat when path is empty.
func NewProcStatSource(path string) *ProcStatSource {
	if path == "" {
		path = DefaultProcStatPath
	}
	return &ProcStatSource{path: path}
}

// Name implements CounterSource.
func (s *ProcStatSource) Name() string {
	return "procfs"
}

// Path returns the file the source reads.
func (s *ProcStatSource) Path() string {
	return s.path
}

// ReadTimes implements CounterSource.
func (s *ProcStatSource) ReadTimes(ctx context.Context) (CPUTimes, []CPUTimes, error) {
	if err := ctx.Err(); err != nil {
		return CPUTimes{}, nil, err
	}

	file, err := os.Open(s.path)
	if err != nil {
		return CPUTimes{}, nil, sourceError("opening "+s.path, err)
	}
	defer file.Close()

	total, cores, err := ParseProcStat(file)
	if err != nil {
		return CPUTimes{}, nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return total, cores, nil
}

// ParseProcStat parses /proc/stat content. The aggregate "cpu" line is
// required; malformed "cpuN" lines are skipped.
func ParseProcStat(r io.Reader) (CPUTimes, []CPUTimes, error) {
	var (
		total   CPUTimes
		found   bool
		perCore []CPUTimes
		lineNum int
	)

	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		lineNum++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || !strings.HasPrefix(fields[0], "cpu") {
			continue
		}

		if fields[0] == "cpu" {
			t, err := parseCPULine(fields[1:])
			if err != nil {
				return CPUTimes{}, nil, sourceError(fmt.Sprintf("line %d", lineNum), err)
			}
			total = t
			found = true
			continue
		}

		t, err := parseCPULine(fields[1:])
		if err != nil {
			continue
		}
		perCore = append(perCore, t)
	}

	if err := scanner.Err(); err != nil {
		return CPUTimes{}, nil, sourceError("scanning", err)
	}
	if !found {
		return CPUTimes{}, nil, fmt.Errorf("%w: aggregate cpu line not found", ErrCounterSource)
	}

	return total, perCore, nil
}

// parseCPULine parses the counters following a cpu label.
func parseCPULine(fields []string) (CPUTimes, error) {
	if len(fields) < cpuLineMinFields {
		return CPUTimes{}, fmt.Errorf("insufficient fields: got %d, need at least %d", len(fields), cpuLineMinFields)
	}

	var values [8]uint64
	for i := 0; i < len(values) && i < len(fields); i++ {
		v, err := strconv.ParseUint(fields[i], 10, 64)
		if err != nil {
			return CPUTimes{}, fmt.Errorf("parsing field %d: %w", i, err)
		}
		values[i] = v
	}

	return CPUTimes{
		User:    values[0],
		Nice:    values[1],
		System:  values[2],
		Idle:    values[3],
		IOWait:  values[4],
		IRQ:     values[5],
		SoftIRQ: values[6],
		Steal:   values[7],
	}, nil
}
