package platform

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/opd-ai/go-cpumon/internal/monitor"
)

// defaultClockTicks is USER_HZ on nearly every Linux build.
const defaultClockTicks = 100

// gopsutilSource implements monitor.CounterSource with gopsutil's cpu.Times,
// which covers Windows, the BSDs and Solaris.
type gopsutilSource struct {
	times func(ctx context.Context, percpu bool) ([]cpu.TimesStat, error)
	hz    float64
}

func newGopsutilSource() *gopsutilSource {
	return &gopsutilSource{
		times: cpu.TimesWithContext,
		hz:    float64(clockTicksPerSecond()),
	}
}

// Name implements monitor.CounterSource.
func (s *gopsutilSource) Name() string {
	return "gopsutil"
}

// ReadTimes implements monitor.CounterSource. gopsutil reports seconds; they
// are converted back to clock ticks so every source shares one unit.
func (s *gopsutilSource) ReadTimes(ctx context.Context) (monitor.CPUTimes, []monitor.CPUTimes, error) {
	all, err := s.times(ctx, false)
	if err != nil {
		return monitor.CPUTimes{}, nil, fmt.Errorf("%w: cpu times: %w", monitor.ErrCounterSource, err)
	}
	if len(all) == 0 {
		return monitor.CPUTimes{}, nil, fmt.Errorf("%w: cpu times: empty result", monitor.ErrCounterSource)
	}

	total := s.convert(all[0])

	// Per-core counters are best effort.
	var cores []monitor.CPUTimes
	if per, err := s.times(ctx, true); err == nil {
		cores = make([]monitor.CPUTimes, len(per))
		for i, t := range per {
			cores[i] = s.convert(t)
		}
	}

	return total, cores, nil
}

func (s *gopsutilSource) convert(t cpu.TimesStat) monitor.CPUTimes {
	return monitor.CPUTimes{
		User:    s.ticks(t.User),
		Nice:    s.ticks(t.Nice),
		System:  s.ticks(t.System),
		Idle:    s.ticks(t.Idle),
		IOWait:  s.ticks(t.Iowait),
		IRQ:     s.ticks(t.Irq),
		SoftIRQ: s.ticks(t.Softirq),
		Steal:   s.ticks(t.Steal),
	}
}

func (s *gopsutilSource) ticks(seconds float64) uint64 {
	if seconds <= 0 {
		return 0
	}
	return uint64(seconds*s.hz + 0.5)
}
