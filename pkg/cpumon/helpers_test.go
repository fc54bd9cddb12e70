package cpumon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/go-cpumon/internal/monitor"
)

// fakeSource advances by 50 busy and 50 idle ticks per read, so every
// reading after the first is exactly 50%.
type fakeSource struct {
	mu     sync.Mutex
	reads  int
	err    error
	closed bool
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) ReadTimes(context.Context) (monitor.CPUTimes, []monitor.CPUTimes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.err != nil {
		return monitor.CPUTimes{}, nil, fmt.Errorf("%w: fake: %w", monitor.ErrCounterSource, s.err)
	}
	n := uint64(s.reads) * 50
	t := monitor.CPUTimes{User: n, Idle: n}
	return t, []monitor.CPUTimes{t}, nil
}

func (s *fakeSource) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *fakeSource) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// fakeLister returns a fixed process table trimmed to n.
type fakeLister struct {
	mu    sync.Mutex
	procs []Process
	err   error
	calls int
}

func (l *fakeLister) TopProcesses(_ context.Context, n int) ([]Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	out := append([]Process(nil), l.procs...)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (l *fakeLister) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func testProcesses() []Process {
	return []Process{
		{PID: 300, Name: "busy", CPUPercent: 80, State: "R"},
		{PID: 200, Name: "medium", CPUPercent: 15, State: "S"},
		{PID: 100, Name: "idle", CPUPercent: 1, State: "S"},
	}
}

// testOptions isolates an instance from the host: fake source and lister,
// an empty environment and a long interval so only explicit samples run.
func testOptions(src CounterSource, lister ProcessLister) *Options {
	opts := DefaultOptions()
	opts.Source = src
	opts.ProcessLister = lister
	opts.Environ = map[string]string{}
	opts.UpdateInterval = time.Hour
	return &opts
}
