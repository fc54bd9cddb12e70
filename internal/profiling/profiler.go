// Package profiling provides CPU and heap profiling for the cpumon CLI.
// It wraps runtime/pprof so a monitoring session can be profiled from the
// moment sampling starts until shutdown.
package profiling

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
)

// ErrAlreadyRunning is returned by Start on a running profiler.
var ErrAlreadyRunning = errors.New("profiler is already running")

// ErrNotRunning is returned by Stop on a stopped profiler.
var ErrNotRunning = errors.New("profiler is not running")

// Profiler manages one CPU/heap profiling session.
type Profiler struct {
	cpuFilePath string
	cpuFile     *os.File
	memFilePath string
	running     bool
	mu          sync.Mutex
}

// Config holds configuration for the profiler.
type Config struct {
	// CPUProfilePath is the file path for CPU profile output.
	// If empty, CPU profiling is disabled.
	CPUProfilePath string

	// MemProfilePath is the file the heap profile is written to on Stop.
	// If empty, memory profiling is disabled.
	MemProfilePath string
}

// ProfilingEnabled returns true if any profiling is configured.
func (c Config) ProfilingEnabled() bool {
	return c.CPUProfilePath != "" || c.MemProfilePath != ""
}

// New creates a new Profiler with the given configuration.
// The profiler is not started automatically; call Start() to begin profiling.
func New(config Config) *Profiler {
	return &Profiler{
		cpuFilePath: config.CPUProfilePath,
		memFilePath: config.MemProfilePath,
	}
}

// Start begins CPU profiling if a CPU profile path was configured.
func (p *Profiler) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyRunning
	}

	if p.cpuFilePath != "" {
		f, err := os.Create(p.cpuFilePath)
		if err != nil {
			return fmt.Errorf("failed to create CPU profile file: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
		p.cpuFile = f
	}

	p.running = true
	return nil
}

// Stop stops CPU profiling and writes the heap profile if configured.
// Both steps are attempted; their errors are joined.
func (p *Profiler) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return ErrNotRunning
	}
	p.running = false

	var errs []error
	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		if err := p.cpuFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close CPU profile file: %w", err))
		}
		p.cpuFile = nil
	}

	if p.memFilePath != "" {
		if err := WriteHeapProfile(p.memFilePath); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// IsRunning returns true if the profiler is currently running.
func (p *Profiler) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// WriteHeapProfile forces a garbage collection and writes a heap profile
// to path.
func WriteHeapProfile(path string) error {
	runtime.GC()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create memory profile file: %w", err)
	}
	defer f.Close()

	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("failed to write memory profile: %w", err)
	}
	return nil
}
