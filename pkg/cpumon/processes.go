package cpumon

import (
	"context"
	"fmt"
	"time"

	"github.com/opd-ai/go-cpumon/internal/monitor"
	"github.com/opd-ai/go-cpumon/internal/platform"
)

// TopProcesses lists the configured number of busiest processes. CPU shares
// are measured since the previous listing. Processes not seen before report
// their average since they started.
func (c *instance) TopProcesses(ctx context.Context) ([]Process, error) {
	c.listingMu.Lock()
	defer c.listingMu.Unlock()

	procs, err := c.lister.TopProcesses(ctx, c.topCount())
	if err != nil {
		wrapped := monitor.NewComponentError(monitor.ErrorSourceProcess, "top_processes", err)
		c.notifyError(wrapped)
		return nil, wrapped
	}

	c.mu.Lock()
	c.processes = procs
	c.mu.Unlock()

	c.metrics.IncrementProcessListings()
	c.emitEvent(EventProcessesRefreshed, fmt.Sprintf("%d processes listed", len(procs)))
	return copyProcesses(procs), nil
}

// Processes returns the most recent process listing.
func (c *instance) Processes() []Process {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyProcesses(c.processes)
}

func copyProcesses(procs []Process) []Process {
	if procs == nil {
		return nil
	}
	out := make([]Process, len(procs))
	copy(out, procs)
	return out
}

// Terminate asks process pid to exit with SIGTERM, or kills it with
// SIGKILL when force is set. PID 1 and the calling process are refused.
func (c *instance) Terminate(pid int, force bool) error {
	if err := platform.Terminate(pid, force); err != nil {
		c.logger.Warn("terminate failed", "pid", pid, "force", force, "error", err)
		return err
	}

	c.metrics.IncrementTerminations()
	c.logger.Info("signal sent", "pid", pid, "force", force)
	c.emitEvent(EventProcessTerminated, fmt.Sprintf("pid %d signalled (force=%t)", pid, force))
	return nil
}

// processLoop refreshes the process listing while the refresh interval is
// positive. A reload wakes the loop so a changed interval applies at once.
func (c *instance) processLoop(ctx context.Context) {
	for {
		interval := c.refreshInterval()

		var tick <-chan time.Time
		var timer *time.Timer
		if interval > 0 {
			timer = time.NewTimer(interval)
			tick = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return
		case <-c.procResetCh:
			stopTimer(timer)
		case <-tick:
			if _, err := c.TopProcesses(ctx); err != nil {
				c.logger.Debug("process refresh failed", "error", err)
			}
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
