//go:build integration

// Package integration provides end-to-end tests that sample the live host.
// They exercise real counter sources and process listers, so they are kept
// behind the integration build tag.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/opd-ai/go-cpumon/internal/config"
	"github.com/opd-ai/go-cpumon/internal/monitor"
	"github.com/opd-ai/go-cpumon/internal/platform"
	"github.com/opd-ai/go-cpumon/pkg/cpumon"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestConfigFormatsDriveLiveInstance runs an instance from each config
// format against the host's default counter source.
func TestConfigFormatsDriveLiveInstance(t *testing.T) {
	configs := map[string]string{
		"cpumon.conf": "update_interval 0.05\nper_core yes\ntop_processes 3\n",
		"cpumon.lua":  "cpumon.config = { update_interval = 0.05, per_core = true, top_processes = 3 }\n",
	}

	for name, content := range configs {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, name, content)
			opts := cpumon.DefaultOptions()
			opts.Environ = map[string]string{}

			inst, err := cpumon.New(path, &opts)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if err := inst.Start(); err != nil {
				t.Skipf("no counter source on this host: %v", err)
			}
			defer inst.Stop()

			deadline := time.Now().Add(2 * time.Second)
			for !inst.Latest().Total.Available {
				if time.Now().After(deadline) {
					t.Fatal("no available reading within 2s")
				}
				time.Sleep(20 * time.Millisecond)
			}

			r := inst.Latest()
			if r.Total.Percent < 0 || r.Total.Percent > 100 {
				t.Errorf("utilization %v out of range", r.Total.Percent)
			}
			if len(r.Cores) == 0 {
				t.Error("per_core enabled but no core readings")
			}

			procs, err := inst.TopProcesses(context.Background())
			if err != nil {
				t.Fatalf("TopProcesses failed: %v", err)
			}
			if len(procs) == 0 || len(procs) > 3 {
				t.Errorf("got %d processes, want 1..3", len(procs))
			}
		})
	}
}

// TestSourcesAgree samples every source available on the host twice and
// checks the results are valid percentages.
func TestSourcesAgree(t *testing.T) {
	kinds := []platform.SourceKind{platform.SourceGopsutil}
	switch runtime.GOOS {
	case "linux":
		kinds = append(kinds, platform.SourceProcfs)
	case "darwin":
		kinds = append(kinds, platform.SourceNative)
	}

	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			src, err := platform.NewCounterSource(kind, platform.RemoteConfig{})
			if err != nil {
				t.Fatalf("NewCounterSource(%s): %v", kind, err)
			}
			defer platform.CloseSource(src)

			sampler := monitor.NewSampler(src, false)
			ctx := context.Background()
			if _, err := sampler.Tick(ctx); err != nil {
				t.Skipf("source %s unavailable: %v", kind, err)
			}
			time.Sleep(100 * time.Millisecond)

			r, err := sampler.Tick(ctx)
			if err != nil {
				t.Fatalf("second tick: %v", err)
			}
			if !r.Total.Available {
				t.Fatal("second tick has no utilization")
			}
			if r.Total.Percent < 0 || r.Total.Percent > 100 {
				t.Errorf("utilization %v out of range", r.Total.Percent)
			}
		})
	}
}

// TestEnvOverridesReachInstance checks CPUMON_* variables win over the file.
func TestEnvOverridesReachInstance(t *testing.T) {
	path := writeConfig(t, "cpumon.conf", "update_interval 5\n")
	t.Setenv("CPUMON_UPDATE_INTERVAL", "0.5")

	cfg, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Monitor.UpdateInterval != 500*time.Millisecond {
		t.Errorf("UpdateInterval = %v, want 500ms", cfg.Monitor.UpdateInterval)
	}

	inst, err := cpumon.New(path, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := inst.Status().UpdateInterval; got != 500*time.Millisecond {
		t.Errorf("instance interval = %v, want 500ms", got)
	}
}

// TestMonitorStartStop runs the driver against the live procfs source.
func TestMonitorStartStop(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("procfs is only available on Linux")
	}

	mon := monitor.NewMonitor(monitor.NewProcStatSource(""), 20*time.Millisecond)
	if err := mon.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	mon.Stop()
	mon.Stop()

	if mon.IsRunning() {
		t.Error("monitor still running after Stop")
	}
	if stats := mon.Stats(); stats.Ticks < 2 {
		t.Errorf("Ticks = %d, want at least 2", stats.Ticks)
	}
}
