package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/go-cpumon/pkg/cpumon"
)

func TestParseFlags(t *testing.T) {
	var stderr bytes.Buffer
	f, err := parseFlags([]string{"-c", "cpumon.lua", "-interval", "250ms", "-top", "3", "-source", "gopsutil", "-n", "5"}, &stderr)
	require.NoError(t, err)
	assert.Equal(t, "cpumon.lua", f.configPath)
	assert.Equal(t, 250*time.Millisecond, f.interval)
	assert.Equal(t, 3, f.top)
	assert.Equal(t, "gopsutil", f.source)
	assert.Equal(t, 5, f.count)

	_, err = parseFlags([]string{"extra"}, &stderr)
	assert.Error(t, err)
	_, err = parseFlags([]string{"-n", "-1"}, &stderr)
	assert.Error(t, err)
}

func TestFormatReading(t *testing.T) {
	tests := []struct {
		name    string
		reading cpumon.Reading
		want    string
	}{
		{"first tick", cpumon.Reading{}, "CPU Usage: n/a"},
		{"total", cpumon.Reading{Total: cpumon.Utilization{Percent: 12.345, Available: true}}, "CPU Usage: 12.35%"},
		{
			"per core",
			cpumon.Reading{
				Total: cpumon.Utilization{Percent: 50, Available: true},
				Cores: []cpumon.Utilization{{Percent: 100, Available: true}, {}},
			},
			"CPU Usage: 50.00% cpu0=100.00% cpu1=n/a",
		},
		{
			"stale",
			cpumon.Reading{Total: cpumon.Utilization{Percent: 7, Available: true}, Stale: true, Err: errors.New("gone")},
			"CPU Usage: 7.00% (stale)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatReading(tt.reading))
		})
	}
}

func TestReadingPrinterStopsAtLimit(t *testing.T) {
	var out bytes.Buffer
	cancelled := 0
	p := &readingPrinter{w: &out, limit: 2, done: func() { cancelled++ }}

	p.print(cpumon.Reading{})
	assert.Zero(t, cancelled)
	p.print(cpumon.Reading{Total: cpumon.Utilization{Percent: 1, Available: true}})
	assert.Zero(t, cancelled, "the unavailable reading does not count")
	p.print(cpumon.Reading{Total: cpumon.Utilization{Percent: 2, Available: true}})
	assert.Equal(t, 1, cancelled)

	// Readings that arrive during shutdown are dropped.
	p.print(cpumon.Reading{Total: cpumon.Utilization{Percent: 3, Available: true}})
	assert.Equal(t, 1, cancelled)
	assert.Equal(t, "CPU Usage: n/a\nCPU Usage: 1.00%\nCPU Usage: 2.00%\n", out.String())
}

func TestPrintProcesses(t *testing.T) {
	var out bytes.Buffer
	printProcesses(&out, []cpumon.Process{
		{PID: 42, Name: "bash", CPUPercent: 12.5, State: "S", MemBytes: 4096 * 1024, Threads: 1},
	})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "PID")
	assert.Contains(t, lines[1], "12.50")
	assert.Contains(t, lines[1], "4096")
	assert.Contains(t, lines[1], "bash")
}

func TestRunVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, run([]string{"-v"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), Version)
}

func TestRunBadFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run([]string{"-bogus"}, &stdout, &stderr))
}

func TestRunMissingConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"-c", filepath.Join(t.TempDir(), "missing.conf")}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "Error loading configuration")
}

func TestRunKillRejectsProtectedPIDs(t *testing.T) {
	for _, pid := range []int{-3, 1, os.Getpid()} {
		var stdout, stderr bytes.Buffer
		code := run([]string{"-kill", strconv.Itoa(pid)}, &stdout, &stderr)
		assert.Equal(t, 1, code, "pid %d", pid)
		assert.Contains(t, stderr.String(), "Terminate failed")
	}
}

func TestRunPrintsReadings(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("procfs is only available on Linux")
	}

	path := filepath.Join(t.TempDir(), "cpumon.conf")
	require.NoError(t, os.WriteFile(path, []byte("source procfs\nlog_level error\n"), 0o644))

	var stdout, stderr bytes.Buffer
	code := run([]string{"-c", path, "-interval", "20ms", "-n", "3"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "CPU Usage: n/a", lines[0])
	assert.Regexp(t, `^CPU Usage: \d+\.\d{2}%$`, lines[1])
}

func TestRunSingleReadingPrintsPercentage(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("procfs is only available on Linux")
	}

	path := filepath.Join(t.TempDir(), "cpumon.conf")
	require.NoError(t, os.WriteFile(path, []byte("source procfs\nlog_level error\n"), 0o644))

	var stdout, stderr bytes.Buffer
	code := run([]string{"-c", path, "-interval", "20ms", "-n", "1"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "CPU Usage: n/a", lines[0])
	assert.Regexp(t, `^CPU Usage: \d+\.\d{2}%$`, lines[1])
}
