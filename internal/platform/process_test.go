package platform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProcTree builds a minimal /proc layout under a temp dir.
type fakeProcTree struct {
	t    *testing.T
	root string
}

func newFakeProcTree(t *testing.T) *fakeProcTree {
	t.Helper()
	return &fakeProcTree{t: t, root: t.TempDir()}
}

func (f *fakeProcTree) setTotal(ticks uint64) {
	f.t.Helper()
	content := fmt.Sprintf("cpu  %d 0 0 0 0 0 0 0\n", ticks)
	require.NoError(f.t, os.WriteFile(filepath.Join(f.root, "stat"), []byte(content), 0o644))
}

func (f *fakeProcTree) setProcess(pid int, comm, state string, utime, stime uint64, threads int, rssPages uint64) {
	f.t.Helper()
	dir := filepath.Join(f.root, strconv.Itoa(pid))
	require.NoError(f.t, os.MkdirAll(dir, 0o755))
	content := fmt.Sprintf("%d (%s) %s 1 1 1 0 -1 4194560 100 0 0 0 %d %d 0 0 20 0 %d 0 100 1000000 %d 18446744073709551615\n",
		pid, comm, state, utime, stime, threads, rssPages)
	require.NoError(f.t, os.WriteFile(filepath.Join(dir, "stat"), []byte(content), 0o644))
}

// setUptime writes the seconds since boot. Fixture processes start 100 ticks
// after boot.
func (f *fakeProcTree) setUptime(seconds float64) {
	f.t.Helper()
	content := fmt.Sprintf("%.2f %.2f\n", seconds, seconds)
	require.NoError(f.t, os.WriteFile(filepath.Join(f.root, "uptime"), []byte(content), 0o644))
}

func (f *fakeProcTree) lister() *procfsProcessLister {
	l := newProcfsProcessLister(f.root)
	l.pageSize = 4096
	l.clkTck = 100
	return l
}

func TestParseProcessStat(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantName  string
		wantState string
		wantTicks uint64
		wantStart uint64
		wantErr   bool
	}{
		{
			name:      "plain command",
			content:   "42 (bash) S 1 42 42 0 -1 4194560 100 0 0 0 30 12 0 0 20 0 1 0 100 1000 25 0",
			wantName:  "bash",
			wantState: "S",
			wantTicks: 42,
			wantStart: 100,
		},
		{
			name:      "command with spaces and parentheses",
			content:   "7 (my (odd) proc) R 1 7 7 0 -1 0 0 0 0 0 5 5 0 0 20 0 3 0 100 1000 2 0",
			wantName:  "my (odd) proc",
			wantState: "R",
			wantTicks: 10,
			wantStart: 100,
		},
		{
			name:    "missing parentheses",
			content: "42 bash S 1",
			wantErr: true,
		},
		{
			name:    "truncated after comm",
			content: "42 (bash)",
			wantErr: true,
		},
		{
			name:    "too few fields",
			content: "42 (bash) S 1 2 3",
			wantErr: true,
		},
		{
			name:    "bad starttime",
			content: "42 (bash) S 1 42 42 0 -1 4194560 100 0 0 0 30 12 0 0 20 0 1 0 soon 1000 25 0",
			wantErr: true,
		},
		{
			name:    "bad utime",
			content: "42 (bash) S 1 42 42 0 -1 4194560 100 0 0 0 xx 12 0 0 20 0 1 0 100 1000 25 0",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc, stat, err := parseProcessStat(tt.content, 4096)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, proc.Name)
			assert.Equal(t, tt.wantState, proc.State)
			assert.Equal(t, tt.wantTicks, stat.ticks)
			assert.Equal(t, tt.wantStart, stat.startTicks)
		})
	}
}

func TestProcfsProcessLister(t *testing.T) {
	tree := newFakeProcTree(t)
	tree.setTotal(1000)
	tree.setProcess(100, "idle", "S", 10, 0, 1, 10)
	tree.setProcess(200, "busy", "R", 100, 50, 4, 1000)
	tree.setProcess(300, "medium", "S", 20, 0, 2, 100)
	require.NoError(t, os.MkdirAll(filepath.Join(tree.root, "self"), 0o755))

	lister := tree.lister()
	ctx := context.Background()

	_, err := lister.TopProcesses(ctx, 10)
	require.NoError(t, err)

	// 200 ticks elapse: busy uses 100 of them, medium 50, idle none.
	tree.setTotal(1200)
	tree.setProcess(200, "busy", "R", 180, 70, 4, 1000)
	tree.setProcess(300, "medium", "S", 70, 0, 2, 100)

	top, err := lister.TopProcesses(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)

	assert.Equal(t, 200, top[0].PID)
	assert.Equal(t, "busy", top[0].Name)
	assert.Equal(t, "R", top[0].State)
	assert.InDelta(t, 50.0, top[0].CPUPercent, 1e-9)
	assert.Equal(t, 4, top[0].Threads)
	assert.Equal(t, uint64(1000*4096), top[0].MemBytes)

	assert.Equal(t, 300, top[1].PID)
	assert.InDelta(t, 25.0, top[1].CPUPercent, 1e-9)
}

func TestProcfsProcessListerFirstListingRanksBusiest(t *testing.T) {
	tree := newFakeProcTree(t)
	// Processes start at 1s and have been alive for 10 of the 11s of
	// uptime, so they saw 1000 of the 1100 aggregate ticks.
	tree.setUptime(11)
	tree.setTotal(1100)
	tree.setProcess(1, "init", "S", 10, 0, 1, 10)
	tree.setProcess(2, "kthreadd", "S", 0, 0, 1, 0)
	tree.setProcess(4242, "spinner", "R", 300, 100, 2, 50)
	tree.setProcess(500, "editor", "S", 40, 10, 3, 200)

	top, err := tree.lister().TopProcesses(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, top, 3)

	assert.Equal(t, 4242, top[0].PID)
	assert.InDelta(t, 40.0, top[0].CPUPercent, 1e-9)
	assert.Equal(t, 500, top[1].PID)
	assert.InDelta(t, 5.0, top[1].CPUPercent, 1e-9)
	assert.Equal(t, 1, top[2].PID)
	assert.InDelta(t, 1.0, top[2].CPUPercent, 1e-9)
}

func TestProcfsProcessListerWithoutUptime(t *testing.T) {
	tree := newFakeProcTree(t)
	tree.setTotal(1000)
	tree.setProcess(100, "idle", "S", 10, 0, 1, 10)
	tree.setProcess(200, "busy", "R", 100, 50, 4, 1000)

	first, err := tree.lister().TopProcesses(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, first, 2)
	for _, p := range first {
		assert.Zero(t, p.CPUPercent)
	}
	assert.Equal(t, 100, first[0].PID, "ties are ordered by PID")
}

func TestProcfsProcessListerNewProcessUsesLifetimeAverage(t *testing.T) {
	tree := newFakeProcTree(t)
	tree.setUptime(10)
	tree.setTotal(1000)
	tree.setProcess(100, "old", "S", 10, 0, 1, 1)

	lister := tree.lister()
	_, err := lister.TopProcesses(context.Background(), 0)
	require.NoError(t, err)

	tree.setUptime(11)
	tree.setTotal(1100)
	tree.setProcess(101, "new", "R", 90, 0, 1, 1)

	procs, err := lister.TopProcesses(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, procs, 2)

	assert.Equal(t, 101, procs[0].PID)
	assert.InDelta(t, 9.0, procs[0].CPUPercent, 1e-9)
	assert.Equal(t, 100, procs[1].PID)
	assert.Zero(t, procs[1].CPUPercent, "no ticks since the previous listing")
}

func TestProcfsProcessListerLifetimeStartedAfterUptime(t *testing.T) {
	tree := newFakeProcTree(t)
	// starttime (1s) is not before the reported uptime.
	tree.setUptime(0.5)
	tree.setTotal(100)
	tree.setProcess(7, "racer", "R", 50, 0, 1, 1)

	procs, err := tree.lister().TopProcesses(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Zero(t, procs[0].CPUPercent)
}

func TestProcfsProcessListerMissingStat(t *testing.T) {
	lister := newProcfsProcessLister(t.TempDir())
	_, err := lister.TopProcesses(context.Background(), 5)
	assert.Error(t, err)
}

func TestProcfsProcessListerLive(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("procfs is only available on Linux")
	}

	lister := newProcfsProcessLister(defaultProcRoot)
	procs, err := lister.TopProcesses(context.Background(), 5)
	require.NoError(t, err)
	assert.NotEmpty(t, procs)
	assert.LessOrEqual(t, len(procs), 5)
}

func TestGopsutilProcessListerLive(t *testing.T) {
	lister := newGopsutilProcessLister()
	ctx := context.Background()

	if _, err := lister.TopProcesses(ctx, 3); err != nil {
		t.Skipf("process listing not supported here: %v", err)
	}
	procs, err := lister.TopProcesses(ctx, 3)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(procs), 3)
	for i := 1; i < len(procs); i++ {
		assert.GreaterOrEqual(t, procs[i-1].CPUPercent, procs[i].CPUPercent)
	}
}

// spin burns CPU on this process for d.
func spin(d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}

func findProcess(procs []ProcessInfo, pid int) (ProcessInfo, bool) {
	for _, p := range procs {
		if p.PID == pid {
			return p, true
		}
	}
	return ProcessInfo{}, false
}

func TestProcfsProcessListerLiveFirstListingHasUsage(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("procfs is only available on Linux")
	}
	spin(300 * time.Millisecond)

	procs, err := newProcfsProcessLister(defaultProcRoot).TopProcesses(context.Background(), 0)
	require.NoError(t, err)
	self, ok := findProcess(procs, os.Getpid())
	require.True(t, ok, "own process missing from listing")
	assert.Greater(t, self.CPUPercent, 0.0)
}

func TestGopsutilProcessListerLiveFirstListingHasUsage(t *testing.T) {
	spin(300 * time.Millisecond)

	procs, err := newGopsutilProcessLister().TopProcesses(context.Background(), 0)
	if err != nil {
		t.Skipf("process listing not supported here: %v", err)
	}
	self, ok := findProcess(procs, os.Getpid())
	require.True(t, ok, "own process missing from listing")
	assert.Greater(t, self.CPUPercent, 0.0)
}

func TestStateLetter(t *testing.T) {
	assert.Equal(t, "R", stateLetter("running"))
	assert.Equal(t, "Z", stateLetter("zombie"))
	assert.Equal(t, "", stateLetter("mystery"))
}
