package platform

import (
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/go-cpumon/internal/monitor"
)

func TestParseSourceKind(t *testing.T) {
	tests := []struct {
		in      string
		want    SourceKind
		wantErr bool
	}{
		{in: "", want: SourceAuto},
		{in: "auto", want: SourceAuto},
		{in: " PROCFS ", want: SourceProcfs},
		{in: "native", want: SourceNative},
		{in: "gopsutil", want: SourceGopsutil},
		{in: "ssh", want: SourceSSH},
		{in: "wmi", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSourceKind(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedSource)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSortAndTrim(t *testing.T) {
	procs := []ProcessInfo{
		{PID: 30, CPUPercent: 5},
		{PID: 10, CPUPercent: 50},
		{PID: 20, CPUPercent: 5},
		{PID: 5, CPUPercent: 0},
	}

	got := sortAndTrim(procs, 3)
	require.Len(t, got, 3)
	assert.Equal(t, []int{10, 20, 30}, []int{got[0].PID, got[1].PID, got[2].PID})

	all := sortAndTrim([]ProcessInfo{{PID: 2}, {PID: 1}}, 0)
	assert.Len(t, all, 2)
	assert.Equal(t, 1, all[0].PID)
}

func TestNewCounterSource(t *testing.T) {
	src, err := NewCounterSource(SourceProcfs, RemoteConfig{})
	require.NoError(t, err)
	assert.Equal(t, "procfs", src.Name())

	src, err = NewCounterSource(SourceGopsutil, RemoteConfig{})
	require.NoError(t, err)
	assert.Equal(t, "gopsutil", src.Name())

	_, err = NewCounterSource(SourceSSH, RemoteConfig{})
	assert.Error(t, err, "ssh without a host is rejected")

	src, err = NewCounterSource(SourceSSH, RemoteConfig{Host: "h", User: "u", AuthMethod: AgentAuth{}})
	require.NoError(t, err)
	assert.Equal(t, "ssh", src.Name())
	assert.NoError(t, CloseSource(src))

	_, err = NewCounterSource("bogus", RemoteConfig{})
	assert.ErrorIs(t, err, ErrUnsupportedSource)
}

func TestNewCounterSourceAuto(t *testing.T) {
	src, err := NewCounterSource(SourceAuto, RemoteConfig{})
	require.NoError(t, err)

	switch runtime.GOOS {
	case "linux", "android":
		assert.Equal(t, "procfs", src.Name())
	case "darwin":
		assert.Equal(t, "native", src.Name())
	default:
		assert.Equal(t, "gopsutil", src.Name())
	}
}

func TestNativeSourceAvailability(t *testing.T) {
	_, err := NewCounterSource(SourceNative, RemoteConfig{})
	if runtime.GOOS == "darwin" {
		assert.NoError(t, err)
		return
	}
	assert.ErrorIs(t, err, ErrUnsupportedSource)
}

func TestNewProcessLister(t *testing.T) {
	assert.IsType(t, &procfsProcessLister{}, NewProcessLister(SourceProcfs))
	assert.IsType(t, &gopsutilProcessLister{}, NewProcessLister(SourceGopsutil))
	assert.NotNil(t, NewProcessLister(SourceAuto))
}

func TestGopsutilSourceConvertsSecondsToTicks(t *testing.T) {
	src := &gopsutilSource{
		hz: 100,
		times: func(_ context.Context, percpu bool) ([]cpu.TimesStat, error) {
			if percpu {
				return []cpu.TimesStat{
					{CPU: "cpu0", User: 1, Idle: 4},
					{CPU: "cpu1", User: 1, Idle: 4},
				}, nil
			}
			return []cpu.TimesStat{{CPU: "cpu-total", User: 2, System: 0.5, Idle: 8, Iowait: 0.25, Steal: 0.01}}, nil
		},
	}

	total, cores, err := src.ReadTimes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(200), total.User)
	assert.Equal(t, uint64(50), total.System)
	assert.Equal(t, uint64(825), total.IdleTime())
	assert.Equal(t, uint64(1), total.Steal)
	require.Len(t, cores, 2)
	assert.Equal(t, uint64(400), cores[1].Idle)
}

func TestGopsutilSourceErrors(t *testing.T) {
	failing := &gopsutilSource{hz: 100, times: func(context.Context, bool) ([]cpu.TimesStat, error) {
		return nil, errors.New("not implemented yet")
	}}
	_, _, err := failing.ReadTimes(context.Background())
	assert.ErrorIs(t, err, monitor.ErrCounterSource)

	empty := &gopsutilSource{hz: 100, times: func(context.Context, bool) ([]cpu.TimesStat, error) {
		return nil, nil
	}}
	_, _, err = empty.ReadTimes(context.Background())
	assert.ErrorIs(t, err, monitor.ErrCounterSource)
}

func TestGopsutilSourcePerCoreBestEffort(t *testing.T) {
	src := &gopsutilSource{hz: 100, times: func(_ context.Context, percpu bool) ([]cpu.TimesStat, error) {
		if percpu {
			return nil, errors.New("per-cpu unsupported")
		}
		return []cpu.TimesStat{{User: 1, Idle: 1}}, nil
	}}

	total, cores, err := src.ReadTimes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(200), total.Total())
	assert.Empty(t, cores)
}

func TestClockTicksPerSecond(t *testing.T) {
	assert.Positive(t, clockTicksPerSecond())
}

func TestGopsutilSourceLive(t *testing.T) {
	src := newGopsutilSource()
	total, _, err := src.ReadTimes(context.Background())
	if err != nil {
		t.Skipf("gopsutil cannot read cpu times here: %v", err)
	}
	assert.Positive(t, total.Total())
}
