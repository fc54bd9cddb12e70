package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource returns a fixed sequence of results, repeating the last one.
type scriptedSource struct {
	mu    sync.Mutex
	steps []scriptedStep
	calls int
	// entered receives a value when a read starts blocking on block.
	entered chan struct{}
	block   chan struct{}
}

type scriptedStep struct {
	total CPUTimes
	cores []CPUTimes
	err   error
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) ReadTimes(ctx context.Context) (CPUTimes, []CPUTimes, error) {
	if s.block != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
		select {
		case <-s.block:
		case <-ctx.Done():
			return CPUTimes{}, nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	st := s.steps[i]
	return st.total, st.cores, st.err
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// times builds counters with the given idle and busy tick counts.
func times(idle, busy uint64) CPUTimes {
	return CPUTimes{User: busy, Idle: idle}
}

func readErr() error {
	return fmt.Errorf("%w: read failed", ErrCounterSource)
}

func TestSamplerFirstTickUnavailable(t *testing.T) {
	src := &scriptedSource{steps: []scriptedStep{{total: times(100, 400)}}}
	s := NewSampler(src, false)

	r, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, r.Total.Available)
	assert.Equal(t, "n/a", r.Total.String())
	assert.False(t, r.Timestamp.IsZero())
}

func TestSamplerSequence(t *testing.T) {
	src := &scriptedSource{steps: []scriptedStep{
		{total: times(100, 400)},
		{total: times(150, 550)},
		{total: times(150, 550)},
		{total: times(250, 550)},
	}}
	s := NewSampler(src, false)
	ctx := context.Background()

	_, err := s.Tick(ctx)
	require.NoError(t, err)

	r, err := s.Tick(ctx)
	require.NoError(t, err)
	require.True(t, r.Total.Available)
	assert.InDelta(t, 75.0, r.Total.Percent, 1e-9)
	assert.Equal(t, "75.00%", r.Total.String())

	r, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, r.Total.Available)
	assert.Equal(t, 0.0, r.Total.Percent, "no elapsed ticks yields the sentinel")

	r, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.Total.Percent)
}

func TestSamplerErrorKeepsPrevious(t *testing.T) {
	src := &scriptedSource{steps: []scriptedStep{
		{total: times(100, 400)},
		{err: readErr()},
		{total: times(150, 550)},
	}}
	s := NewSampler(src, false)
	ctx := context.Background()

	_, err := s.Tick(ctx)
	require.NoError(t, err)

	_, err = s.Tick(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCounterSource)

	r, err := s.Tick(ctx)
	require.NoError(t, err)
	require.True(t, r.Total.Available, "baseline from before the failure is reused")
	assert.InDelta(t, 75.0, r.Total.Percent, 1e-9)
}

func TestSamplerPerCore(t *testing.T) {
	src := &scriptedSource{steps: []scriptedStep{
		{total: times(200, 200), cores: []CPUTimes{times(100, 100), times(100, 100)}},
		{total: times(300, 400), cores: []CPUTimes{times(200, 100), times(100, 200), times(5, 5)}},
	}}
	s := NewSampler(src, true)
	ctx := context.Background()

	r, err := s.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, r.Cores, 2)
	assert.False(t, r.Cores[0].Available)

	r, err = s.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, r.Cores, 3)
	assert.Equal(t, 0.0, r.Cores[0].Percent)
	assert.Equal(t, 100.0, r.Cores[1].Percent)
	assert.False(t, r.Cores[2].Available, "new core has no baseline")
}

func TestSamplerPerCoreDisabled(t *testing.T) {
	src := &scriptedSource{steps: []scriptedStep{
		{total: times(200, 200), cores: []CPUTimes{times(100, 100)}},
	}}
	s := NewSampler(src, false)

	r, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, r.Cores)
}

func TestSamplerReset(t *testing.T) {
	src := &scriptedSource{steps: []scriptedStep{{total: times(100, 400)}, {total: times(150, 550)}}}
	s := NewSampler(src, false)
	ctx := context.Background()

	_, err := s.Tick(ctx)
	require.NoError(t, err)
	s.Reset()

	r, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, r.Total.Available)
}

func TestSamplerTimestamp(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	src := &scriptedSource{steps: []scriptedStep{{total: times(1, 1)}}}
	s := NewSampler(src, false)
	s.now = func() time.Time { return fixed }

	r, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fixed, r.Timestamp)
	assert.False(t, errors.Is(r.Err, ErrCounterSource))
}
