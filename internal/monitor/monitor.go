package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is the polling cadence used when none is configured.
const DefaultInterval = time.Second

// Monitor drives a Sampler on a fixed interval. It is the single owner of the
// sampler state: ticks are serialized and a tick that arrives while another
// is still reading is skipped rather than overlapped.
//
// When a read fails the Monitor keeps publishing the last-known-good
// utilization, marked Stale, instead of stopping.
type Monitor struct {
	sampler  *Sampler
	interval time.Duration
	logger   Logger
	handler  func(Reading)

	// tickMu guards the sampler. It is only ever acquired with TryLock.
	tickMu sync.Mutex

	mu       sync.RWMutex
	latest   Reading
	lastGood *Reading
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	resetCh  chan time.Duration

	ticks        atomic.Uint64
	skipped      atomic.Uint64
	failures     atomic.Uint64
	lastDuration atomic.Int64
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger for tick failures and lifecycle messages.
func WithLogger(l Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithReadingHandler registers a callback invoked with every reading, in
// tick order, from the driver goroutine. The handler should return quickly;
// a slow handler delays the next tick, which is then skipped.
func WithReadingHandler(fn func(Reading)) Option {
	return func(m *Monitor) {
		m.handler = fn
	}
}

// WithPerCore enables per-core utilization in readings.
func WithPerCore(enabled bool) Option {
	return func(m *Monitor) {
		m.sampler.perCore = enabled
	}
}

// NewMonitor creates a Monitor reading source every interval.
// A non-positive interval selects DefaultInterval.
func NewMonitor(source CounterSource, interval time.Duration, opts ...Option) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}

	m := &Monitor{
		sampler:  NewSampler(source, false),
		interval: interval,
		logger:   nopLogger{},
		resetCh:  make(chan time.Duration, 1),
		latest:   Reading{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start takes the first sample and begins the polling loop in a background
// goroutine. The loop stops when ctx is cancelled or Stop is called.
//
// An error from the first sample is returned and the monitor is not started;
// it usually means the host has no usable counter source.
func (m *Monitor) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)

	// The cancel func and the loop's WaitGroup slot are published together
	// with running, so a Stop during the initial sample aborts it and waits.
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		cancel()
		return ErrAlreadyRunning
	}
	m.running = true
	m.cancel = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	_, err := m.TickNow(loopCtx)
	if err == nil {
		err = loopCtx.Err()
	}
	if err != nil {
		cancel()
		m.wg.Done()
		m.mu.Lock()
		m.running = false
		m.cancel = nil
		m.mu.Unlock()
		return fmt.Errorf("initial sample failed: %w", err)
	}

	go m.loop(loopCtx)

	m.logger.Info("cpu monitor started", "source", m.sampler.Source().Name(), "interval", m.Interval())
	return nil
}

// Stop halts the polling loop and waits for it to exit.
// Safe to call multiple times.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	m.logger.Info("cpu monitor stopped")
}

// IsRunning returns whether the polling loop is active.
func (m *Monitor) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// SetInterval changes the polling cadence of a running or stopped monitor.
func (m *Monitor) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultInterval
	}
	m.mu.Lock()
	m.interval = d
	m.mu.Unlock()

	// Replace any pending value so the loop sees the latest one.
	select {
	case <-m.resetCh:
	default:
	}
	m.resetCh <- d
}

// Interval returns the current polling cadence.
func (m *Monitor) Interval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.interval
}

// loop runs the periodic tick cycle.
func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-m.resetCh:
			ticker.Reset(d)
		case <-ticker.C:
			_, _ = m.TickNow(ctx)
		}
	}
}

// TickNow performs one tick immediately and publishes the result.
// It returns ErrTickInProgress without reading if a tick is already running.
// A failed read returns the error together with the stale reading that was published.
func (m *Monitor) TickNow(ctx context.Context) (Reading, error) {
	if !m.tickMu.TryLock() {
		m.skipped.Add(1)
		m.logger.Debug("tick skipped, previous tick still running")
		return m.Latest(), ErrTickInProgress
	}
	defer m.tickMu.Unlock()

	start := time.Now()
	reading, err := m.sampler.Tick(ctx)
	m.lastDuration.Store(int64(time.Since(start)))
	m.ticks.Add(1)

	if err != nil {
		m.failures.Add(1)
		cerr := NewComponentError(ErrorSourceCPU, m.sampler.Source().Name(), err)
		m.logger.Warn("cpu sample failed, keeping last value", "error", cerr)
		reading = m.staleReading(cerr)
		m.publish(reading, false)
		return reading, cerr
	}

	m.publish(reading, true)
	return reading, nil
}

// staleReading builds the reading published after a failed read.
func (m *Monitor) staleReading(err error) Reading {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var r Reading
	if m.lastGood != nil {
		r = m.lastGood.clone()
	}
	r.Stale = true
	r.Err = err
	return r
}

// publish stores the reading and hands it to the handler.
func (m *Monitor) publish(r Reading, good bool) {
	m.mu.Lock()
	m.latest = r
	if good {
		c := r.clone()
		m.lastGood = &c
	}
	handler := m.handler
	m.mu.Unlock()

	if handler == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("reading handler panicked", "panic", p)
		}
	}()
	handler(r.clone())
}

// Latest returns the most recently published reading.
func (m *Monitor) Latest() Reading {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest.clone()
}

// Stats returns the driver's activity counters.
func (m *Monitor) Stats() Stats {
	return Stats{
		Ticks:        m.ticks.Load(),
		Skipped:      m.skipped.Load(),
		Failures:     m.failures.Load(),
		LastDuration: time.Duration(m.lastDuration.Load()),
	}
}

// SourceName returns the name of the counter source being sampled.
func (m *Monitor) SourceName() string {
	return m.sampler.Source().Name()
}
