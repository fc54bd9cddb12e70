package cpumon

import (
	"expvar"
	"math"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides application-level metrics collection for cpumon.
// It is published through expvar (/debug/vars) with RegisterExpvar and
// implements prometheus.Collector for a /metrics endpoint.
//
// Thread-safe for concurrent use.
//
// Example usage:
//
//	metrics := cpumon.NewMetrics()
//	registry := prometheus.NewRegistry()
//	registry.MustRegister(metrics)
//	opts := cpumon.DefaultOptions()
//	opts.Metrics = metrics
type Metrics struct {
	// Counters
	starts          atomic.Int64
	stops           atomic.Int64
	restarts        atomic.Int64
	configReloads   atomic.Int64
	ticks           atomic.Int64
	readErrors      atomic.Int64
	staleReadings   atomic.Int64
	skippedTicks    atomic.Int64
	processListings atomic.Int64
	terminations    atomic.Int64
	errorsTotal     atomic.Int64
	eventsEmitted   atomic.Int64

	// Latency tracking (stored as nanoseconds)
	tickLatencyNs    atomic.Int64
	tickLatencyCount atomic.Int64
	tickLatency      prometheus.Histogram

	// Current state gauges
	currentlyRunning atomic.Int32
	utilizationBits  atomic.Uint64 // math.Float64bits of the last utilization
	utilizationKnown atomic.Bool

	// Registration tracking to prevent duplicate expvar registration
	registered atomic.Bool
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		tickLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cpumon",
			Name:      "tick_duration_seconds",
			Help:      "Time taken to read counters and compute one reading.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8), // 100µs to ~1.6s
		}),
	}
}

// expvarName is the expvar key the metrics snapshot is published under.
const expvarName = "cpumon"

// RegisterExpvar publishes the metrics snapshot under "cpumon" in Go's
// expvar package, making it available at /debug/vars. Safe to call multiple
// times; only the first Metrics registered in a process is published.
func (m *Metrics) RegisterExpvar() {
	if m.registered.Swap(true) {
		return // Already registered
	}
	if expvar.Get(expvarName) != nil {
		return
	}
	expvar.Publish(expvarName, expvar.Func(func() any { return m.Snapshot() }))
}

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot struct {
	// Counters
	Starts          int64
	Stops           int64
	Restarts        int64
	ConfigReloads   int64
	Ticks           int64
	ReadErrors      int64
	StaleReadings   int64
	SkippedTicks    int64
	ProcessListings int64
	Terminations    int64
	ErrorsTotal     int64
	EventsEmitted   int64

	// Gauges
	Running bool
	// Utilization is the last available total utilization; negative when
	// no reading has been available yet.
	Utilization float64

	// Latency averages
	TickLatencyAvg time.Duration
}

// Snapshot returns a point-in-time copy of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Starts:          m.starts.Load(),
		Stops:           m.stops.Load(),
		Restarts:        m.restarts.Load(),
		ConfigReloads:   m.configReloads.Load(),
		Ticks:           m.ticks.Load(),
		ReadErrors:      m.readErrors.Load(),
		StaleReadings:   m.staleReadings.Load(),
		SkippedTicks:    m.skippedTicks.Load(),
		ProcessListings: m.processListings.Load(),
		Terminations:    m.terminations.Load(),
		ErrorsTotal:     m.errorsTotal.Load(),
		EventsEmitted:   m.eventsEmitted.Load(),

		Running:     m.currentlyRunning.Load() > 0,
		Utilization: m.utilization(),

		TickLatencyAvg: safeDivide(m.tickLatencyNs.Load(), m.tickLatencyCount.Load()),
	}
}

func (m *Metrics) utilization() float64 {
	if !m.utilizationKnown.Load() {
		return -1
	}
	return math.Float64frombits(m.utilizationBits.Load())
}

// Counter increment methods

// IncrementStarts records a start operation.
func (m *Metrics) IncrementStarts() { m.starts.Add(1) }

// IncrementStops records a stop operation.
func (m *Metrics) IncrementStops() { m.stops.Add(1) }

// IncrementRestarts records a restart operation.
func (m *Metrics) IncrementRestarts() { m.restarts.Add(1) }

// IncrementConfigReloads records a configuration reload.
func (m *Metrics) IncrementConfigReloads() { m.configReloads.Add(1) }

// IncrementSkippedTicks records a tick dropped because another was running.
func (m *Metrics) IncrementSkippedTicks() { m.skippedTicks.Add(1) }

// IncrementProcessListings records a process listing.
func (m *Metrics) IncrementProcessListings() { m.processListings.Add(1) }

// IncrementTerminations records a delivered termination signal.
func (m *Metrics) IncrementTerminations() { m.terminations.Add(1) }

// IncrementErrors records an error occurrence.
func (m *Metrics) IncrementErrors() { m.errorsTotal.Add(1) }

// IncrementEventsEmitted records an event emission.
func (m *Metrics) IncrementEventsEmitted() { m.eventsEmitted.Add(1) }

// RecordReading records one published reading and the tick duration.
func (m *Metrics) RecordReading(r Reading, d time.Duration) {
	m.ticks.Add(1)
	if r.Err != nil {
		m.readErrors.Add(1)
	}
	if r.Stale {
		m.staleReadings.Add(1)
	}
	if r.Total.Available && !r.Stale {
		m.utilizationBits.Store(math.Float64bits(r.Total.Percent))
		m.utilizationKnown.Store(true)
	}

	m.tickLatencyNs.Add(d.Nanoseconds())
	m.tickLatencyCount.Add(1)
	m.tickLatency.Observe(d.Seconds())
}

// SetRunning updates the running state gauge.
func (m *Metrics) SetRunning(running bool) {
	if running {
		m.currentlyRunning.Store(1)
	} else {
		m.currentlyRunning.Store(0)
	}
}

// Reset clears all metrics. Useful for testing.
func (m *Metrics) Reset() {
	for _, c := range []*atomic.Int64{
		&m.starts, &m.stops, &m.restarts, &m.configReloads, &m.ticks,
		&m.readErrors, &m.staleReadings, &m.skippedTicks, &m.processListings,
		&m.terminations, &m.errorsTotal, &m.eventsEmitted,
		&m.tickLatencyNs, &m.tickLatencyCount,
	} {
		c.Store(0)
	}
	m.currentlyRunning.Store(0)
	m.utilizationKnown.Store(false)
	m.utilizationBits.Store(0)
}

// safeDivide performs safe division, returning 0 for divide by zero.
func safeDivide(total, count int64) time.Duration {
	if count == 0 {
		return 0
	}
	return time.Duration(total / count)
}

var (
	newDesc = func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("cpumon", "", name), help, nil, nil)
	}

	descStarts          = newDesc("starts_total", "Number of times sampling was started.")
	descStops           = newDesc("stops_total", "Number of times sampling was stopped.")
	descRestarts        = newDesc("restarts_total", "Number of restarts.")
	descConfigReloads   = newDesc("config_reloads_total", "Number of configuration reloads.")
	descTicks           = newDesc("ticks_total", "Number of readings published.")
	descReadErrors      = newDesc("read_errors_total", "Number of failed counter reads.")
	descStaleReadings   = newDesc("stale_readings_total", "Number of readings that repeated the last-known-good value.")
	descSkippedTicks    = newDesc("skipped_ticks_total", "Number of ticks dropped because a tick was in progress.")
	descProcessListings = newDesc("process_listings_total", "Number of top-process listings.")
	descTerminations    = newDesc("terminations_total", "Number of termination signals delivered.")
	descErrors          = newDesc("errors_total", "Number of runtime errors reported.")
	descRunning         = newDesc("running", "Whether sampling is running (1) or stopped (0).")
	descUtilization     = newDesc("utilization_percent", "Last available total CPU utilization.")
)

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		descStarts, descStops, descRestarts, descConfigReloads, descTicks,
		descReadErrors, descStaleReadings, descSkippedTicks, descProcessListings,
		descTerminations, descErrors, descRunning, descUtilization,
	} {
		ch <- d
	}
	m.tickLatency.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	s := m.Snapshot()
	counters := []struct {
		desc  *prometheus.Desc
		value int64
	}{
		{descStarts, s.Starts},
		{descStops, s.Stops},
		{descRestarts, s.Restarts},
		{descConfigReloads, s.ConfigReloads},
		{descTicks, s.Ticks},
		{descReadErrors, s.ReadErrors},
		{descStaleReadings, s.StaleReadings},
		{descSkippedTicks, s.SkippedTicks},
		{descProcessListings, s.ProcessListings},
		{descTerminations, s.Terminations},
		{descErrors, s.ErrorsTotal},
	}
	for _, c := range counters {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(c.value))
	}

	running := 0.0
	if s.Running {
		running = 1
	}
	ch <- prometheus.MustNewConstMetric(descRunning, prometheus.GaugeValue, running)
	if s.Utilization >= 0 {
		ch <- prometheus.MustNewConstMetric(descUtilization, prometheus.GaugeValue, s.Utilization)
	}
	m.tickLatency.Collect(ch)
}

var _ prometheus.Collector = (*Metrics)(nil)
