package cpumon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/go-cpumon/internal/config"
	"github.com/opd-ai/go-cpumon/internal/monitor"
	"github.com/opd-ai/go-cpumon/internal/platform"
)

// instance is the private implementation of the Instance interface.
type instance struct {
	// Configuration
	opts         Options
	configSource string
	watchPath    string // file to watch for changes; empty when not on disk
	loader       configLoader

	// lifeMu serializes Start and Stop. It is never held while calling
	// handlers, so handlers may take mu.
	lifeMu sync.Mutex
	// reloadMu serializes ReloadConfig.
	reloadMu sync.Mutex

	mu       sync.RWMutex
	cfg      *config.Config
	warnings []config.ValidationError

	// Components, rebuilt on every Start
	mon         atomic.Pointer[monitor.Monitor]
	source      CounterSource // unwrapped source, closed on Stop when owned
	ownsSource  bool
	breaker     *CircuitBreaker
	watcher     *configWatcher
	lister      ProcessLister
	metrics     *Metrics
	logger      Logger
	listingMu   sync.Mutex
	processes   []Process
	procResetCh chan struct{}

	// State
	running     atomic.Bool
	startTime   time.Time
	updateCount atomic.Uint64
	lastError   atomic.Pointer[errorBox]

	// Handlers
	errorHandler   ErrorHandler
	eventHandler   EventHandler
	readingHandler atomic.Pointer[ReadingHandler]

	// Synchronization
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// errorBox lets errors of any concrete type share one atomic.Pointer.
type errorBox struct{ err error }

// Verify interface implementation at compile time.
var _ Instance = (*instance)(nil)

func newInstance(o Options, configSource, watchPath string, loader configLoader) (Instance, error) {
	loaded, err := loader()
	if err != nil {
		return nil, err
	}

	c := &instance{
		opts:         o,
		configSource: configSource,
		watchPath:    watchPath,
		loader:       loader,
		cfg:          loaded.cfg,
		warnings:     loaded.warnings,
		metrics:      o.Metrics,
		logger:       o.Logger,
		lister:       o.ProcessLister,
		procResetCh:  make(chan struct{}, 1),
	}
	if c.metrics == nil {
		c.metrics = NewMetrics()
	}
	if c.logger == nil {
		c.logger = NopLogger()
	}
	if c.lister == nil {
		kind, err := platform.ParseSourceKind(loaded.cfg.Processes.Lister)
		if err != nil {
			return nil, fmt.Errorf("process lister: %w", err)
		}
		c.lister = platform.NewProcessLister(kind)
	}
	c.logWarnings(loaded.warnings)
	return c, nil
}

// Start takes the initial sample and begins periodic sampling.
func (c *instance) Start() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.running.Load() {
		return ErrAlreadyRunning
	}

	c.mu.RLock()
	cfg := c.cfg
	c.mu.RUnlock()

	if err := c.initComponents(cfg); err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	c.updateCount.Store(0)
	ctx, cancel := context.WithCancel(context.Background())
	mon := c.mon.Load()
	if err := mon.Start(ctx); err != nil {
		cancel()
		c.releaseSource()
		c.notifyError(err)
		return fmt.Errorf("failed to start monitor: %w", err)
	}

	c.mu.Lock()
	c.cancel = cancel
	c.startTime = time.Now()
	c.mu.Unlock()
	c.running.Store(true)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.processLoop(ctx)
	}()

	if c.opts.WatchConfig || cfg.WatchConfig {
		c.startWatcher()
	}

	c.metrics.IncrementStarts()
	c.metrics.SetRunning(true)
	c.emitEvent(EventStarted, fmt.Sprintf("sampling %s every %v", mon.SourceName(), mon.Interval()))
	return nil
}

// initComponents builds the counter source and the sampling driver.
func (c *instance) initComponents(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("configuration is nil")
	}

	source, owned, err := c.buildSource(cfg)
	if err != nil {
		return err
	}
	c.source = source
	c.ownsSource = owned

	var sampled CounterSource = source
	var breaker *CircuitBreaker
	if !c.opts.DisableCircuitBreaker {
		bc := DefaultCircuitBreakerConfig()
		if c.opts.CircuitBreaker != nil {
			bc = *c.opts.CircuitBreaker
		}
		userHook := bc.OnStateChange
		bc.OnStateChange = func(from, to CircuitState) {
			c.logger.Warn("counter source circuit changed", "source", source.Name(), "from", from.String(), "to", to.String())
			if userHook != nil {
				userHook(from, to)
			}
		}
		breaker = NewCircuitBreaker(bc)
		sampled = newGuardedSource(source, breaker)
	}
	c.mu.Lock()
	c.breaker = breaker
	c.mu.Unlock()

	mon := monitor.NewMonitor(sampled, c.intervalFor(cfg),
		monitor.WithLogger(c.logger),
		monitor.WithPerCore(cfg.Monitor.PerCore),
		monitor.WithReadingHandler(c.onReading),
	)
	c.mon.Store(mon)
	return nil
}

// buildSource returns the configured counter source and whether the
// instance owns it.
func (c *instance) buildSource(cfg *config.Config) (CounterSource, bool, error) {
	if c.opts.Source != nil {
		return c.opts.Source, false, nil
	}

	name := cfg.Monitor.Source
	if c.opts.SourceKind != "" {
		name = c.opts.SourceKind
	}
	kind, err := platform.ParseSourceKind(name)
	if err != nil {
		return nil, false, err
	}
	src, err := platform.NewCounterSource(kind, remoteConfig(cfg.Remote))
	if err != nil {
		return nil, false, fmt.Errorf("counter source %s: %w", kind, err)
	}
	return src, true, nil
}

// remoteConfig converts configuration settings to SSH connection
// parameters. A key file takes precedence over the agent, and the agent
// over a password.
func remoteConfig(rc config.RemoteConfig) platform.RemoteConfig {
	out := platform.RemoteConfig{
		Host:                  rc.Host,
		Port:                  rc.Port,
		User:                  rc.User,
		KnownHostsPath:        rc.KnownHosts,
		InsecureIgnoreHostKey: rc.InsecureIgnoreHostKey,
		StatPath:              rc.StatPath,
		CommandTimeout:        rc.CommandTimeout,
	}
	switch {
	case rc.KeyFile != "":
		out.AuthMethod = platform.KeyAuth{PrivateKeyPath: rc.KeyFile, Passphrase: rc.Passphrase}
	case rc.UseAgent:
		out.AuthMethod = platform.AgentAuth{}
	case rc.Password != "":
		out.AuthMethod = platform.PasswordAuth{Password: rc.Password}
	}
	return out
}

func (c *instance) intervalFor(cfg *config.Config) time.Duration {
	if c.opts.UpdateInterval > 0 {
		return c.opts.UpdateInterval
	}
	return cfg.Monitor.UpdateInterval
}

func (c *instance) topCount() int {
	if c.opts.TopCount > 0 {
		return c.opts.TopCount
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Processes.TopCount
}

func (c *instance) refreshInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Processes.RefreshInterval
}

// onReading runs on the sampling goroutine for every published reading.
func (c *instance) onReading(r Reading) {
	var d time.Duration
	if mon := c.mon.Load(); mon != nil {
		d = mon.Stats().LastDuration
	}
	c.updateCount.Add(1)
	c.metrics.RecordReading(r, d)

	if r.Err != nil {
		c.notifyError(r.Err)
	}
	if h := c.readingHandler.Load(); h != nil {
		(*h)(r)
	}
}

// Stop gracefully shuts down the instance.
func (c *instance) Stop() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if !c.running.Load() {
		return nil // Already stopped
	}

	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	watcher := c.watcher
	c.watcher = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	// Wait for goroutines with timeout
	done := make(chan struct{})
	go func() {
		defer close(done)
		if watcher != nil {
			watcher.Stop()
		}
		if mon := c.mon.Load(); mon != nil {
			mon.Stop()
		}
		c.wg.Wait()
	}()

	// Use configured timeout or default
	timeout := c.opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	select {
	case <-done:
	case <-time.After(timeout):
		err := fmt.Errorf("shutdown timeout after %v: some goroutines did not stop", timeout)
		c.notifyError(err)
		return err
	}

	c.releaseSource()
	c.running.Store(false)
	c.metrics.IncrementStops()
	c.metrics.SetRunning(false)
	c.emitEvent(EventStopped, "Instance stopped")
	return nil
}

// releaseSource closes a counter source the instance created.
func (c *instance) releaseSource() {
	if c.source == nil || !c.ownsSource {
		return
	}
	if err := platform.CloseSource(c.source); err != nil {
		c.logger.Warn("closing counter source failed", "source", c.source.Name(), "error", err)
	}
	c.source = nil
}

// Restart performs a stop followed by a start.
func (c *instance) Restart() error {
	if err := c.Stop(); err != nil {
		wrappedErr := fmt.Errorf("stop failed: %w", err)
		c.notifyError(wrappedErr)
		return wrappedErr
	}

	loaded, err := c.loader()
	if err != nil {
		wrappedErr := fmt.Errorf("config reload failed: %w", err)
		c.notifyError(wrappedErr)
		return wrappedErr
	}
	c.applyLoaded(loaded)
	c.emitEvent(EventConfigReloaded, "Configuration reloaded")

	if err := c.Start(); err != nil {
		wrappedErr := fmt.Errorf("start failed: %w", err)
		c.notifyError(wrappedErr)
		return wrappedErr
	}

	c.metrics.IncrementRestarts()
	c.emitEvent(EventRestarted, "Instance restarted")
	return nil
}

// ReloadConfig reloads the configuration in place without stopping.
func (c *instance) ReloadConfig() error {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	if !c.running.Load() {
		return ErrNotRunning
	}
	if c.loader == nil {
		return ErrNoConfigLoader
	}

	loaded, err := c.loader()
	if err != nil {
		wrappedErr := fmt.Errorf("config reload failed: %w", err)
		c.notifyError(wrappedErr)
		return wrappedErr
	}

	old := c.applyLoaded(loaded)
	newCfg := loaded.cfg

	if mon := c.mon.Load(); mon != nil {
		mon.SetInterval(c.intervalFor(newCfg))
	}
	if old.Monitor.Source != newCfg.Monitor.Source || old.Monitor.PerCore != newCfg.Monitor.PerCore || old.Remote != newCfg.Remote {
		c.logger.Warn("counter source settings changed; restart to apply",
			"source", newCfg.Monitor.Source, "per_core", newCfg.Monitor.PerCore)
	}
	if old.Processes.Lister != newCfg.Processes.Lister {
		c.logger.Warn("process_lister changes need a new instance", "lister", newCfg.Processes.Lister)
	}

	// Wake the process loop so a new refresh interval applies now.
	select {
	case c.procResetCh <- struct{}{}:
	default:
	}

	c.metrics.IncrementConfigReloads()
	c.logger.Info("configuration reloaded", "source", c.configSource, "interval", c.intervalFor(newCfg))
	c.emitEvent(EventConfigReloaded, "Configuration reloaded in-place")
	return nil
}

// applyLoaded installs a freshly loaded configuration and returns the
// previous one.
func (c *instance) applyLoaded(loaded loadedConfig) *config.Config {
	c.mu.Lock()
	old := c.cfg
	c.cfg = loaded.cfg
	c.warnings = loaded.warnings
	c.mu.Unlock()

	c.logWarnings(loaded.warnings)
	return old
}

func (c *instance) logWarnings(warnings []config.ValidationError) {
	for _, w := range warnings {
		c.logger.Warn("configuration warning", "field", w.Field, "message", w.Message)
	}
}

// startWatcher begins hot-reloading the configuration file. Failure to
// watch is reported but does not stop sampling.
func (c *instance) startWatcher() {
	if c.watchPath == "" {
		c.logger.Debug("config watching requested but configuration is not a file", "source", c.configSource)
		return
	}

	w, err := newConfigWatcher(c.watchPath, c.opts.WatchDebounce, c.ReloadConfig, c.notifyError)
	if err != nil {
		c.notifyError(fmt.Errorf("watch config: %w", err))
		return
	}
	c.mu.Lock()
	c.watcher = w
	c.mu.Unlock()
	w.Start()
	c.logger.Info("watching configuration for changes", "path", c.watchPath)
}

// IsRunning returns true if the instance is currently sampling.
func (c *instance) IsRunning() bool {
	return c.running.Load()
}

// Latest returns the most recent reading.
func (c *instance) Latest() Reading {
	if mon := c.mon.Load(); mon != nil {
		return mon.Latest()
	}
	return Reading{}
}

// Sample takes a reading immediately.
func (c *instance) Sample(ctx context.Context) (Reading, error) {
	mon := c.mon.Load()
	if mon == nil || !c.running.Load() {
		return Reading{}, ErrNotRunning
	}
	r, err := mon.TickNow(ctx)
	if errors.Is(err, monitor.ErrTickInProgress) {
		c.metrics.IncrementSkippedTicks()
	}
	return r, err
}

// Status returns detailed status information about the instance.
func (c *instance) Status() Status {
	c.mu.RLock()
	startTime := c.startTime
	cfg := c.cfg
	warnings := make([]string, 0, len(c.warnings))
	for _, w := range c.warnings {
		warnings = append(warnings, w.Error())
	}
	c.mu.RUnlock()

	s := Status{
		Running:        c.running.Load(),
		StartTime:      startTime,
		UpdateCount:    c.updateCount.Load(),
		LastError:      c.getError(),
		ConfigSource:   c.configSource,
		UpdateInterval: c.intervalFor(cfg),
		TopCount:       c.topCount(),
		LogLevel:       cfg.Logging.Level,
		Warnings:       warnings,
	}
	if mon := c.mon.Load(); mon != nil {
		stats := mon.Stats()
		s.Source = mon.SourceName()
		s.UpdateInterval = mon.Interval()
		s.SkippedTicks = stats.Skipped
		s.ReadFailures = stats.Failures
	}
	return s
}

// SetErrorHandler registers a callback for runtime errors.
func (c *instance) SetErrorHandler(handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorHandler = handler
}

// SetEventHandler registers a callback for lifecycle events.
func (c *instance) SetEventHandler(handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventHandler = handler
}

// SetReadingHandler registers a callback for readings.
func (c *instance) SetReadingHandler(handler ReadingHandler) {
	if handler == nil {
		c.readingHandler.Store(nil)
		return
	}
	c.readingHandler.Store(&handler)
}

// Metrics returns the metrics collector for this instance.
func (c *instance) Metrics() *Metrics {
	return c.metrics
}

// getError retrieves the last error.
func (c *instance) getError() error {
	if b := c.lastError.Load(); b != nil {
		return b.err
	}
	return nil
}

// notifyError stores an error and invokes the error handler if registered.
func (c *instance) notifyError(err error) {
	if err == nil {
		return
	}
	c.lastError.Store(&errorBox{err: err})
	c.metrics.IncrementErrors()

	c.mu.RLock()
	handler := c.errorHandler
	c.mu.RUnlock()

	if handler != nil {
		go func() {
			defer func() {
				// Recover from panics in error handler to prevent crashing
				if r := recover(); r != nil {
					c.logger.Error("error handler panicked", "panic", r, "original_error", err)
				}
			}()
			handler(err)
		}()
	}

	c.emitEvent(EventError, err.Error())
}

// emitEvent sends an event to the event handler if configured.
func (c *instance) emitEvent(eventType EventType, message string) {
	c.metrics.IncrementEventsEmitted()

	c.mu.RLock()
	handler := c.eventHandler
	c.mu.RUnlock()

	if handler == nil {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Message:   message,
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("event handler panicked", "panic", r, "event", eventType.String())
			}
		}()
		handler(event)
	}()
}
