package cpumon

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"

	"github.com/opd-ai/go-cpumon/internal/config"
	"github.com/opd-ai/go-cpumon/internal/monitor"
	"github.com/opd-ai/go-cpumon/internal/platform"
)

// Configuration format constants for use with NewFromReader.
const (
	// FormatLegacy indicates the "key value" text format.
	FormatLegacy = "legacy"
	// FormatLua indicates the Lua configuration format.
	FormatLua = "lua"
)

// Reading is the result of one sampling tick.
type Reading = monitor.Reading

// Utilization is the busy share of one sampling interval.
type Utilization = monitor.Utilization

// Process describes one entry of a top-process listing.
type Process = platform.ProcessInfo

// CounterSource reads cumulative CPU time counters. Embedders may supply
// their own through Options.Source.
type CounterSource = monitor.CounterSource

// ProcessLister enumerates processes ordered by CPU usage.
type ProcessLister = platform.ProcessLister

// ReadingHandler receives every published reading, including stale ones.
// It runs on the sampling goroutine; do not block in the handler.
type ReadingHandler func(Reading)

// Instance represents an embedded cpumon monitor with full lifecycle control.
// It is safe for concurrent use from multiple goroutines.
type Instance interface {
	// Start takes the initial sample and begins periodic sampling in the
	// background. Returns ErrAlreadyRunning if already running, or the
	// initial read error, in which case the instance stays stopped.
	Start() error

	// Stop gracefully shuts down the instance.
	// It waits for all goroutines to complete before returning.
	// Safe to call multiple times; subsequent calls are no-ops.
	Stop() error

	// Restart performs a stop followed by a start.
	// Configuration is reloaded from the original source.
	Restart() error

	// ReloadConfig reloads the configuration in place without stopping.
	// Interval, process and logging settings take effect immediately; a
	// change of counter source needs Restart. On error the previous
	// configuration remains active.
	ReloadConfig() error

	// IsRunning returns true if the instance is currently sampling.
	IsRunning() bool

	// Latest returns the most recent reading.
	Latest() Reading

	// Sample takes a reading immediately instead of waiting for the next
	// tick. It returns ErrTickInProgress if a tick is already running.
	Sample(ctx context.Context) (Reading, error)

	// TopProcesses lists the configured number of busiest processes and
	// stores the result for Processes.
	TopProcesses(ctx context.Context) ([]Process, error)

	// Processes returns the most recent process listing.
	Processes() []Process

	// Terminate asks process pid to exit, or kills it when force is set.
	Terminate(pid int, force bool) error

	// Status returns detailed status information about the instance.
	Status() Status

	// Health returns a health check result for the instance.
	Health() HealthCheck

	// SetErrorHandler registers a callback for runtime errors.
	// The handler is invoked asynchronously; panics in it are recovered.
	SetErrorHandler(handler ErrorHandler)

	// SetEventHandler registers a callback for lifecycle events.
	SetEventHandler(handler EventHandler)

	// SetReadingHandler registers a callback for readings.
	SetReadingHandler(handler ReadingHandler)

	// Metrics returns the metrics collector for this instance.
	Metrics() *Metrics
}

// loadedConfig is what a config loader produces: a validated configuration
// and its non-fatal warnings.
type loadedConfig struct {
	cfg      *config.Config
	warnings []config.ValidationError
}

// configLoader re-reads the configuration from its original source.
type configLoader func() (loadedConfig, error)

// New creates a new Instance from a configuration file on disk.
// The configuration file can be in either the legacy or the Lua format.
// The instance is created but not started; call Start() to begin operation.
func New(configPath string, opts *Options) (Instance, error) {
	o := resolveOptions(opts)
	loader := func() (loadedConfig, error) {
		return parseAndFinalize(o, func(p *config.Parser) (*config.Config, error) {
			return p.ParseFile(configPath)
		})
	}
	return newInstance(o, configPath, configPath, loader)
}

// NewFromFS creates a new Instance using configuration from a filesystem,
// for example one embedded with go:embed.
func NewFromFS(fsys fs.FS, configPath string, opts *Options) (Instance, error) {
	o := resolveOptions(opts)
	loader := func() (loadedConfig, error) {
		return parseAndFinalize(o, func(p *config.Parser) (*config.Config, error) {
			return p.ParseFromFS(fsys, configPath)
		})
	}
	return newInstance(o, "embedded:"+configPath, "", loader)
}

// NewFromReader creates a new Instance from configuration content provided
// as an io.Reader. The format parameter is FormatLegacy or FormatLua.
func NewFromReader(r io.Reader, format string, opts *Options) (Instance, error) {
	if format != FormatLegacy && format != FormatLua {
		return nil, fmt.Errorf("invalid format: %s (expected '%s' or '%s')", format, FormatLua, FormatLegacy)
	}

	// Read content once (can't re-read a Reader)
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	o := resolveOptions(opts)
	loader := func() (loadedConfig, error) {
		return parseAndFinalize(o, func(p *config.Parser) (*config.Config, error) {
			return p.ParseReader(bytes.NewReader(content), format)
		})
	}
	return newInstance(o, "reader", "", loader)
}

// NewDefault creates a new Instance from the built-in defaults and any
// CPUMON_* environment overrides.
func NewDefault(opts *Options) (Instance, error) {
	o := resolveOptions(opts)
	loader := func() (loadedConfig, error) {
		cfg := config.DefaultConfig()
		return finalize(o, &cfg)
	}
	return newInstance(o, "defaults", "", loader)
}

func parseAndFinalize(o Options, parse func(*config.Parser) (*config.Config, error)) (loadedConfig, error) {
	p, err := config.NewParser()
	if err != nil {
		return loadedConfig{}, fmt.Errorf("parser init: %w", err)
	}
	defer p.Close()
	p.SetEnviron(o.Environ)

	cfg, err := parse(p)
	if err != nil {
		return loadedConfig{}, fmt.Errorf("parse config: %w", err)
	}
	return finalize(o, cfg)
}

func finalize(o Options, cfg *config.Config) (loadedConfig, error) {
	cfg, warnings, err := config.Finalize(cfg, o.Environ)
	if err != nil {
		return loadedConfig{}, fmt.Errorf("invalid config: %w", err)
	}
	return loadedConfig{cfg: cfg, warnings: warnings}, nil
}
