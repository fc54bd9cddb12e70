// Package main provides the cpumon command: a headless CPU utilization
// monitor that prints one line per sample and can list or terminate the
// busiest processes.
package main

import (
	"context"
	"errors"
	"expvar"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/go-cpumon/internal/config"
	"github.com/opd-ai/go-cpumon/internal/profiling"
	"github.com/opd-ai/go-cpumon/pkg/cpumon"
)

// Version is the current version of cpumon.
// This default value can be overridden at build time using:
//
//	go build -ldflags "-X main.Version=x.y.z"
var Version = "0.1.0-dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// cliFlags holds the parsed command line.
type cliFlags struct {
	configPath  string
	version     bool
	interval    time.Duration
	top         int
	source      string
	kill        int
	force       bool
	watch       bool
	count       int
	metricsAddr string
	cpuProfile  string
	memProfile  string
}

func parseFlags(args []string, stderr io.Writer) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("cpumon", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "c", "", "Path to configuration file (Lua or key value format)")
	fs.BoolVar(&f.version, "v", false, "Print version and exit")
	fs.DurationVar(&f.interval, "interval", 0, "Sampling interval (overrides update_interval)")
	fs.IntVar(&f.top, "top", 0, "Number of processes to list (overrides top_processes)")
	fs.StringVar(&f.source, "source", "", "Counter source: auto, procfs, native, gopsutil or ssh")
	fs.IntVar(&f.kill, "kill", 0, "Terminate the process with this PID and exit")
	fs.BoolVar(&f.force, "force", false, "With -kill, kill immediately instead of asking the process to exit")
	fs.BoolVar(&f.watch, "watch", false, "Reload the configuration file when it changes")
	fs.IntVar(&f.count, "n", 0, "Exit after this many utilization readings (0 runs until interrupted)")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve /metrics and /debug/vars on this address")
	fs.StringVar(&f.cpuProfile, "cpuprofile", "", "Write CPU profile to file")
	fs.StringVar(&f.memProfile, "memprofile", "", "Write memory profile to file")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if fs.NArg() > 0 {
		return f, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if f.count < 0 {
		return f, errors.New("-n must not be negative")
	}
	return f, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	f, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if f.version {
		fmt.Fprintf(stdout, "cpumon version %s\n", Version)
		return 0
	}

	// Initialize profiling if requested
	profConfig := profiling.Config{
		CPUProfilePath: f.cpuProfile,
		MemProfilePath: f.memProfile,
	}
	if profConfig.ProfilingEnabled() {
		profiler := profiling.New(profConfig)
		if err := profiler.Start(); err != nil {
			fmt.Fprintf(stderr, "Failed to start profiling: %v\n", err)
			return 1
		}
		defer func() {
			if err := profiler.Stop(); err != nil {
				fmt.Fprintf(stderr, "Warning: failed to stop profiling: %v\n", err)
			}
		}()
	}

	// The CLI reads the file itself for its own settings (logging, metrics
	// endpoint); the instance reloads it on SIGHUP and on change.
	cfg, warnings, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading configuration: %v\n", err)
		return 1
	}

	level := zap.NewAtomicLevelAt(cpumon.ZapLevel(cfg.Logging.Level))
	zl, err := cpumon.NewZapLogger(level, cfg.Logging.Format == config.LogFormatJSON)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating logger: %v\n", err)
		return 1
	}
	defer func() { _ = zl.Sync() }()
	for _, w := range warnings {
		zl.Warn("configuration warning", zap.String("field", w.Field), zap.String("message", w.Message))
	}

	metrics := cpumon.NewMetrics()
	opts := cpumon.DefaultOptions()
	opts.UpdateInterval = f.interval
	opts.TopCount = f.top
	opts.SourceKind = f.source
	opts.WatchConfig = f.watch
	opts.Logger = cpumon.NewZapAdapter(zl)
	opts.Metrics = metrics

	inst, err := newInstance(f.configPath, &opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating cpumon instance: %v\n", err)
		return 1
	}

	if f.kill != 0 {
		return runKill(inst, f.kill, f.force, stdout, stderr)
	}

	metricsAddr := cfg.MetricsAddr
	if f.metricsAddr != "" {
		metricsAddr = f.metricsAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	printer := &readingPrinter{w: stdout, limit: f.count, done: cancel}
	inst.SetReadingHandler(printer.print)
	inst.SetErrorHandler(func(err error) {
		zl.Warn("runtime error", zap.Error(err))
	})
	inst.SetEventHandler(func(e cpumon.Event) {
		if e.Type == cpumon.EventConfigReloaded {
			level.SetLevel(cpumon.ZapLevel(inst.Status().LogLevel))
		}
		zl.Debug("event", zap.Stringer("type", e.Type), zap.String("message", e.Message))
	})

	if err := inst.Start(); err != nil {
		fmt.Fprintf(stderr, "Failed to start: %v\n", err)
		return 1
	}
	defer func() {
		if err := inst.Stop(); err != nil {
			fmt.Fprintf(stderr, "Stop error: %v\n", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	if metricsAddr != "" {
		srv := newMetricsServer(metricsAddr, metrics)
		metrics.RegisterExpvar()
		g.Go(func() error { return serveMetrics(gctx, srv, zl) })
	}
	g.Go(func() error {
		handleSignals(gctx, inst, stdout, zl)
		return nil
	})

	if err := g.Wait(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newInstance(configPath string, opts *cpumon.Options) (cpumon.Instance, error) {
	if configPath == "" {
		return cpumon.NewDefault(opts)
	}
	return cpumon.New(configPath, opts)
}

// runKill terminates pid and reports the outcome.
func runKill(inst cpumon.Instance, pid int, force bool, stdout, stderr io.Writer) int {
	if err := inst.Terminate(pid, force); err != nil {
		fmt.Fprintf(stderr, "Terminate failed: %v\n", err)
		return 1
	}
	signalName := "SIGTERM"
	if force {
		signalName = "SIGKILL"
	}
	fmt.Fprintf(stdout, "Sent %s to %d\n", signalName, pid)
	return 0
}

// readingPrinter writes one line per reading and cancels the run once
// limit readings with a utilization were printed. The unavailable first
// reading is printed but not counted.
type readingPrinter struct {
	mu    sync.Mutex
	w     io.Writer
	limit int
	seen  int
	done  context.CancelFunc
}

func (p *readingPrinter) print(r cpumon.Reading) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.limit > 0 && p.seen >= p.limit {
		return
	}
	fmt.Fprintln(p.w, formatReading(r))
	if !r.Total.Available {
		return
	}
	p.seen++
	if p.limit > 0 && p.seen >= p.limit && p.done != nil {
		p.done()
	}
}

// formatReading renders a reading as a single text line.
func formatReading(r cpumon.Reading) string {
	line := "CPU Usage: n/a"
	if r.Total.Available {
		line = fmt.Sprintf("CPU Usage: %.2f%%", r.Total.Percent)
	}
	for i, c := range r.Cores {
		if c.Available {
			line += fmt.Sprintf(" cpu%d=%.2f%%", i, c.Percent)
		} else {
			line += fmt.Sprintf(" cpu%d=n/a", i)
		}
	}
	if r.Stale {
		line += " (stale)"
	}
	return line
}

// printProcesses writes a process listing as an aligned table.
func printProcesses(w io.Writer, procs []cpumon.Process) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "PID\tCPU%\tMEM(KiB)\tTHR\tS\tNAME\t")
	for _, p := range procs {
		fmt.Fprintf(tw, "%d\t%.2f\t%d\t%d\t%s\t%s\t\n", p.PID, p.CPUPercent, p.MemBytes/1024, p.Threads, p.State, p.Name)
	}
	tw.Flush()
}

// newMetricsServer exposes the instance metrics, Go runtime metrics and
// expvar on one listener.
func newMetricsServer(addr string, metrics *cpumon.Metrics) *http.Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics,
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/debug/vars", expvar.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func serveMetrics(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	return <-errCh
}

// handleSignals restarts the instance on SIGHUP and prints the busiest
// processes on SIGUSR1 until ctx is done.
func handleSignals(ctx context.Context, inst cpumon.Instance, stdout io.Writer, logger *zap.Logger) {
	sigs := controlSignals()
	if len(sigs) == 0 {
		<-ctx.Done()
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, sigs...)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			switch {
			case isReloadSignal(sig):
				logger.Info("received signal, restarting", zap.Stringer("signal", sig))
				if err := inst.Restart(); err != nil {
					logger.Error("restart failed", zap.Error(err))
				}
			case isListSignal(sig):
				procs, err := inst.TopProcesses(ctx)
				if err != nil {
					logger.Error("listing processes failed", zap.Error(err))
					continue
				}
				printProcesses(stdout, procs)
			}
		}
	}
}
