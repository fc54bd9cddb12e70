// Package cpumon provides the public API for embedding the cpumon CPU
// utilization monitor. It allows third-party applications to run the
// sampler as a library component with full lifecycle management and
// configuration flexibility.
//
// # Basic Usage
//
// The simplest way to use cpumon is to create an instance from a configuration file:
//
//	m, err := cpumon.New("/etc/cpumon.lua", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer m.Stop()
//
//	m.SetReadingHandler(func(r cpumon.Reading) {
//		fmt.Printf("CPU Usage: %s\n", r.Total)
//	})
//	if err := m.Start(); err != nil {
//		log.Fatal(err)
//	}
//
// # Configuration Sources
//
// cpumon supports four configuration sources:
//
//   - Disk file: Use [New] to load from a filesystem path
//   - Embedded FS: Use [NewFromFS] to load from an [io/fs.FS]
//   - io.Reader: Use [NewFromReader] for dynamic configurations
//   - None: Use [NewDefault] to run with defaults and CPUMON_* overrides
//
// # Readings
//
// The first tick after Start has no previous snapshot, so its utilization
// is reported as unavailable. When a read fails the instance keeps the
// last-known-good value, marks the reading stale and reports the error
// through [ErrorHandler].
//
// # Processes
//
// [Instance.TopProcesses] lists the busiest processes on demand. Setting
// process_refresh_interval refreshes the list in the background;
// [Instance.Processes] returns the latest list. [Instance.Terminate] sends
// SIGTERM (or SIGKILL) to a validated PID.
//
// All methods are thread-safe and can be called from any goroutine.
package cpumon
