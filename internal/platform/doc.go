// Package platform provides the host-facing pieces of cpumon: counter sources
// other than the local /proc/stat reader, process enumeration and process
// termination.
//
// # Counter sources
//
// Every source implements monitor.CounterSource and returns cumulative CPU
// counters in clock ticks. NewCounterSource selects one by SourceKind:
//
//   - procfs: /proc/stat on Linux (the default there)
//   - native: host_statistics(HOST_CPU_LOAD_INFO) on macOS, loaded with purego
//   - gopsutil: portable fallback for every other OS
//   - ssh: /proc/stat of a remote Linux host, read over an SSH session
//
// Creating a source for the current OS:
//
//	src, err := platform.NewCounterSource(platform.SourceAuto, platform.RemoteConfig{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	m := monitor.NewMonitor(src, time.Second)
//
// # Processes
//
// ProcessLister implementations read process tables directly from the OS
// (procfs or gopsutil); no shell pipelines are involved. Terminate validates
// the PID before delivering a signal.
//
// # Thread Safety
//
// Sources and listers are safe for concurrent use unless otherwise documented.
package platform
