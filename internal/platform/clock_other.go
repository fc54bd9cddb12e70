//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package platform

// clockTicksPerSecond returns the tick rate used to express counters that the
// OS reports in seconds.
func clockTicksPerSecond() int64 {
	return defaultClockTicks
}
