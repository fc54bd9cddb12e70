//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package platform

import (
	"sync"

	"github.com/tklauser/go-sysconf"
)

var clockTicks = sync.OnceValue(func() int64 {
	hz, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || hz <= 0 {
		return defaultClockTicks
	}
	return hz
})

// clockTicksPerSecond returns USER_HZ, the unit of kernel CPU time counters.
func clockTicksPerSecond() int64 {
	return clockTicks()
}
