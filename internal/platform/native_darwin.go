//go:build darwin

package platform

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/opd-ai/go-cpumon/internal/monitor"
)

const libSystemPath = "/usr/lib/libSystem.B.dylib"

// Mach constants from <mach/host_info.h> and <mach/machine.h>.
const (
	kernSuccess           = 0
	hostCPULoadInfo       = 3
	hostCPULoadInfoCount  = 4
	processorCPULoadInfo  = 2
	cpuStateUser          = 0
	cpuStateSystem        = 1
	cpuStateIdle          = 2
	cpuStateNice          = 3
	cpuStateMax           = 4
	bytesPerProcessorWord = 4
)

// machLib holds resolved libSystem symbols. It is loaded once per process.
type machLib struct {
	hostSelf          uintptr
	hostStatistics    uintptr
	hostProcessorInfo uintptr
	vmDeallocate      uintptr
	taskSelf          uintptr
}

var loadMachLib = sync.OnceValues(func() (*machLib, error) {
	handle, err := purego.Dlopen(libSystemPath, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("failed to load library %s: %w", libSystemPath, err)
	}

	lib := &machLib{}
	for name, dst := range map[string]*uintptr{
		"mach_host_self":      &lib.hostSelf,
		"host_statistics":     &lib.hostStatistics,
		"host_processor_info": &lib.hostProcessorInfo,
		"vm_deallocate":       &lib.vmDeallocate,
		"mach_task_self_":     &lib.taskSelf,
	} {
		sym, err := purego.Dlsym(handle, name)
		if err != nil {
			return nil, fmt.Errorf("failed to find symbol %s: %w", name, err)
		}
		*dst = sym
	}
	return lib, nil
})

// nativeSource reads the Mach host CPU load counters. They are already in
// clock ticks, so no unit conversion is needed.
type nativeSource struct {
	lib *machLib
}

func newNativeSource() (monitor.CounterSource, error) {
	lib, err := loadMachLib()
	if err != nil {
		return nil, fmt.Errorf("%w: native: %w", ErrUnsupportedSource, err)
	}
	return &nativeSource{lib: lib}, nil
}

// Name implements monitor.CounterSource.
func (s *nativeSource) Name() string {
	return "native"
}

// ReadTimes implements monitor.CounterSource.
func (s *nativeSource) ReadTimes(ctx context.Context) (monitor.CPUTimes, []monitor.CPUTimes, error) {
	if err := ctx.Err(); err != nil {
		return monitor.CPUTimes{}, nil, err
	}

	host, _, _ := purego.SyscallN(s.lib.hostSelf)

	var load [cpuStateMax]uint32
	count := uint32(hostCPULoadInfoCount)
	status, _, _ := purego.SyscallN(s.lib.hostStatistics,
		host,
		uintptr(hostCPULoadInfo),
		uintptr(unsafe.Pointer(&load[0])),
		uintptr(unsafe.Pointer(&count)))
	if status != kernSuccess {
		return monitor.CPUTimes{}, nil, fmt.Errorf("%w: host_statistics error=%d", monitor.ErrCounterSource, status)
	}

	total := loadToTimes(load[:])
	cores, err := s.perCPU(host)
	if err != nil {
		// Per-core counters are best effort.
		cores = nil
	}
	return total, cores, nil
}

// perCPU reads per-processor counters with host_processor_info.
func (s *nativeSource) perCPU(host uintptr) ([]monitor.CPUTimes, error) {
	var (
		cpuCount uint32
		info     uintptr
		infoCnt  uint32
	)
	status, _, _ := purego.SyscallN(s.lib.hostProcessorInfo,
		host,
		uintptr(processorCPULoadInfo),
		uintptr(unsafe.Pointer(&cpuCount)),
		uintptr(unsafe.Pointer(&info)),
		uintptr(unsafe.Pointer(&infoCnt)))
	if status != kernSuccess {
		return nil, fmt.Errorf("host_processor_info error=%d", status)
	}

	words := unsafe.Slice((*uint32)(unsafe.Pointer(info)), infoCnt)
	cores := make([]monitor.CPUTimes, 0, cpuCount)
	for i := 0; i+cpuStateMax <= len(words) && len(cores) < int(cpuCount); i += cpuStateMax {
		cores = append(cores, loadToTimes(words[i:i+cpuStateMax]))
	}

	// The array is allocated in our task by the kernel and must be released.
	task := *(*uint32)(unsafe.Pointer(s.lib.taskSelf))
	purego.SyscallN(s.lib.vmDeallocate, uintptr(task), info, uintptr(infoCnt)*bytesPerProcessorWord)

	return cores, nil
}

func loadToTimes(ticks []uint32) monitor.CPUTimes {
	return monitor.CPUTimes{
		User:   uint64(ticks[cpuStateUser]),
		System: uint64(ticks[cpuStateSystem]),
		Idle:   uint64(ticks[cpuStateIdle]),
		Nice:   uint64(ticks[cpuStateNice]),
	}
}
