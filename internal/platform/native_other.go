//go:build !darwin

package platform

import (
	"fmt"
	"runtime"

	"github.com/opd-ai/go-cpumon/internal/monitor"
)

func newNativeSource() (monitor.CounterSource, error) {
	return nil, fmt.Errorf("%w: native source is not available on %s", ErrUnsupportedSource, runtime.GOOS)
}
