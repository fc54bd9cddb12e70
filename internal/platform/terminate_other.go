//go:build !unix

package platform

import "github.com/shirou/gopsutil/v4/process"

// sendTerminate uses TerminateProcess on Windows; there is no graceful
// equivalent of SIGTERM, so force makes no difference.
func sendTerminate(pid int, _ bool) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Kill()
}
