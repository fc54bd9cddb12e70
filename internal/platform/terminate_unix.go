//go:build unix

package platform

import "golang.org/x/sys/unix"

func sendTerminate(pid int, force bool) error {
	sig := unix.SIGTERM
	if force {
		sig = unix.SIGKILL
	}
	return unix.Kill(pid, sig)
}
