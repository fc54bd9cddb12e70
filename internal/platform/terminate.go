package platform

import (
	"fmt"
	"os"
)

// initPID is the PID of the init process, which is never signalled.
const initPID = 1

// Terminate asks the process pid to exit. With force it is killed
// immediately (SIGKILL on Unix); otherwise it receives SIGTERM.
//
// PIDs that are not positive return ErrInvalidPID. init and the calling
// process return ErrProtectedPID. No signal is sent in either case.
// Delivery errors such as a missing process or insufficient permission are
// wrapped and returned.
func Terminate(pid int, force bool) error {
	if err := ValidatePID(pid); err != nil {
		return err
	}
	if err := sendTerminate(pid, force); err != nil {
		return fmt.Errorf("signalling pid %d: %w", pid, err)
	}
	return nil
}

// ValidatePID reports whether pid may be signalled by Terminate.
func ValidatePID(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPID, pid)
	}
	if pid == initPID || pid == os.Getpid() {
		return fmt.Errorf("%w: %d", ErrProtectedPID, pid)
	}
	return nil
}
