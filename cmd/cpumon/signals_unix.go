//go:build unix

package main

import (
	"os"

	"golang.org/x/sys/unix"
)

func controlSignals() []os.Signal {
	return []os.Signal{unix.SIGHUP, unix.SIGUSR1}
}

func isReloadSignal(sig os.Signal) bool { return sig == unix.SIGHUP }

func isListSignal(sig os.Signal) bool { return sig == unix.SIGUSR1 }
