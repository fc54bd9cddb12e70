//go:build !unix

package main

import "os"

// Without SIGHUP and SIGUSR1, restart and listing are unavailable.
func controlSignals() []os.Signal { return nil }

func isReloadSignal(os.Signal) bool { return false }

func isListSignal(os.Signal) bool { return false }
