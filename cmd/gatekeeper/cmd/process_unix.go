//go:build !windows

package cmd

import (
	"os"
	"syscall"
)

const gracefulStopName = "SIGTERM"

// gracefulSignals are the signals start treats as a shutdown request.
func gracefulSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// processIsAlive probes proc with signal 0.
func processIsAlive(proc *os.Process) bool {
	return proc.Signal(syscall.Signal(0)) == nil
}

func sendGracefulStop(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}
