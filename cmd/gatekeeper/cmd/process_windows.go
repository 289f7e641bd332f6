//go:build windows

package cmd

import (
	"os"

	"golang.org/x/sys/windows"
)

// Windows has no SIGTERM; stop terminates the process directly.
const gracefulStopName = "TerminateProcess"

// stillActive is the exit code GetExitCodeProcess reports for a running process.
const stillActive = 259

// gracefulSignals are the signals start treats as a shutdown request.
// Only os.Interrupt (CTRL_C_EVENT) is delivered reliably on Windows.
func gracefulSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

func processIsAlive(proc *os.Process) bool {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(proc.Pid))
	if err != nil {
		return false
	}
	defer func() { _ = windows.CloseHandle(handle) }()

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false
	}
	return exitCode == stillActive
}

func sendGracefulStop(proc *os.Process) error {
	return proc.Kill()
}
