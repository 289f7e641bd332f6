package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// stopPollInterval is how often stop checks whether the server has exited.
const stopPollInterval = 200 * time.Millisecond

var stopTimeout time.Duration

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running gatekeeper server",
	Long: `Stop a running gatekeeper server by reading its PID file and asking it to shut down.
If it has not exited after --timeout it is killed.

The PID file is located at ~/.gatekeeper/server.pid.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 10*time.Second, "how long to wait for a graceful shutdown")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	out := cmd.ErrOrStderr()
	pidPath := pidFilePath()

	pid := readPIDFile(pidPath)
	if pid == 0 {
		return fmt.Errorf("no server PID file found at %s\nIs the server running?", pidPath)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		_ = os.Remove(pidPath)
		return fmt.Errorf("invalid PID %d: %w", pid, err)
	}
	if !processIsAlive(proc) {
		_ = os.Remove(pidPath)
		return fmt.Errorf("server process %d is not running (stale PID file removed)", pid)
	}

	fmt.Fprintf(out, "Stopping gatekeeper (PID %d, %s)...\n", pid, gracefulStopName)
	if err := sendGracefulStop(proc); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	if waitForExit(proc, stopTimeout) {
		_ = os.Remove(pidPath)
		fmt.Fprintln(out, "Server stopped.")
		return nil
	}

	fmt.Fprintf(out, "Server did not stop within %s, killing it...\n", stopTimeout)
	_ = proc.Kill()
	_ = os.Remove(pidPath)
	fmt.Fprintln(out, "Server killed.")
	return nil
}

// waitForExit polls until proc exits or timeout elapses.
func waitForExit(proc *os.Process, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		time.Sleep(stopPollInterval)
		if !processIsAlive(proc) {
			return true
		}
	}
	return false
}
