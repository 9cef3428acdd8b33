//go:build windows

package subprocess

import (
	"os"
	"os/exec"
)

func configureProcess(*exec.Cmd) {}

// Windows has no SIGTERM for child processes; the grace period is skipped.
func terminate(proc *os.Process) error {
	return signalProcess(proc, os.Kill)
}

func kill(proc *os.Process) error {
	return signalProcess(proc, os.Kill)
}
