//go:build !windows

package subprocess

import (
	stderrors "errors"
	"os"
	"os/exec"
	"syscall"
)

// configureProcess starts the agent in its own process group so Close also
// reaches the tools it spawned.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminate(proc *os.Process) error {
	return signalGroup(proc, syscall.SIGTERM)
}

func kill(proc *os.Process) error {
	return signalGroup(proc, syscall.SIGKILL)
}

// signalGroup signals the process group led by proc. A group that is already
// gone counts as success. If the group cannot be signalled, only proc is.
func signalGroup(proc *os.Process, sig syscall.Signal) error {
	err := syscall.Kill(-proc.Pid, sig)
	if err == nil || stderrors.Is(err, syscall.ESRCH) {
		return nil
	}

	return signalProcess(proc, sig)
}
