//go:build !windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

// setupProcessAttributes puts the child in its own process group so a terminal
// Ctrl+C reaches only the launcher, which then forwards exactly one signal.
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// sendTerminationSignal sends SIGTERM to the process group (negative PID)
func sendTerminationSignal(process *os.Process) error {
	if err := syscall.Kill(-process.Pid, syscall.SIGTERM); err != nil {
		if err == syscall.ESRCH {
			return os.ErrProcessDone
		}
		return err
	}
	return nil
}

// killProcessGroup sends SIGKILL to the whole process group
func killProcessGroup(process *os.Process) error {
	if err := syscall.Kill(-process.Pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return err
	}
	return nil
}

func terminatingSignal(state *os.ProcessState) (string, int, bool) {
	status, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() {
		return "", 0, false
	}
	sig := status.Signal()
	return sig.String(), int(sig), true
}
