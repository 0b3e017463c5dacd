//go:build windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

const ctrlBreakEvent = 1

var procGenerateConsoleCtrlEvent = syscall.NewLazyDLL("kernel32.dll").NewProc("GenerateConsoleCtrlEvent")

// setupProcessAttributes isolates the child in a new process group so it can
// be sent CTRL_BREAK without affecting the launcher's console handling.
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// sendTerminationSignal sends CTRL_BREAK to the child's group, killing it if that fails
func sendTerminationSignal(process *os.Process) error {
	r, _, err := procGenerateConsoleCtrlEvent.Call(ctrlBreakEvent, uintptr(process.Pid))
	if r == 0 {
		if killErr := process.Kill(); killErr != nil {
			return err
		}
	}
	return nil
}

func killProcessGroup(process *os.Process) error {
	if err := process.Kill(); err != nil && err != os.ErrProcessDone {
		return err
	}
	return nil
}

func terminatingSignal(state *os.ProcessState) (string, int, bool) {
	return "", 0, false
}
