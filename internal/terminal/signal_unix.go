//go:build !windows

package terminal

import (
	"os"
	"syscall"
)

// hangup signals the whole process group. pty.Start makes the shell a session
// leader, so its pid is also its group id.
func hangup(proc *os.Process) error {
	if proc == nil {
		return nil
	}
	return syscall.Kill(-proc.Pid, syscall.SIGHUP)
}

func forceKill(proc *os.Process) error {
	if proc == nil {
		return nil
	}
	if err := syscall.Kill(-proc.Pid, syscall.SIGKILL); err != nil {
		return proc.Kill()
	}
	return nil
}

// exitStatus reports the exit code, or 128+signal for a signal death.
func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
