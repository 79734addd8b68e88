//go:build windows

package terminal

import "os"

func hangup(proc *os.Process) error {
	if proc == nil {
		return nil
	}
	return proc.Kill()
}

func forceKill(proc *os.Process) error {
	if proc == nil {
		return nil
	}
	return proc.Kill()
}

func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	return state.ExitCode()
}
