//go:build !windows

package launcher

import (
	"os"
	"syscall"
)

// newSysProcAttr starts the agent in its own session so it has no
// controlling TTY and the whole process group can be signaled together.
func newSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setsid: true,
	}
}

// signalTerm asks the agent's process group to shut down gracefully.
func signalTerm(p *os.Process) error {
	return syscall.Kill(-p.Pid, syscall.SIGTERM)
}

// killProcess forcibly kills the agent's process group.
func killProcess(p *os.Process) {
	_ = syscall.Kill(-p.Pid, syscall.SIGKILL)
}
