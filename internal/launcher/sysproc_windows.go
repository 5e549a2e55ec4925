//go:build windows

package launcher

import (
	"os"
	"syscall"
)

func newSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// signalTerm has no graceful equivalent on Windows; kill immediately.
func signalTerm(p *os.Process) error {
	return p.Kill()
}

func killProcess(p *os.Process) {
	_ = p.Kill()
}
