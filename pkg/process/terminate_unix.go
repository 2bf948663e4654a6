//go:build !windows

package process

import (
	"os"
	"syscall"
)

// SendTerminationSignal sends SIGTERM to the process group of p.
func SendTerminationSignal(p *os.Process) error {
	return signalGroup(p, syscall.SIGTERM)
}

// SendKillSignal sends SIGKILL to the process group of p.
func SendKillSignal(p *os.Process) error {
	return signalGroup(p, syscall.SIGKILL)
}

func signalGroup(p *os.Process, sig syscall.Signal) error {
	err := syscall.Kill(-p.Pid, sig)
	if err == syscall.ESRCH {
		// group already gone, fall back to the leader itself
		return p.Signal(sig)
	}
	return err
}
