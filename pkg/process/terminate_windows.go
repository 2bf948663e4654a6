//go:build windows

package process

import (
	"os"
)

// SendTerminationSignal ends p. Windows has no SIGTERM for non-console
// children, so this is TerminateProcess like SendKillSignal.
func SendTerminationSignal(p *os.Process) error {
	return p.Kill()
}

// SendKillSignal ends p unconditionally.
func SendKillSignal(p *os.Process) error {
	return p.Kill()
}
