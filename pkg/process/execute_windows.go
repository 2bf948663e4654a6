//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

// setupProcessAttributes keeps console control events aimed at us away from
// the driver.
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
