//go:build windows

package daemonboot

import (
	"os/exec"
	"syscall"
)

// configureDaemonAttrs detaches the child into its own process group,
// without a console window, so it survives the parent's exit.
func configureDaemonAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | 0x08000000,
	}
}
