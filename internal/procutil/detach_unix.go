//go:build unix

package procutil

import (
	"os/exec"
	"syscall"
)

// Detach places cmd in its own process group so terminal signals aimed at
// the daemon (Ctrl+C, SIGHUP on logout of the launching shell) do not reach it.
// Preserves any existing SysProcAttr fields that were set before this call.
func Detach(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
	clearStdio(cmd)
}
