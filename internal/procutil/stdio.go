package procutil

import "os/exec"

// clearStdio drops inherited stdio; exec connects nil streams to the null device.
func clearStdio(cmd *exec.Cmd) {
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
}
