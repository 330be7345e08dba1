//go:build !unix

package driver

import "os/exec"

func inProcessGroup(cmd *exec.Cmd) {
	cmd.WaitDelay = waitDelay
}
