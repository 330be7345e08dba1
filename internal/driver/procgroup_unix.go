//go:build unix

package driver

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// inProcessGroup starts cmd as a process group leader and kills the whole
// group on cancellation.
func inProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = waitDelay
}
