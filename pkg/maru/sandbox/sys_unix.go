//go:build !windows

package sandbox

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the child in its own process group so the whole tree
// can be signalled at once.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup signals the process group (negative pid). SIGTERM by
// default; SIGKILL when force is set.
func killProcessGroup(pid int, force bool) error {
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	if err := syscall.Kill(-pid, sig); err != nil {
		// Fall back to the single process if the group is gone.
		return syscall.Kill(pid, sig)
	}
	return nil
}
