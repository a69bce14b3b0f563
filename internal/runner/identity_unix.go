//go:build unix

package runner

import (
	"os/exec"
	"syscall"
)

// setIdentity configures the child to run as the requested uid/gid in its
// own process group. Setting the credential alone is not enough: without a
// fresh process group (the persona attribute on this platform) the identity
// switch is silently ineffective from inside the app sandbox, and there is
// no group to signal when a run is cancelled. Cancellation therefore kills
// the whole group, which also unblocks the pipe readers promptly.
func setIdentity(cmd *exec.Cmd, identity Identity) {
	attr := &syscall.SysProcAttr{Setpgid: true}
	if identity.UID > 0 || identity.GID > 0 {
		attr.Credential = &syscall.Credential{
			Uid: uint32(identity.UID),
			Gid: uint32(identity.GID),
		}
	}
	cmd.SysProcAttr = attr
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative pid addresses the process group created above.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
