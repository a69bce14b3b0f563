//go:build !unix

package runner

import "os/exec"

// Identity switching is a unix concern; elsewhere the child inherits the
// daemon's identity and cancellation relies on exec.CommandContext alone.
func setIdentity(_ *exec.Cmd, _ Identity) {}
