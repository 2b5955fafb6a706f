//go:build windows

package mcp

import (
	"os/exec"
	"syscall"
)

// setProcAttr creates the provider in a new process group, mirroring the
// unix Setpgid isolation.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// signalTerm has no portable SIGTERM on Windows; closing stdin (done by the
// caller) is the graceful request, and Kill is the escalation.
func signalTerm(cmd *exec.Cmd) {}
