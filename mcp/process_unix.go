//go:build !windows

package mcp

import (
	"os/exec"
	"syscall"
)

// setProcAttr puts the provider in its own process group so signals sent to
// it never propagate to the orchestrator.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalTerm asks the provider's process group to exit.
func signalTerm(cmd *exec.Cmd) {
	// Negative pid targets the group created by Setpgid.
	syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
}
