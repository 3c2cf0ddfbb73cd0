//go:build !unix

package tasks

import "os/exec"

// killProcessGroup leaves the default cancellation in place; [exec.Cmd.WaitDelay] bounds the wait for output.
func killProcessGroup(cmd *exec.Cmd) {}
