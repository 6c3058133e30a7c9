//go:build !unix

package sandbox

import "os/exec"

func setProcessGroup(*exec.Cmd) {}

// Without process groups there is no graceful signal to send.
func terminate(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func kill(*exec.Cmd) {}
