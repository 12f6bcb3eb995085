//go:build windows

package cmd

import (
	"os"
	"os/exec"
)

func detach(*exec.Cmd) {}

// processAlive relies on FindProcess opening a handle, which fails for
// processes that have exited.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}

func terminate(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
