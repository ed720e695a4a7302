//go:build !windows

package singleton

import (
	"errors"
	"os"
	"syscall"
)

// processAlive reports whether pid identifies a live process, by
// sending it signal 0 (which performs existence/permission checks
// without actually signaling).
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		// EPERM means the process exists but we can't signal it; ESRCH
		// means it's gone.
		return errno == syscall.EPERM
	}
	return false
}
