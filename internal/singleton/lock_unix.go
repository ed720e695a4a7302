//go:build !windows

package singleton

import (
	"golang.org/x/sys/unix"
)

// flockExclusive takes a non-blocking exclusive advisory lock on fd.
// Returns ErrAlreadyRunning if another process already holds it.
func flockExclusive(fd int) error {
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if err == unix.EWOULDBLOCK {
			return ErrAlreadyRunning
		}
		return err
	}
	return nil
}

func flockRelease(fd int) error {
	return unix.Flock(fd, unix.LOCK_UN)
}
