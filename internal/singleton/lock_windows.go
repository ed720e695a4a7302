//go:build windows

package singleton

import (
	"golang.org/x/sys/windows"
)

// flockExclusive takes a non-blocking exclusive lock on fd via
// LockFileEx, the Windows equivalent of flock(LOCK_EX|LOCK_NB).
func flockExclusive(fd int) error {
	handle := windows.Handle(fd)
	ol := new(windows.Overlapped)
	err := windows.LockFileEx(handle, windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, ol)
	if err != nil {
		if err == windows.ERROR_LOCK_VIOLATION {
			return ErrAlreadyRunning
		}
		return err
	}
	return nil
}

func flockRelease(fd int) error {
	handle := windows.Handle(fd)
	ol := new(windows.Overlapped)
	return windows.UnlockFileEx(handle, 0, 1, 0, ol)
}
