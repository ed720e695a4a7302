//go:build windows

package singleton

import (
	"golang.org/x/sys/windows"
)

// processAlive reports whether pid identifies a live process.
func processAlive(pid int) bool {
	const queryLimitedInfo = 0x1000
	handle, err := windows.OpenProcess(queryLimitedInfo, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false
	}
	const stillActive = 259
	return exitCode == stillActive
}
