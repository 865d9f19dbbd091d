//go:build windows

package service

import (
	"os"

	"golang.org/x/sys/windows"
)

// getFreeDiskSpace returns the bytes available to the caller at path,
// or 0 if path is not a readable directory.
func getFreeDiskSpace(path string) int64 {
	stat, err := os.Stat(path)
	if err != nil || !stat.IsDir() {
		return 0
	}

	ptr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0
	}

	var available, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(ptr, &available, &total, &totalFree); err != nil {
		return 0
	}

	return int64(available)
}
