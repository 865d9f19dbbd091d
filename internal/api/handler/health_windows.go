//go:build windows

package handler

import "golang.org/x/sys/windows"

// getDiskStats returns usage of the volume holding path.
func getDiskStats(path string) (total, free, used int64, usedPct float64) {
	ptr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return
	}
	var available, totalBytes, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(ptr, &available, &totalBytes, &totalFree); err != nil {
		return
	}
	total = int64(totalBytes)
	free = int64(available)
	used = total - int64(totalFree)
	if total > 0 {
		usedPct = float64(used) / float64(total) * 100
	}
	return
}

// getCPUUsage is not tracked on Windows.
func getCPUUsage() float64 {
	return 0
}
