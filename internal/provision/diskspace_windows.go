//go:build windows

package provision

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// CheckDiskSpace verifies that dir's volume has at least requiredBytes
// available to the calling user. Callers add their own safety margin.
func CheckDiskSpace(dir string, requiredBytes int64) error {
	p, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return fmt.Errorf("encode path %s: %w", dir, err)
	}
	var freeToCaller, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(p, &freeToCaller, &total, &totalFree); err != nil {
		return fmt.Errorf("query free space %s: %w", dir, err)
	}
	if int64(freeToCaller) < requiredBytes {
		return &Error{
			Kind:      KindDiskSpace,
			Op:        "preflight " + dir,
			Available: int64(freeToCaller),
			Required:  requiredBytes,
		}
	}
	return nil
}
