//go:build !windows

package provision

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// CheckDiskSpace verifies that dir's filesystem has at least requiredBytes
// available to an unprivileged writer. Callers add their own safety margin.
func CheckDiskSpace(dir string, requiredBytes int64) error {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return fmt.Errorf("statfs %s: %w", dir, err)
	}
	available := int64(st.Bavail) * int64(st.Bsize)
	if available < requiredBytes {
		return &Error{
			Kind:      KindDiskSpace,
			Op:        "preflight " + dir,
			Available: available,
			Required:  requiredBytes,
		}
	}
	return nil
}
