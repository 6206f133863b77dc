package provision

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable class of a provisioning failure.
type Kind string

const (
	// KindTransient covers network interruptions worth retrying.
	KindTransient Kind = "transient"
	// KindHTTPStatus covers definitive HTTP failures (4xx/5xx).
	KindHTTPStatus Kind = "http_status"
	// KindCancelled covers cooperative cancellation.
	KindCancelled Kind = "cancelled"
	// KindDiskSpace covers insufficient free space, detected up front.
	KindDiskSpace Kind = "disk_space"
	// KindCorrupt covers artifacts that arrived but are not plausible.
	KindCorrupt Kind = "corrupt"
)

// Error is a classified provisioning failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error

	// Populated for KindDiskSpace.
	Available int64
	Required  int64

	// Populated for KindHTTPStatus.
	StatusCode int
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindDiskSpace:
		return fmt.Sprintf("%s: insufficient disk space: %d bytes available, %d required", e.Op, e.Available, e.Required)
	case KindHTTPStatus:
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Op, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure class from an error chain.
// Unclassified errors report as transient only if the chain says so.
func KindOf(err error) (Kind, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind, true
	}
	return "", false
}
