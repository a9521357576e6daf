package lockfile

import (
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// ILock is the interface for a filesystem-backed cross-process lock.
// A lock is bound to a target path; the marker file at "<target>.lock"
// represents the lock state on disk.
type ILock interface {
	// Acquire attempts to take the lock. In non-blocking mode it returns
	// immediately with false on contention and never returns an
	// *AcquisitionError. In blocking mode it polls until the configured
	// timeout and then returns an *AcquisitionError. Filesystem failures
	// are returned in both modes.
	Acquire(blocking bool) (acquired bool, err error)

	// Release deletes the marker if and only if this instance owns it.
	// Releasing a lock that is not self-held is a no-op.
	Release() error

	// Locked reports whether this instance currently holds the lock.
	Locked() bool

	// WithLock runs fn while holding the lock (blocking acquire with the
	// configured timeout) and guarantees release on every exit path.
	// This is the preferred way to guard read-modify-write sequences.
	WithLock(fn func() error) error
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// AcquisitionError is returned by a blocking Acquire that exceeded its
// timeout while the marker remained held by a live process.
type AcquisitionError struct {
	Path    string        // The marker path that stayed contended
	Timeout time.Duration // The timeout that was exceeded
}

// Error implements the error interface.
func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("lock acquisition failed: %s still held after %v", e.Path, e.Timeout)
}

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	// MarkerSuffix is appended to the target path to form the marker path.
	MarkerSuffix = ".lock"

	// DefaultTimeout bounds blocking acquisition when no explicit timeout
	// is configured.
	DefaultTimeout = 3 * time.Second

	// DefaultRetryInterval is the polling period between acquisition
	// attempts while blocked. There is no wakeup signal on release, so
	// acquisition latency is bounded below by this interval.
	DefaultRetryInterval = 50 * time.Millisecond
)
