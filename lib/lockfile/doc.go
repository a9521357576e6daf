// Package lockfile implements a cross-process mutual exclusion primitive
// built entirely from portable filesystem operations. It provides a simple
// yet robust way to serialize access to a shared file between independent
// operating system processes, without assuming OS-level lock syscalls.
//
// Core Functionality:
//   - Lock acquisition bounded by a configurable timeout
//   - Automatic recovery of locks abandoned by crashed processes
//   - Automatic removal of corrupt lock state
//   - Scoped acquisition with guaranteed release on every exit path
//
// Implementation Approach:
//
//	A lock is bound to a target path and materialized as a marker file at
//	"<target>.lock". The existence of the marker is the lock state, its
//	content is the decimal process identifier of the owner. Acquisition
//	relies on a single atomicity primitive: publishing a fully written
//	pid file under the marker name via hard link, which fails if the
//	marker already exists. This makes name and content appear atomically,
//	so a marker is never observable without a valid owner pid. A
//	check-then-create pair is never used, since two processes can both
//	observe absence before either creates.
//
//	When the marker already exists, its content is inspected in a fixed
//	order before any waiting happens:
//
//	- Malformed content (anything that does not parse as a process
//	  identifier) marks the lock as corrupt. The marker is deleted and
//	  creation is retried immediately, consuming no wait time.
//
//	- A valid identifier whose process no longer exists (per the injected
//	  liveness.IOracle) marks the lock as stale, typically a holder that
//	  crashed between acquire and release. The marker is likewise deleted
//	  and creation retried immediately.
//
//	A dead marker is only deleted if its content still equals what was
//	observed when the reclaim decision was made. Two contenders may both
//	decide to reclaim the same marker; without that check the slower one
//	would delete the winner's freshly published marker.
//
//	- A valid identifier of a live process means genuine contention. A
//	  non-blocking acquire returns false right away. A blocking acquire
//	  polls in retry-interval steps until the configured timeout, then
//	  fails with *AcquisitionError.
//
//	Re-entrant acquisition on an already self-held lock is deliberately
//	not supported: the own marker is a live-owner marker like any other,
//	so a second blocking acquire on the same instance times out.
//
// Thread Safety:
//
//	One Lock instance may be shared between goroutines. State transitions
//	are serialized internally so that an instance can never believe it
//	holds the lock twice concurrently. Across processes the marker file is
//	the only coordination channel.
//
// Fairness:
//
//	None. Multiple blocked acquirers race on each retry tick, so FIFO
//	ordering is not promised. Only mutual exclusion and eventual progress
//	(once the holder releases or is detected stale) are guaranteed.
//
// Usage Example:
//
//	// Create a lock for a shared file with a one second timeout
//	lck := lockfile.New("/tmp/shared.json", time.Second)
//
//	// Guard a read-modify-write sequence
//	err := lck.WithLock(func() error {
//	    // the marker is held here, mutate the shared file
//	    return nil
//	})
//	if err != nil {
//	    // err is *AcquisitionError if the lock stayed contended
//	}
package lockfile
