package lockfile

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/fKV/lib/liveness"
	"github.com/VictoriaMetrics/metrics"
)

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

var (
	metricAcquired  = metrics.GetOrCreateCounter("fkv_lock_acquired_total")
	metricTimeouts  = metrics.GetOrCreateCounter("fkv_lock_timeouts_total")
	metricMalformed = metrics.GetOrCreateCounter("fkv_lock_malformed_reclaimed_total")
	metricStale     = metrics.GetOrCreateCounter("fkv_lock_stale_reclaimed_total")
)

// --------------------------------------------------------------------------
// Lock Implementation
// --------------------------------------------------------------------------

type lockImpl struct {
	targetPath    string
	markerPath    string
	timeout       time.Duration
	retryInterval time.Duration
	oracle        liveness.IOracle
	pid           int

	mu         sync.Mutex // guards heldBySelf and individual acquire attempts
	heldBySelf bool
}

// New creates a lock for the given target path (which does not need to
// exist) with the given blocking-acquire timeout. A non-positive timeout
// selects DefaultTimeout.
func New(targetPath string, timeout time.Duration) ILock {
	return NewWithOracle(targetPath, timeout, DefaultRetryInterval, liveness.New())
}

// NewWithOracle is like New but with an explicit retry interval and
// liveness oracle. It is mainly useful for testing stale-lock recovery
// with a fake process table.
func NewWithOracle(targetPath string, timeout, retryInterval time.Duration, oracle liveness.IOracle) ILock {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}
	return &lockImpl{
		targetPath:    targetPath,
		markerPath:    targetPath + MarkerSuffix,
		timeout:       timeout,
		retryInterval: retryInterval,
		oracle:        oracle,
		pid:           os.Getpid(),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see lockfile/interface.go)
// --------------------------------------------------------------------------

func (l *lockImpl) Acquire(blocking bool) (bool, error) {
	start := time.Now()

	for {
		// Reclaim a marker that is corrupt or owned by a dead process
		// before attempting creation. This consumes no wait time.
		if err := l.reclaimDeadMarker(); err != nil {
			return false, err
		}

		created, err := l.tryCreateMarker()
		if err != nil {
			return false, err
		}
		if created {
			metricAcquired.Inc()
			return true, nil
		}

		// The marker belongs to a live process. This includes our own
		// pid: re-entrant acquisition is contention like any other.
		if !blocking {
			return false, nil
		}
		if time.Since(start) >= l.timeout {
			metricTimeouts.Inc()
			return false, &AcquisitionError{Path: l.markerPath, Timeout: l.timeout}
		}

		time.Sleep(l.retryInterval)
	}
}

func (l *lockImpl) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.heldBySelf {
		// Never delete a marker this instance does not own. A competitor
		// may have created it after our own attempt failed.
		return nil
	}

	l.heldBySelf = false
	if err := os.Remove(l.markerPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (l *lockImpl) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.heldBySelf
}

func (l *lockImpl) WithLock(fn func() error) (err error) {
	if _, err = l.Acquire(true); err != nil {
		return err
	}

	defer func() {
		if releaseErr := l.Release(); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}()

	return fn()
}

// --------------------------------------------------------------------------
// Internal Helpers
// --------------------------------------------------------------------------

// tryCreateMarker attempts the one atomic step of the whole design:
// publishing a marker file containing our pid, failing if one already
// exists. Returns false without error if the marker already exists.
//
// The marker must never be observable without its pid content: a
// competitor reading a half-created marker would reclaim it as corrupt
// and both sides would end up holding the lock. The pid is therefore
// written to a private temp file first and published under the marker
// name via a hard link, which fails if the marker exists.
//
// Thread-safety: acquire attempts within this instance are serialized so
// that the instance cannot believe it holds the lock twice concurrently.
func (l *lockImpl) tryCreateMarker() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(l.markerPath), ".marker-*")
	if err != nil {
		return false, err
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	// The marker attests the owner: exactly the decimal pid, no newline.
	if _, err = tmp.WriteString(strconv.Itoa(l.pid)); err != nil {
		_ = tmp.Close()
		return false, err
	}
	if err = tmp.Close(); err != nil {
		return false, err
	}
	if err = os.Chmod(tmpPath, 0o644); err != nil {
		return false, err
	}

	if err = os.Link(tmpPath, l.markerPath); err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}

	l.heldBySelf = true
	return true, nil
}

// reclaimDeadMarker inspects an existing marker and removes it when its
// content is malformed or names a process that no longer exists. The check
// order is fixed: parse failure before liveness failure before "genuinely
// held" - a malformed marker must never be mistaken for a live owner.
func (l *lockImpl) reclaimDeadMarker() error {
	data, err := os.ReadFile(l.markerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	pid, parseErr := parsePid(string(data))
	if parseErr == nil && l.oracle.Alive(pid) {
		// Genuinely held (possibly by ourselves).
		return nil
	}

	removed, err := l.removeMarkerIfUnchanged(data)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	if parseErr != nil {
		metricMalformed.Inc()
	} else {
		metricStale.Inc()
	}
	return nil
}

// removeMarkerIfUnchanged deletes the marker only if its content still
// equals the previously observed content. Two contenders can decide to
// reclaim the same dead marker; the slower one must not delete the
// winner's freshly published marker.
func (l *lockImpl) removeMarkerIfUnchanged(observed []byte) (bool, error) {
	current, err := os.ReadFile(l.markerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if !bytes.Equal(current, observed) {
		return false, nil
	}
	if err := os.Remove(l.markerPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// parsePid parses marker content as a process identifier. Trailing
// whitespace from foreign writers is tolerated, anything else is corrupt.
func parsePid(content string) (int, error) {
	pid, err := strconv.Atoi(strings.TrimSpace(content))
	if err != nil {
		return 0, err
	}
	if pid <= 0 {
		return 0, strconv.ErrRange
	}
	return pid, nil
}
