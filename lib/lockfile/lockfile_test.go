package lockfile

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/ValentinKolb/fKV/lib/liveness"
)

// fakeOracle simulates a process table for stale-lock tests.
type fakeOracle struct {
	alive map[int]bool
}

func (f fakeOracle) Alive(pid int) bool {
	return f.alive[pid]
}

func testPaths(t *testing.T) (target, marker string) {
	t.Helper()
	target = filepath.Join(t.TempDir(), "myfile.txt")
	return target, target + MarkerSuffix
}

func TestMarkerLifecycle(t *testing.T) {
	target, marker := testPaths(t)
	lck := New(target, 200*time.Millisecond)

	if lck.Locked() {
		t.Error("Expected new lock to not be held")
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatalf("Expected no marker before acquire, stat err: %v", err)
	}

	acquired, err := lck.Acquire(true)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if !acquired || !lck.Locked() {
		t.Fatal("Expected lock to be held after acquire")
	}
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("Expected marker to exist while held: %v", err)
	}

	if err := lck.Release(); err != nil {
		t.Fatalf("Failed to release lock: %v", err)
	}
	if lck.Locked() {
		t.Error("Expected lock to not be held after release")
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Errorf("Expected marker to be removed after release, stat err: %v", err)
	}
}

func TestMarkerContainsExactPid(t *testing.T) {
	target, marker := testPaths(t)
	lck := New(target, 200*time.Millisecond)

	if _, err := lck.Acquire(true); err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer func() { _ = lck.Release() }()

	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("Failed to read marker: %v", err)
	}

	// Exactly the decimal pid, no newline, no extra whitespace.
	if want := strconv.Itoa(os.Getpid()); string(data) != want {
		t.Errorf("Expected marker content %q, got %q", want, data)
	}
}

func TestMalformedMarkerReclaimed(t *testing.T) {
	target, marker := testPaths(t)

	if err := os.WriteFile(marker, []byte("dean woz 'ere!"), 0o644); err != nil {
		t.Fatalf("Failed to plant malformed marker: %v", err)
	}

	lck := New(target, 200*time.Millisecond)
	acquired, err := lck.Acquire(true)
	if err != nil {
		t.Fatalf("Expected malformed marker to be reclaimed, got: %v", err)
	}
	if !acquired {
		t.Fatal("Expected lock to be acquired over malformed marker")
	}
	defer func() { _ = lck.Release() }()

	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("Failed to read marker: %v", err)
	}
	if want := strconv.Itoa(os.Getpid()); string(data) != want {
		t.Errorf("Expected marker to be replaced with own pid %q, got %q", want, data)
	}
}

func TestMarkerNeverObservedWithoutPid(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping concurrency test in short mode")
	}

	target, marker := testPaths(t)
	lck := New(target, time.Second)

	// A reader that ever sees a marker without a valid pid would reclaim
	// it as corrupt, so name and content must appear atomically.
	stop := make(chan struct{})
	bad := make(chan string, 1)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			data, err := os.ReadFile(marker)
			if err != nil {
				continue
			}
			if _, err := parsePid(string(data)); err != nil {
				select {
				case bad <- fmt.Sprintf("%q", data):
				default:
				}
				return
			}
		}
	}()

	for i := 0; i < 200; i++ {
		if _, err := lck.Acquire(true); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
		if err := lck.Release(); err != nil {
			t.Fatalf("Release %d failed: %v", i, err)
		}
	}
	close(stop)

	select {
	case content := <-bad:
		t.Errorf("Observed marker without a valid pid: %s", content)
	default:
	}
}

func TestReclaimSkipsReplacedMarker(t *testing.T) {
	target, marker := testPaths(t)

	oracle := fakeOracle{alive: map[int]bool{os.Getpid(): true}}
	lck := NewWithOracle(target, 200*time.Millisecond, 10*time.Millisecond, oracle).(*lockImpl)

	// What a contender observed before deciding to reclaim.
	observed := []byte("999999")

	// The marker has been replaced by a live competitor in the meantime.
	if err := os.WriteFile(marker, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatalf("Failed to plant marker: %v", err)
	}
	removed, err := lck.removeMarkerIfUnchanged(observed)
	if err != nil {
		t.Fatalf("Failed to run reclaim removal: %v", err)
	}
	if removed {
		t.Error("Expected replaced marker to not be removed")
	}
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("Expected replaced marker to survive: %v", err)
	}

	// An unchanged dead marker is removed.
	if err := os.WriteFile(marker, observed, 0o644); err != nil {
		t.Fatalf("Failed to plant stale marker: %v", err)
	}
	removed, err = lck.removeMarkerIfUnchanged(observed)
	if err != nil || !removed {
		t.Fatalf("Expected unchanged marker to be removed, got removed=%v err=%v", removed, err)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Errorf("Expected marker to be gone, stat err: %v", err)
	}
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	target, marker := testPaths(t)
	dir := filepath.Dir(target)

	lck := New(target, 200*time.Millisecond)
	if _, err := lck.Acquire(true); err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}

	// A contended non-blocking attempt must clean up after itself too.
	loser := New(target, 200*time.Millisecond)
	if acquired, err := loser.Acquire(false); err != nil || acquired {
		t.Fatalf("Expected contended acquire to fail cleanly, got acquired=%v err=%v", acquired, err)
	}

	assertDirContents(t, dir, filepath.Base(marker))

	if err := lck.Release(); err != nil {
		t.Fatalf("Failed to release lock: %v", err)
	}
	assertDirContents(t, dir)
}

// assertDirContents verifies that dir contains exactly the given entries.
func assertDirContents(t *testing.T, dir string, want ...string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to list %s: %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	sort.Strings(want)
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Errorf("Expected dir contents %v, got %v", want, names)
	}
}

func TestStaleMarkerReclaimed(t *testing.T) {
	target, marker := testPaths(t)

	// Plant a marker naming a pid the oracle reports as dead.
	stalePid := 999999
	if err := os.WriteFile(marker, []byte(strconv.Itoa(stalePid)), 0o644); err != nil {
		t.Fatalf("Failed to plant stale marker: %v", err)
	}

	oracle := fakeOracle{alive: map[int]bool{os.Getpid(): true}}
	lck := NewWithOracle(target, 200*time.Millisecond, 10*time.Millisecond, oracle)

	acquired, err := lck.Acquire(true)
	if err != nil {
		t.Fatalf("Expected stale marker to be reclaimed, got: %v", err)
	}
	if !acquired {
		t.Fatal("Expected lock to be acquired over stale marker")
	}
	defer func() { _ = lck.Release() }()

	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("Failed to read marker: %v", err)
	}
	if want := strconv.Itoa(os.Getpid()); string(data) != want {
		t.Errorf("Expected marker to be replaced with own pid %q, got %q", want, data)
	}
}

func TestStaleMarkerFromExitedProcess(t *testing.T) {
	target, marker := testPaths(t)

	// Spawn and reap a child, then plant its pid. The real oracle must
	// report it dead and the lock must recover within one timeout window.
	cmd := exec.Command(os.Args[0], "-test.run=TestHelperLockNoop")
	cmd.Env = append(os.Environ(), "LOCKFILE_HELPER=1")
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start helper process: %v", err)
	}
	exitedPid := cmd.Process.Pid
	if err := cmd.Wait(); err != nil {
		t.Fatalf("Helper process failed: %v", err)
	}

	if err := os.WriteFile(marker, []byte(strconv.Itoa(exitedPid)), 0o644); err != nil {
		t.Fatalf("Failed to plant stale marker: %v", err)
	}

	lck := New(target, time.Second)
	acquired, err := lck.Acquire(true)
	if err != nil {
		t.Fatalf("Expected stale marker to be reclaimed, got: %v", err)
	}
	if !acquired {
		t.Fatal("Expected lock to be acquired over stale marker")
	}
	_ = lck.Release()
}

func TestSelfReentrancyNotSupported(t *testing.T) {
	target, _ := testPaths(t)

	timeout := 200 * time.Millisecond
	retry := 20 * time.Millisecond
	lck := NewWithOracle(target, timeout, retry, liveness.New())

	if _, err := lck.Acquire(true); err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer func() { _ = lck.Release() }()

	// Non-blocking re-acquire returns false without error.
	acquired, err := lck.Acquire(false)
	if err != nil {
		t.Errorf("Non-blocking acquire must never fail on contention: %v", err)
	}
	if acquired {
		t.Error("Expected non-blocking re-acquire to return false")
	}

	// Blocking re-acquire times out with *AcquisitionError, bounded above
	// by timeout plus one retry interval (plus scheduling slack).
	start := time.Now()
	_, err = lck.Acquire(true)
	elapsed := time.Since(start)

	var acqErr *AcquisitionError
	if !errors.As(err, &acqErr) {
		t.Fatalf("Expected *AcquisitionError, got: %v", err)
	}
	if elapsed < timeout {
		t.Errorf("Timed out too early: %v < %v", elapsed, timeout)
	}
	if elapsed > timeout+retry+500*time.Millisecond {
		t.Errorf("Timed out too late: %v", elapsed)
	}
}

func TestReleaseNotHeldIsNoop(t *testing.T) {
	target, marker := testPaths(t)

	// A competitor's marker must survive a release by a non-owner.
	competitor := New(target, 200*time.Millisecond)
	if _, err := competitor.Acquire(true); err != nil {
		t.Fatalf("Failed to acquire competitor lock: %v", err)
	}
	defer func() { _ = competitor.Release() }()

	loser := New(target, 200*time.Millisecond)
	if acquired, _ := loser.Acquire(false); acquired {
		t.Fatal("Expected loser to not acquire held lock")
	}
	if err := loser.Release(); err != nil {
		t.Errorf("Release of unheld lock must be a no-op: %v", err)
	}

	if _, err := os.Stat(marker); err != nil {
		t.Errorf("Expected competitor's marker to survive foreign release: %v", err)
	}
}

func TestWithLockReleasesOnError(t *testing.T) {
	target, marker := testPaths(t)
	lck := New(target, 200*time.Millisecond)

	wantErr := errors.New("boom")
	err := lck.WithLock(func() error {
		if _, statErr := os.Stat(marker); statErr != nil {
			t.Errorf("Expected marker to exist inside WithLock: %v", statErr)
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Expected fn error to propagate, got: %v", err)
	}

	if lck.Locked() {
		t.Error("Expected lock to be released after failing fn")
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Errorf("Expected marker to be removed after failing fn, stat err: %v", err)
	}
}

func TestConcurrentWritersAreSerialized(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping concurrency test in short mode")
	}

	target, marker := testPaths(t)

	const (
		writers    = 5
		rounds     = 10
		lineLength = 20
	)

	done := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func(id int) {
			char := byte('1' + id)
			lck := New(target, 5*time.Second)
			for r := 0; r < rounds; r++ {
				err := lck.WithLock(func() error {
					return appendLineSlowly(target, char, lineLength)
				})
				if err != nil {
					done <- fmt.Errorf("writer %d round %d: %w", id, r, err)
					return
				}
			}
			done <- nil
		}(i)
	}

	for i := 0; i < writers; i++ {
		if err := <-done; err != nil {
			t.Fatal(err)
		}
	}

	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Errorf("Expected no marker after all writers finished, stat err: %v", err)
	}

	assertUniformLines(t, target, writers*rounds, lineLength)
}

func TestConcurrentProcessesAreSerialized(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping multi-process test in short mode")
	}

	target, marker := testPaths(t)

	const writers = 5

	cmds := make([]*exec.Cmd, 0, writers)
	for i := 0; i < writers; i++ {
		cmd := exec.Command(os.Args[0], "-test.run=TestHelperLockWriter")
		cmd.Env = append(os.Environ(),
			"LOCKFILE_HELPER=1",
			"LOCKFILE_TARGET="+target,
			"LOCKFILE_CHAR="+strconv.Itoa(i+1),
		)
		if err := cmd.Start(); err != nil {
			t.Fatalf("Failed to start writer process %d: %v", i, err)
		}
		cmds = append(cmds, cmd)
	}

	for i, cmd := range cmds {
		if err := cmd.Wait(); err != nil {
			t.Errorf("Writer process %d failed: %v", i, err)
		}
	}

	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Errorf("Expected no marker after all processes finished, stat err: %v", err)
	}

	assertUniformLines(t, target, writers*10, 20)
}

// TestHelperLockWriter is re-executed as an independent process by
// TestConcurrentProcessesAreSerialized. It appends 10 single-character
// lines to the shared target file, each write guarded by the lock.
func TestHelperLockWriter(t *testing.T) {
	if os.Getenv("LOCKFILE_HELPER") != "1" {
		t.Skip()
	}

	target := os.Getenv("LOCKFILE_TARGET")
	id, err := strconv.Atoi(os.Getenv("LOCKFILE_CHAR"))
	if err != nil {
		t.Fatalf("Invalid LOCKFILE_CHAR: %v", err)
	}
	char := byte('0' + id)

	lck := New(target, 5*time.Second)
	for r := 0; r < 10; r++ {
		err := lck.WithLock(func() error {
			return appendLineSlowly(target, char, 20)
		})
		if err != nil {
			t.Fatalf("Round %d: %v", r, err)
		}
	}
}

// TestHelperLockNoop is re-executed as a child process that exits
// immediately, providing a genuinely dead pid.
func TestHelperLockNoop(t *testing.T) {
	if os.Getenv("LOCKFILE_HELPER") != "1" {
		t.Skip()
	}
}

// appendLineSlowly writes a line of repeated characters byte by byte so
// that unserialized writers would visibly interleave.
func appendLineSlowly(target string, char byte, length int) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	for i := 0; i < length; i++ {
		if _, err := f.Write([]byte{char}); err != nil {
			return err
		}
	}
	_, err = f.Write([]byte{'\n'})
	return err
}

// assertUniformLines verifies that every line in the target file consists
// of a single repeated character, proving no interleaved writes occurred.
func assertUniformLines(t *testing.T, target string, wantLines, lineLength int) {
	t.Helper()

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("Failed to read target file: %v", err)
	}

	lines := 0
	for _, line := range splitLines(data) {
		lines++
		if len(line) != lineLength {
			t.Errorf("Line %d has length %d, want %d: %q", lines, len(line), lineLength, line)
			continue
		}
		for _, c := range line {
			if c != line[0] {
				t.Errorf("Line %d contains mixed characters: %q", lines, line)
				break
			}
		}
	}

	if lines != wantLines {
		t.Errorf("Expected %d lines, got %d", wantLines, lines)
	}
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, c := range data {
		if c == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
