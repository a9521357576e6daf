package liveness

import (
	"os"
	"os/exec"
	"testing"
)

func TestAliveSelf(t *testing.T) {
	oracle := New()

	if !oracle.Alive(os.Getpid()) {
		t.Errorf("Expected own pid %d to be alive", os.Getpid())
	}
}

func TestAliveInvalidPids(t *testing.T) {
	oracle := New()

	for _, pid := range []int{0, -1, -42} {
		if oracle.Alive(pid) {
			t.Errorf("Expected pid %d to never be alive", pid)
		}
	}
}

func TestAliveExitedProcess(t *testing.T) {
	// Spawn a short-lived child and wait for it, then its pid must no
	// longer refer to a live process (it is fully reaped by Wait).
	cmd := exec.Command(os.Args[0], "-test.run=TestHelperNoop")
	cmd.Env = append(os.Environ(), "LIVENESS_HELPER=1")
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start helper process: %v", err)
	}

	pid := cmd.Process.Pid
	if err := cmd.Wait(); err != nil {
		t.Fatalf("Helper process failed: %v", err)
	}

	oracle := New()
	if oracle.Alive(pid) {
		t.Errorf("Expected exited pid %d to be reported dead", pid)
	}
}

// TestHelperNoop is re-executed as a child process by TestAliveExitedProcess.
func TestHelperNoop(t *testing.T) {
	if os.Getenv("LIVENESS_HELPER") != "1" {
		t.Skip()
	}
}
