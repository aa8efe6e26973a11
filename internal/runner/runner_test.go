package runner

import (
	"os/exec"
	"testing"
	"time"
)

func TestCombinedOutputTimeoutNoTimeout(t *testing.T) {
	cmd := exec.Command("echo", "hello")
	out, err, timedOut := combinedOutputTimeout(cmd, 0)
	if err != nil {
		t.Fatal(err)
	}
	if timedOut {
		t.Error("should not report a timeout when disabled")
	}
	if string(out) != "hello\n" {
		t.Errorf("output = %q, want %q", out, "hello\n")
	}
}

func TestCombinedOutputTimeoutKillsSlowProcess(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	_, _, timedOut := combinedOutputTimeout(cmd, 50*time.Millisecond)
	if !timedOut {
		t.Error("expected a slow process to be reported as timed out")
	}
}

func TestCombinedOutputTimeoutStartError(t *testing.T) {
	cmd := exec.Command("definitely-not-a-real-binary-xyz")
	_, err, _ := combinedOutputTimeout(cmd, time.Second)
	if err == nil {
		t.Fatal("expected an error for a nonexistent binary")
	}
}
