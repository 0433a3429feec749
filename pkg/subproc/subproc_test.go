package subproc

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestNewMissingTool(t *testing.T) {
	if _, err := New("definitely-not-a-real-tool-xyz"); err == nil {
		t.Fatal("expected error for missing tool")
	}
}

func TestRunCapturesOutput(t *testing.T) {
	r, err := New("sh")
	if err != nil {
		t.Skipf("sh not available: %v", err)
	}
	res, err := r.Run(context.Background(), "-c", "echo hello; echo world 1>&2")
	if err != nil {
		t.Fatalf("run failed: %v (output: %s)", err, res.Output)
	}
	if !strings.Contains(res.Output, "hello") || !strings.Contains(res.Output, "world") {
		t.Errorf("expected combined output, got %q", res.Output)
	}
}

func TestRunDeadlineTerminates(t *testing.T) {
	r, err := New("sh")
	if err != nil {
		t.Skipf("sh not available: %v", err)
	}
	r.SetGrace(500 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := r.Run(ctx, "-c", "sleep 30")
	if err == nil {
		t.Fatal("expected error from terminated process")
	}
	if !res.TimedOut {
		t.Error("expected TimedOut to be set")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("termination took too long: %v", elapsed)
	}
}

func TestRunStreamingLines(t *testing.T) {
	r, err := New("sh")
	if err != nil {
		t.Skipf("sh not available: %v", err)
	}
	var lines []string
	_, err = r.RunStreaming(context.Background(), func(s string) { lines = append(lines, s) },
		"-c", "printf 'a\\nb\\rc\\n'")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %v", len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: expected %q, got %q", i, want[i], lines[i])
		}
	}
}
