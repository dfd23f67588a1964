package proc

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestExists_NoMatchIsFalseNotError(t *testing.T) {
	runner := NewShellRunner(5 * time.Second)
	exists, err := runner.Exists(context.Background(), "node-warden-no-such-process-1f2e3d")
	if err != nil {
		t.Fatalf("no match must not be an error: %v", err)
	}
	if exists {
		t.Fatalf("expected no match")
	}
}

func TestExists_EmptyPatternRejected(t *testing.T) {
	runner := NewShellRunner(5 * time.Second)
	if _, err := runner.Exists(context.Background(), ""); err == nil {
		t.Fatalf("expected an error for an empty pattern")
	}
}

func TestRun_Succeeds(t *testing.T) {
	runner := NewShellRunner(5 * time.Second)
	if err := runner.Run(context.Background(), "true"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRun_FailureCarriesOutput(t *testing.T) {
	runner := NewShellRunner(5 * time.Second)
	err := runner.Run(context.Background(), "echo broken pipe >&2; exit 3")
	if err == nil {
		t.Fatalf("expected a failure")
	}
	if !strings.Contains(err.Error(), "broken pipe") {
		t.Fatalf("expected command output in the error, got %v", err)
	}
}

func TestRun_TimeoutKillsCommand(t *testing.T) {
	runner := NewShellRunner(50 * time.Millisecond)
	start := time.Now()
	err := runner.Run(context.Background(), "sleep 5")
	if err == nil {
		t.Fatalf("expected a timeout failure")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("command was not killed by the timeout")
	}
}

func TestRun_TimeoutKillsBackgroundedChildren(t *testing.T) {
	runner := NewShellRunner(50 * time.Millisecond)
	start := time.Now()
	// the backgrounded sleep inherits the output pipes and would keep
	// Run blocked long past the timeout if only the shell were killed
	err := runner.Run(context.Background(), "sleep 30 & sleep 30")
	if err == nil {
		t.Fatalf("expected a timeout failure")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("backgrounded child held the command open for %s", elapsed)
	}
}
