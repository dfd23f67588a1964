package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

const (
	defaultCommandTimeout = 30 * time.Second
	errorOutputLimit      = 512
	// killGrace bounds how long Wait may linger on the output pipes after
	// the process group has been killed.
	killGrace = time.Second
)

// Runner abstracts process presence checks and corrective shell commands so
// the prober and executor can be tested without touching the host.
type Runner interface {
	// Exists reports whether a process matching the pattern is running.
	Exists(ctx context.Context, pattern string) (bool, error)
	// Run executes a shell command and waits for it to finish.
	Run(ctx context.Context, command string) error
}

// ShellRunner implements Runner with pgrep and sh -c.
type ShellRunner struct {
	timeout time.Duration
}

// NewShellRunner returns a runner with the given per-command timeout.
func NewShellRunner(timeout time.Duration) *ShellRunner {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return &ShellRunner{timeout: timeout}
}

// Exists implements Runner. pgrep exit status 1 means no match; anything
// above 1 is a real failure.
func (r *ShellRunner) Exists(ctx context.Context, pattern string) (bool, error) {
	if pattern == "" {
		return false, errors.New("empty process pattern")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "pgrep", "-f", pattern)
	cmd.WaitDelay = killGrace
	err := cmd.Run()
	if err == nil {
		return true, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("pgrep -f %q: %w", pattern, err)
}

// Run implements Runner. Failure includes the tail of combined output.
func (r *ShellRunner) Run(ctx context.Context, command string) error {
	if command == "" {
		return errors.New("empty command")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	// Start commands may background descendants (autossh, nohup) that
	// inherit the output pipes and outlive the shell. Kill the whole
	// process group on timeout, and let WaitDelay abandon the pipes any
	// surviving descendant still holds open.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killGrace

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(output.String())
		if len(detail) > errorOutputLimit {
			detail = detail[len(detail)-errorOutputLimit:]
		}
		if detail != "" {
			return fmt.Errorf("command failed: %w (%s)", err, detail)
		}
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}
