// Package cmdexec runs external commands for the backup services.
package cmdexec

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	// Execute runs a command and returns its stdout.
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
	// ExecuteIn runs a command inside dir and returns its stdout.
	ExecuteIn(ctx context.Context, dir, name string, args ...string) ([]byte, error)
	// Stream runs a command inside dir, copying stdout and stderr to out as
	// they are produced. The captured stdout is returned as well.
	Stream(ctx context.Context, dir string, out io.Writer, name string, args ...string) ([]byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Execute runs a command and returns its stdout.
func (e *DefaultExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	return e.ExecuteIn(ctx, "", name, args...)
}

// ExecuteIn runs a command inside dir and returns its stdout.
func (e *DefaultExecutor) ExecuteIn(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204
	cmd.Dir = dir
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return out, wrap(err, name, args, stderr.String())
	}
	return out, nil
}

// Stream runs a command inside dir and tees its output to out.
func (e *DefaultExecutor) Stream(ctx context.Context, dir string, out io.Writer, name string, args ...string) ([]byte, error) {
	var stdout bytes.Buffer
	shared := &lockedWriter{w: out}
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204
	cmd.Dir = dir
	cmd.Stdout = io.MultiWriter(&stdout, shared)
	cmd.Stderr = shared

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), wrap(err, name, args, "")
	}
	return stdout.Bytes(), nil
}

// lockedWriter serializes writes from the stdout and stderr copy goroutines.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func wrap(err error, name string, args []string, stderr string) error {
	line := CommandLine(name, args...)
	if msg := strings.TrimSpace(stderr); msg != "" {
		return errors.Wrapf(err, "%s: %s", line, msg)
	}
	return errors.Wrap(err, line)
}

// CommandLine renders a command for logs and error messages.
func CommandLine(name string, args ...string) string {
	return strings.Join(append([]string{name}, args...), " ")
}

// ExitCode returns the exit status carried by err, or -1 when err did not
// come from a process that exited.
func ExitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
