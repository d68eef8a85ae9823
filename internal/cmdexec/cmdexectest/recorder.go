// Package cmdexectest provides a recording CommandExecutor for tests.
package cmdexectest

import (
	"context"
	"io"
	"strings"
	"sync"
)

// Call is one recorded command invocation.
type Call struct {
	Dir  string
	Name string
	Args []string
}

// String renders the call as a command line.
func (c Call) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Recorder records every command and answers with Handler.
// A nil Handler answers every command with empty output.
type Recorder struct {
	Handler func(call Call) ([]byte, error)

	mu    sync.Mutex
	calls []Call
}

func (r *Recorder) record(dir, name string, args []string) ([]byte, error) {
	call := Call{Dir: dir, Name: name, Args: append([]string(nil), args...)}

	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()

	if r.Handler == nil {
		return nil, nil
	}
	return r.Handler(call)
}

// Execute implements cmdexec.CommandExecutor.
func (r *Recorder) Execute(_ context.Context, name string, args ...string) ([]byte, error) {
	return r.record("", name, args)
}

// ExecuteIn implements cmdexec.CommandExecutor.
func (r *Recorder) ExecuteIn(_ context.Context, dir, name string, args ...string) ([]byte, error) {
	return r.record(dir, name, args)
}

// Stream implements cmdexec.CommandExecutor. Handler output is also written to out.
func (r *Recorder) Stream(_ context.Context, dir string, out io.Writer, name string, args ...string) ([]byte, error) {
	data, err := r.record(dir, name, args)
	if len(data) > 0 {
		_, _ = out.Write(data)
	}
	return data, err
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CommandLines returns the recorded calls rendered as command lines.
func (r *Recorder) CommandLines() []string {
	calls := r.Calls()
	lines := make([]string, len(calls))
	for i, c := range calls {
		lines[i] = c.String()
	}
	return lines
}
