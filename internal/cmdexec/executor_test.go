package cmdexec

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecute_ReturnsStdoutOnly(t *testing.T) {
	requireShell(t)

	exe := &DefaultExecutor{}
	out, err := exe.Execute(context.Background(), "sh", "-c", "echo out; echo err >&2")

	require.NoError(t, err)
	assert.Equal(t, "out\n", string(out))
}

func TestExecute_ErrorCarriesStderrAndExitCode(t *testing.T) {
	requireShell(t)

	exe := &DefaultExecutor{}
	_, err := exe.Execute(context.Background(), "sh", "-c", "echo broken >&2; exit 3")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Contains(t, err.Error(), "sh -c")
	assert.Equal(t, 3, ExitCode(err))
}

func TestExecuteIn_UsesDirectory(t *testing.T) {
	requireShell(t)

	dir := t.TempDir()
	exe := &DefaultExecutor{}
	out, err := exe.ExecuteIn(context.Background(), dir, "sh", "-c", "pwd")

	require.NoError(t, err)
	assert.Contains(t, string(out), dir)
}

func TestStream_TeesOutput(t *testing.T) {
	requireShell(t)

	var sink bytes.Buffer
	exe := &DefaultExecutor{}
	out, err := exe.Stream(context.Background(), "", &sink, "sh", "-c", "echo one; echo two >&2")

	require.NoError(t, err)
	assert.Equal(t, "one\n", string(out))
	assert.Contains(t, sink.String(), "one")
	assert.Contains(t, sink.String(), "two")
}

func TestStream_InterleavedOutputKeepsEveryLine(t *testing.T) {
	requireShell(t)

	var sink bytes.Buffer
	exe := &DefaultExecutor{}
	script := `i=0; while [ $i -lt 200 ]; do echo "out $i"; echo "err $i" >&2; i=$((i+1)); done`
	out, err := exe.Stream(context.Background(), "", &sink, "sh", "-c", script)

	require.NoError(t, err)
	assert.Equal(t, 200, strings.Count(string(out), "out "))
	assert.Equal(t, 200, strings.Count(sink.String(), "out "))
	assert.Equal(t, 200, strings.Count(sink.String(), "err "))
}

func TestStream_Cancelled(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exe := &DefaultExecutor{}
	_, err := exe.Stream(ctx, "", &bytes.Buffer{}, "sh", "-c", "sleep 5")

	assert.Error(t, err)
}

func TestExitCode_NonProcessError(t *testing.T) {
	assert.Equal(t, -1, ExitCode(errors.New("plain")))
	assert.Equal(t, -1, ExitCode(nil))
}

func TestCommandLine(t *testing.T) {
	assert.Equal(t, "pacman -Qne", CommandLine("pacman", "-Qne"))
	assert.Equal(t, "hostname", CommandLine("hostname"))
}
