package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/artifact-agent/internal/project"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o755))
	return name
}

func TestRunCleanExit(t *testing.T) {
	dir := t.TempDir()
	entry := writeScript(t, dir, "main.sh", "#!/bin/sh\necho hello\nexit 0\n")

	r := New(zerolog.Nop(), WithPythonBin("sh"), WithTimeout(10*time.Second))
	res := r.Run(context.Background(), project.KindPythonCLI, entry, dir)

	assert.True(t, res.OK)
	assert.False(t, res.DeadlineExceeded)
	assert.Contains(t, res.StdoutTail, "hello")
	assert.Empty(t, res.Traceback)
}

func TestRunNonZeroExitCapturesStderr(t *testing.T) {
	dir := t.TempDir()
	entry := writeScript(t, dir, "main.sh", "#!/bin/sh\necho 'Traceback (most recent call last):' >&2\necho 'ZeroDivisionError: division by zero' >&2\nexit 1\n")

	r := New(zerolog.Nop(), WithPythonBin("sh"), WithTimeout(10*time.Second))
	res := r.Run(context.Background(), project.KindPythonCLI, entry, dir)

	assert.False(t, res.OK)
	assert.False(t, res.DeadlineExceeded)
	assert.Contains(t, res.Traceback, "ZeroDivisionError")
}

func TestRunDeadlineKillsProcess(t *testing.T) {
	dir := t.TempDir()
	entry := writeScript(t, dir, "main.sh", "#!/bin/sh\nsleep 30\n")

	r := New(zerolog.Nop(), WithPythonBin("sh"), WithTimeout(300*time.Millisecond))

	start := time.Now()
	res := r.Run(context.Background(), project.KindPythonCLI, entry, dir)
	elapsed := time.Since(start)

	assert.False(t, res.OK)
	assert.True(t, res.DeadlineExceeded)
	assert.NotEmpty(t, res.Traceback)
	assert.Less(t, elapsed, 3*time.Second)
}

func TestRunDeadlineKillsSpawnedChildren(t *testing.T) {
	dir := t.TempDir()
	// The entry point forks a worker that inherits the stdio pipes;
	// the whole process group must die at the deadline.
	entry := writeScript(t, dir, "main.sh", "#!/bin/sh\nsleep 30 &\nwait\n")

	r := New(zerolog.Nop(), WithPythonBin("sh"), WithTimeout(300*time.Millisecond))

	start := time.Now()
	res := r.Run(context.Background(), project.KindPythonCLI, entry, dir)
	elapsed := time.Since(start)

	assert.False(t, res.OK)
	assert.True(t, res.DeadlineExceeded)
	assert.Less(t, elapsed, 3*time.Second)
}

func TestRunServerStartupAlive(t *testing.T) {
	dir := t.TempDir()
	// Survives past the liveness threshold without opening a port.
	writeScript(t, dir, "app.sh", "#!/bin/sh\nsleep 30\n")

	r := New(zerolog.Nop(),
		WithPythonBin("sh"),
		WithTimeout(10*time.Second),
		WithLivenessThreshold(200*time.Millisecond))

	res := r.runServer(context.Background(), dir, 0, "sh", "app.sh")
	assert.True(t, res.OK)
	assert.False(t, res.DeadlineExceeded)
}

func TestRunServerCrashBeforeThreshold(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "app.sh", "#!/bin/sh\necho 'ModuleNotFoundError: No module named flask' >&2\nexit 1\n")

	r := New(zerolog.Nop(),
		WithPythonBin("sh"),
		WithTimeout(10*time.Second),
		WithLivenessThreshold(2*time.Second))

	res := r.runServer(context.Background(), dir, 0, "sh", "app.sh")
	assert.False(t, res.OK)
	assert.Contains(t, res.Traceback, "ModuleNotFoundError")
}

func TestTailBufferKeepsSuffix(t *testing.T) {
	tb := newTailBuffer(8)
	_, err := tb.Write([]byte("0123456789abcdef"))
	require.NoError(t, err)
	assert.Equal(t, "89abcdef", tb.String())

	tb2 := newTailBuffer(1024)
	for i := 0; i < 10; i++ {
		_, _ = tb2.Write([]byte(strings.Repeat("x", 100)))
	}
	assert.Len(t, tb2.String(), 1000)
}
