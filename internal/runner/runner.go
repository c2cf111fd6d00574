// Package runner executes a generated entry point in a sandboxed
// subprocess with a hard deadline and captures the failure signal the
// repair loop feeds back to the reviewer.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/artifact-agent/internal/project"
)

const (
	stdoutTailLimit  = 64 * 1024
	defaultTimeout   = 30 * time.Second
	defaultLiveness  = 5 * time.Second
	probeDialTimeout = 2 * time.Second
	killWaitSlack    = 2 * time.Second
)

// Runner executes entry points. Safe for concurrent use across projects.
type Runner struct {
	pythonBin string
	timeout   time.Duration
	liveness  time.Duration
	logger    zerolog.Logger
}

// Option configures the runner.
type Option func(*Runner)

// WithPythonBin overrides the interpreter binary.
func WithPythonBin(bin string) Option {
	return func(r *Runner) { r.pythonBin = bin }
}

// WithTimeout overrides the hard deadline.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// WithLivenessThreshold overrides how long a server kind must stay
// alive to count as started.
func WithLivenessThreshold(d time.Duration) Option {
	return func(r *Runner) { r.liveness = d }
}

// New creates a runner.
func New(logger zerolog.Logger, opts ...Option) *Runner {
	r := &Runner{
		pythonBin: "python3",
		timeout:   defaultTimeout,
		liveness:  defaultLiveness,
		logger:    logger.With().Str("component", "runner").Logger(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes entryPath with working directory projectRoot and returns
// the verdict. The deadline is enforced by killing the child process.
func (r *Runner) Run(ctx context.Context, kind project.Kind, entryPath, projectRoot string) project.TestResult {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	switch kind {
	case project.KindStreamlitApp:
		return r.runServer(ctx, projectRoot, 8501,
			r.pythonBin, "-m", "streamlit", "run", entryPath, "--server.headless", "true")
	case project.KindWebApp:
		return r.runServer(ctx, projectRoot, 8000, r.pythonBin, entryPath)
	default:
		// python_cli and presentation kinds: a clean exit is the signal.
		return r.runToCompletion(ctx, projectRoot, r.pythonBin, entryPath)
	}
}

func (r *Runner) runToCompletion(ctx context.Context, dir string, bin string, args ...string) project.TestResult {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	groupKill(cmd)

	stdout := newTailBuffer(stdoutTailLimit)
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	res := project.TestResult{
		StdoutTail: stdout.String(),
		Traceback:  stderr.String(),
	}
	switch {
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.DeadlineExceeded = true
		if res.Traceback == "" {
			res.Traceback = fmt.Sprintf("process killed after %s deadline", r.timeout)
		}
	case err == nil:
		res.OK = true
	}

	r.logger.Debug().
		Str("entry", args[len(args)-1]).
		Bool("ok", res.OK).
		Dur("elapsed", elapsed).
		Msg("entry point executed")
	return res
}

// runServer starts a long-running kind and treats survival past the
// liveness threshold as success. When a TCP probe on the advertised
// port succeeds that confirms startup; a failed dial degrades to
// startup-alive.
func (r *Runner) runServer(ctx context.Context, dir string, port int, bin string, args ...string) project.TestResult {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	groupKill(cmd)

	stdout := newTailBuffer(stdoutTailLimit)
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return project.TestResult{Traceback: fmt.Sprintf("start: %v", err)}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		// Exited before the liveness threshold.
		res := project.TestResult{
			StdoutTail: stdout.String(),
			Traceback:  stderr.String(),
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.DeadlineExceeded = true
			return res
		}
		res.OK = err == nil
		return res
	case <-time.After(r.liveness):
	}

	// Alive past the threshold: optionally confirm with a probe, then
	// terminate the child. The probe is best-effort.
	if port > 0 {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), probeDialTimeout)
		if err == nil {
			conn.Close()
			r.logger.Debug().Int("port", port).Msg("liveness probe connected")
		} else {
			r.logger.Debug().Int("port", port).Err(err).Msg("liveness probe failed, degrading to startup-alive")
		}
	}

	_ = killProcessGroup(cmd)
	<-done

	return project.TestResult{
		OK:         true,
		StdoutTail: stdout.String(),
	}
}

// groupKill runs the child in its own process group and arranges for
// ctx cancellation to kill the whole group. WaitDelay bounds how long
// Wait blocks on stdio pipes held open by surviving grandchildren.
func groupKill(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = killWaitSlack
}

// killProcessGroup kills the child's process group; a negative pid
// targets the group, so spawned workers die with the leader.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}

// tailBuffer keeps the last n bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
