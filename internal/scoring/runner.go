// Package scoring runs the external scoring process.
package scoring

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds a run when neither the runner nor the context sets a deadline.
	DefaultTimeout = 60 * time.Second
	// DefaultMaxOutputBytes caps the buffered stdout of a run.
	DefaultMaxOutputBytes = 16 << 20

	maxStderrBytes = 64 << 10
	waitDelay      = 2 * time.Second
)

// Outcome classifies how a run ended.
type Outcome string

const (
	Success    Outcome = "success"
	SpawnError Outcome = "spawn_error"
	ExitError  Outcome = "exit_error"
	Timeout    Outcome = "timeout"
	Canceled   Outcome = "canceled"
)

// Result is what a run produced. Stdout is nil unless the process ran to completion.
type Result struct {
	Outcome   Outcome
	Stdout    []byte
	Stderr    []byte
	ExitCode  int
	Truncated bool
	Duration  time.Duration
	Err       error
}

// Runner launches one process per Run, writes the input to its stdin and
// collects its stdout until exit.
type Runner struct {
	Command        string
	Args           []string
	Dir            string
	Env            []string // appended to the parent environment
	Timeout        time.Duration
	MaxOutputBytes int64
	Logger         *zap.Logger
}

// Run executes the command with input on stdin. It never returns an error;
// failures are reported through Result.Outcome.
func (r *Runner) Run(ctx context.Context, input []byte) Result {
	logger := r.Logger
	if logger == nil {
		logger = zap.L()
	}

	runCtx := ctx
	timeout := r.Timeout
	if timeout <= 0 {
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			timeout = DefaultTimeout
		}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	limit := r.MaxOutputBytes
	if limit <= 0 {
		limit = DefaultMaxOutputBytes
	}
	stdout := &cappedBuffer{limit: limit}
	stderr := &cappedBuffer{limit: maxStderrBytes}

	cmd := exec.CommandContext(runCtx, r.Command, r.Args...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Force-close the pipes if a grandchild keeps them open after the kill.
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
		Err:      err,
	}

	switch {
	case err == nil || errors.Is(err, exec.ErrWaitDelay):
		if err != nil {
			logger.Warn("scorer exited but left its output pipes open", zap.String("command", r.Command))
		}
		res.Outcome = Success
		res.Err = nil
		res.Stdout = stdout.Bytes()
		res.Truncated = stdout.truncated

	case runCtx.Err() != nil:
		// Killed: whatever was buffered is discarded.
		res.Outcome = Timeout
		if errors.Is(ctx.Err(), context.Canceled) {
			res.Outcome = Canceled
		}
		res.Err = runCtx.Err()
		res.ExitCode = -1

	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.Outcome = ExitError
			res.ExitCode = exitErr.ExitCode()
			res.Stdout = stdout.Bytes()
			res.Truncated = stdout.truncated
		} else {
			res.Outcome = SpawnError
			res.ExitCode = -1
		}
	}

	logger.Debug("scorer finished",
		zap.String("command", r.Command),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("exit_code", res.ExitCode),
		zap.Int("input_bytes", len(input)),
		zap.Int("output_bytes", len(res.Stdout)),
		zap.Duration("duration", res.Duration),
	)
	return res
}

// cappedBuffer keeps the first limit bytes and silently drops the rest so the
// child never blocks on a full pipe.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int64
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.limit - int64(c.buf.Len())
	if room <= 0 {
		if len(p) > 0 {
			c.truncated = true
		}
		return len(p), nil
	}
	if int64(len(p)) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) Bytes() []byte {
	return c.buf.Bytes()
}
