// Package execute runs host commands for stagehand: git invocations and
// pipeline stage scripts. Commands run directly on the runner host with no
// sandboxing; CI workers are assumed disposable.
package execute

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"stagehand/internal/logging"
)

// Command describes a single host command invocation.
type Command struct {
	Binary    string
	Arguments []string

	// WorkingDirectory for the process. Empty means the stagehand process cwd.
	WorkingDirectory string

	// Environment is the full environment for the process. Nil inherits the
	// parent environment.
	Environment []string

	// Stdin is optional input piped to the process.
	Stdin string

	// Timeout bounds the command. Zero means no timeout; the command runs
	// until completion or until ctx is canceled. Network operations such as
	// git clone deliberately run without a timeout.
	Timeout time.Duration
}

// CommandString renders the command for log lines.
func (c Command) CommandString() string {
	if len(c.Arguments) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Arguments, " ")
}

// Result reports the outcome of a completed command.
type Result struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Killed     bool
	KillReason string

	// Truncated indicates output capture hit the byte limit.
	Truncated bool
}

// Config holds executor-wide defaults.
type Config struct {
	MaxOutputBytes int64
}

// DefaultConfig returns the standard executor configuration.
func DefaultConfig() Config {
	return Config{
		MaxOutputBytes: 10 * 1024 * 1024, // 10MB
	}
}

// Executor runs commands directly on the host using os/exec.
type Executor struct {
	config Config
}

// NewExecutor creates an executor with default config.
func NewExecutor() *Executor {
	return NewExecutorWithConfig(DefaultConfig())
}

// NewExecutorWithConfig creates an executor with custom config.
func NewExecutorWithConfig(config Config) *Executor {
	logging.ExecDebug("Creating executor: maxOutput=%d bytes", config.MaxOutputBytes)
	return &Executor{config: config}
}

// Run executes a command and captures its output.
//
// A non-zero exit is not a Go error: it is reported through Result.ExitCode so
// callers decide what a failure means. Infrastructure problems (binary not
// found, fork failure) are returned as errors.
func (e *Executor) Run(ctx context.Context, cmd Command) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryExec, "command "+cmd.Binary)
	defer timer.Stop()

	if cmd.Binary == "" {
		return nil, fmt.Errorf("binary is required")
	}

	logging.Exec("Executing: %s", cmd.CommandString())

	execCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	execCmd := exec.CommandContext(execCtx, cmd.Binary, cmd.Arguments...)
	execCmd.Dir = cmd.WorkingDirectory
	execCmd.Env = cmd.Environment

	if cmd.Stdin != "" {
		execCmd.Stdin = strings.NewReader(cmd.Stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdoutBuf, max: e.config.MaxOutputBytes}
	stderrLimited := &limitedWriter{w: &stderrBuf, max: e.config.MaxOutputBytes}
	execCmd.Stdout = stdoutLimited
	execCmd.Stderr = stderrLimited

	result := &Result{ExitCode: -1}
	result.StartedAt = time.Now()

	err := execCmd.Run()

	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()
	result.Truncated = stdoutLimited.truncated || stderrLimited.truncated
	if result.Truncated {
		logging.ExecWarn("Command output truncated: %s", cmd.Binary)
	}

	if err != nil {
		switch {
		case execCtx.Err() == context.DeadlineExceeded:
			result.Killed = true
			result.KillReason = fmt.Sprintf("timeout after %s", cmd.Timeout)
			logging.ExecWarn("Command killed (timeout): %s after %s", cmd.Binary, cmd.Timeout)
		case execCtx.Err() == context.Canceled:
			result.Killed = true
			result.KillReason = "context canceled"
			logging.ExecDebug("Command canceled: %s", cmd.Binary)
		default:
			if exitErr, ok := err.(*exec.ExitError); ok {
				result.ExitCode = exitErr.ExitCode()
				logging.ExecDebug("Command exited non-zero: %s -> %d", cmd.Binary, result.ExitCode)
			} else {
				logging.ExecError("Command failed: %s - %v", cmd.Binary, err)
				return nil, fmt.Errorf("run %s: %w", cmd.Binary, err)
			}
		}
	} else {
		result.ExitCode = 0
	}

	logging.Exec("Command completed: %s -> exit=%d, duration=%s",
		cmd.Binary, result.ExitCode, result.Duration)

	return result, nil
}

// RunStreaming executes a command with stdout/stderr wired directly to the
// given writers. Used for stage scripts, whose output belongs to the CI log.
func (e *Executor) RunStreaming(ctx context.Context, cmd Command, stdout, stderr io.Writer) (*Result, error) {
	if cmd.Binary == "" {
		return nil, fmt.Errorf("binary is required")
	}

	logging.Exec("Executing (streaming): %s", cmd.CommandString())

	execCmd := exec.CommandContext(ctx, cmd.Binary, cmd.Arguments...)
	execCmd.Dir = cmd.WorkingDirectory
	execCmd.Env = cmd.Environment
	execCmd.Stdout = stdout
	execCmd.Stderr = stderr

	result := &Result{ExitCode: -1}
	result.StartedAt = time.Now()

	err := execCmd.Run()

	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)

	if err != nil {
		if ctx.Err() == context.Canceled {
			result.Killed = true
			result.KillReason = "context canceled"
		} else if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("run %s: %w", cmd.Binary, err)
		}
	} else {
		result.ExitCode = 0
	}

	return result, nil
}

// limitedWriter is an io.Writer that limits total bytes written.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)

	if lw.written >= lw.max {
		lw.truncated = true
		return n, nil // Pretend we wrote it
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err // Return original length to avoid "short write" errors
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
