// Package shell executes external tools on the host. It is the lowest
// layer of the bootstrapper: every step that touches the outside world
// (python, pip, playwright) goes through an Executor.
//
// A command that starts and exits non-zero is a successful execution
// from the Executor's point of view; the exit code is reported in the
// Result and interpreting it is the caller's job. Errors are reserved
// for infrastructure failures (binary not found, context cancelled
// before start).
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Command describes a single external tool invocation.
type Command struct {
	// Binary is the executable to run. It may be an absolute path; a
	// bare name is resolved against the parent process's PATH.
	Binary string `json:"binary"`

	// Arguments are the command-line arguments.
	Arguments []string `json:"arguments"`

	// WorkingDirectory is the directory to execute in. If empty, the
	// executor's default is used.
	WorkingDirectory string `json:"working_directory,omitempty"`

	// Environment variables in KEY=VALUE form. Nil means inherit the
	// parent process's environment unchanged.
	Environment []string `json:"environment,omitempty"`

	// Timeout bounds wall-clock execution time. Zero means use the
	// executor's default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// String returns the command in display form.
func (c Command) String() string {
	if len(c.Arguments) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Arguments, " ")
}

// Result is the outcome of running a Command.
type Result struct {
	ExitCode   int           `json:"exit_code"`
	Stdout     string        `json:"stdout"`
	Stderr     string        `json:"stderr"`
	Duration   time.Duration `json:"duration"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`

	// Killed is set when the command was terminated by timeout or
	// context cancellation.
	Killed bool `json:"killed,omitempty"`
}

// Output returns stdout and stderr joined for display.
func (r *Result) Output() string {
	switch {
	case r.Stdout == "":
		return r.Stderr
	case r.Stderr == "":
		return r.Stdout
	}
	return r.Stdout + "\n" + r.Stderr
}

// Config holds executor defaults.
type Config struct {
	// DefaultWorkingDir is used when Command.WorkingDirectory is empty.
	DefaultWorkingDir string

	// DefaultTimeout applies when Command.Timeout is zero.
	DefaultTimeout time.Duration
}

// DefaultConfig returns executor defaults suitable for setup work:
// installs can be slow, so the timeout is generous.
func DefaultConfig() Config {
	cwd, _ := os.Getwd()
	return Config{
		DefaultWorkingDir: cwd,
		DefaultTimeout:    15 * time.Minute,
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
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	return &Executor{config: config}
}

// Execute runs the command and blocks until it exits or the deadline
// passes. The returned Result is non-nil whenever the process started,
// including on non-zero exit and on timeout kill.
func (e *Executor) Execute(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Binary == "" {
		return nil, fmt.Errorf("binary is required")
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = e.config.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir := cmd.WorkingDirectory
	if dir == "" {
		dir = e.config.DefaultWorkingDir
	}

	c := exec.CommandContext(ctx, cmd.Binary, cmd.Arguments...)
	c.Dir = dir
	if cmd.Environment != nil {
		c.Env = cmd.Environment
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	result := &Result{ExitCode: -1, StartedAt: time.Now()}

	err := c.Run()
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	if err == nil {
		result.ExitCode = 0
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		if ctx.Err() != nil {
			result.Killed = true
		}
		// The tool ran and failed; that is a result, not an error.
		return result, nil
	}

	// Start failure: binary missing, permission denied, cancelled
	// before exec. No process output exists.
	return nil, fmt.Errorf("start %s: %w", cmd.Binary, err)
}
