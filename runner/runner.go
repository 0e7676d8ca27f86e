// Package runner executes the external commands a pipeline stage is made of:
// lint suites, smoke checks, and the artifact build. It captures output,
// manages environment and working directory, and honors context cancellation
// so a superseded run's processes stop promptly.
//
// Commands never retry here. Stage failures are terminal; a human re-pushes
// or re-tags to restart the pipeline.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Result holds the output and exit status from a command execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner defines the interface for command execution. Stages depend on this
// interface so tests can substitute a recording fake.
type Runner interface {
	// Run executes program with args under the given options.
	// A non-zero exit is returned as an error wrapping the Result's status;
	// the Result is populated in both success and failure cases.
	Run(ctx context.Context, program string, args []string, opts ...Option) (*Result, error)
}

// Options configures command execution behavior.
type Options struct {
	// WorkingDir is the directory the command runs in. Empty means the
	// current process directory.
	WorkingDir string

	// Env holds variables appended to the current process environment.
	Env map[string]string

	// StdoutWriter and StderrWriter, when set, receive a live copy of the
	// command's output in addition to capture.
	StdoutWriter io.Writer
	StderrWriter io.Writer
}

// Option mutates Options.
type Option func(*Options)

// WithWorkingDir sets the command's working directory.
func WithWorkingDir(dir string) Option {
	return func(o *Options) { o.WorkingDir = dir }
}

// WithEnv appends environment variables to the command's environment.
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string, len(env))
		}
		for k, v := range env {
			o.Env[k] = v
		}
	}
}

// WithStreams mirrors command output to the given writers while capturing.
func WithStreams(stdout, stderr io.Writer) Option {
	return func(o *Options) {
		o.StdoutWriter = stdout
		o.StderrWriter = stderr
	}
}

// Local runs commands as child processes of the pipeline.
type Local struct{}

// NewLocal creates a process-spawning runner.
func NewLocal() *Local {
	return &Local{}
}

// Run implements Runner.
func (l *Local) Run(ctx context.Context, program string, args []string, opts ...Option) (*Result, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	cmd := exec.CommandContext(ctx, program, args...)
	if options.WorkingDir != "" {
		cmd.Dir = options.WorkingDir
	}
	if len(options.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range options.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	if options.StdoutWriter != nil {
		cmd.Stdout = io.MultiWriter(&stdoutBuf, options.StdoutWriter)
	}
	if options.StderrWriter != nil {
		cmd.Stderr = io.MultiWriter(&stderrBuf, options.StderrWriter)
	}

	err := cmd.Run()

	result := &Result{
		Stdout: stdoutBuf.String(),
		Stderr: stderrBuf.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		result.ExitCode = -1
	}

	if err != nil {
		// Prefer the context's error so callers can distinguish cancellation
		// from command failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("command interrupted: %w", ctxErr)
		}
		return result, fmt.Errorf("command %q failed: %w", program, err)
	}
	return result, nil
}
