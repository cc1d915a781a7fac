// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// POLICY
// =============================================================================

const (
	// DefaultTimeout bounds a command when the policy sets none.
	DefaultTimeout = 2 * time.Minute

	// DefaultMaxOutputBytes is the combined stdout+stderr budget.
	DefaultMaxOutputBytes = 64 * 1024

	// killGrace is how long to wait for pipes to drain after a kill before
	// abandoning them. Descendants that left the process group can hold
	// them open indefinitely.
	killGrace = 2 * time.Second
)

// Policy confines one command execution. It is configuration and is never
// mutated by the executor.
type Policy struct {
	// Root is the working directory and the confinement boundary.
	Root string

	// EnvAllowlist names the variables passed to the child. Empty means
	// DefaultEnvAllowlist.
	EnvAllowlist []string

	// Timeout kills the command when exceeded.
	Timeout time.Duration

	// MaxOutputBytes caps captured stdout+stderr.
	MaxOutputBytes int64
}

// NewPolicy returns a policy rooted at the canonical form of root.
func NewPolicy(root string) (Policy, error) {
	canonical, err := CanonicalRoot(root)
	if err != nil {
		return Policy{}, err
	}
	return Policy{
		Root:           canonical,
		EnvAllowlist:   DefaultEnvAllowlist,
		Timeout:        DefaultTimeout,
		MaxOutputBytes: DefaultMaxOutputBytes,
	}, nil
}

// CanonicalRoot resolves root to an absolute, symlink-free directory path.
func CanonicalRoot(root string) (string, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve sandbox root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve sandbox root: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("resolve sandbox root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("sandbox root %s is not a directory", resolved)
	}
	return resolved, nil
}

func (p Policy) withDefaults() Policy {
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	if p.MaxOutputBytes <= 0 {
		p.MaxOutputBytes = DefaultMaxOutputBytes
	}
	return p
}

// =============================================================================
// RESULT
// =============================================================================

// Result is the outcome of a command that ran. A non-zero ExitCode is a
// normal outcome, not an error.
type Result struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Duration  time.Duration
	Discarded int64
}

// Combined returns stdout followed by stderr, as the model sees it.
func (r Result) Combined() string {
	var sb strings.Builder
	sb.WriteString(r.Stdout)
	if r.Stderr != "" {
		if sb.Len() > 0 && !strings.HasSuffix(r.Stdout, "\n") {
			sb.WriteString("\n")
		}
		if sb.Len() > 0 {
			sb.WriteString("STDERR:\n")
		}
		sb.WriteString(r.Stderr)
	}
	return sb.String()
}

// =============================================================================
// EXECUTOR
// =============================================================================

// Executor runs shell commands under a Policy.
type Executor struct {
	shell     Shell
	killGrace time.Duration
	log       logrus.FieldLogger
}

// Option configures an Executor.
type Option func(*Executor)

// WithShell overrides the resolved platform shell.
func WithShell(s Shell) Option {
	return func(e *Executor) { e.shell = s }
}

// WithLogger sets the logger. The default is the logrus standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Executor) { e.log = l }
}

// NewExecutor creates an executor using the platform shell.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		killGrace: killGrace,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.shell.Path == "" {
		e.shell = ResolveShell()
	}
	return e
}

// Shell returns the interpreter commands are run with.
func (e *Executor) Shell() Shell {
	return e.shell
}

// Execute runs command through the shell under policy.
//
// A timeout, or cancellation of ctx, kills the process group and returns a
// timeout ExecutionError with the partial Result. Exceeding the output
// budget returns output_overflow with the partial Result once the command
// exits.
func (e *Executor) Execute(ctx context.Context, command string, policy Policy) (Result, error) {
	policy = policy.withDefaults()
	log := e.log.WithField("command", command)

	if strings.TrimSpace(command) == "" {
		return Result{}, policyViolation(command, "empty command")
	}
	if strings.ContainsRune(command, 0) {
		return Result{}, policyViolation(command, "command contains a NUL byte")
	}
	if policy.Root != "" && e.shell.POSIX {
		if err := CheckConfinement(command, policy.Root); err != nil {
			log.WithError(err).Warn("command rejected by confinement check")
			return Result{}, err
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
	defer cancel()

	cmd := exec.Command(e.shell.Path, e.shell.Argv(command)...)
	cmd.Dir = policy.Root
	cmd.Env = BuildEnv(policy.EnvAllowlist, policy.Root)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, &ExecutionError{Kind: KindSpawnFailure, Command: command, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, &ExecutionError{Kind: KindSpawnFailure, Command: command, Err: err}
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, &ExecutionError{Kind: KindSpawnFailure, Command: command, Err: err}
	}
	log.WithField("pid", cmd.Process.Pid).Debug("command started")

	out := newCapture(policy.MaxOutputBytes)
	var g errgroup.Group
	g.Go(func() error { return pump(out.stdoutWriter(), stdout) })
	g.Go(func() error { return pump(out.stderrWriter(), stderr) })

	exited := make(chan error, 1)
	go func() {
		if err := g.Wait(); err != nil {
			log.WithError(err).Debug("output pump failed")
		}
		exited <- cmd.Wait()
	}()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-exited:
	case <-runCtx.Done():
		timedOut = true
		if err := killProcessGroup(cmd); err != nil {
			log.WithError(err).Warn("failed to kill process group")
		}
		select {
		case waitErr = <-exited:
		case <-time.After(e.killGrace):
			_ = stdout.Close()
			_ = stderr.Close()
			waitErr = <-exited
		}
	}

	res := Result{ExitCode: -1, Duration: time.Since(start)}
	res.Stdout, res.Stderr, res.Discarded = out.snapshot()
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	log = log.WithFields(logrus.Fields{
		"exit_code": res.ExitCode,
		"duration":  res.Duration,
	})

	if timedOut {
		msg := fmt.Sprintf("command exceeded %s and was killed", policy.Timeout)
		if ctx.Err() != nil {
			msg = "command cancelled and was killed"
		}
		log.Warn(msg)
		return res, &ExecutionError{Kind: KindTimeout, Command: command, Msg: msg, Result: res}
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		log.WithError(waitErr).Warn("command wait failed")
		return res, &ExecutionError{Kind: KindSpawnFailure, Command: command, Result: res, Err: waitErr}
	}

	if out.overflowed() {
		log.WithField("discarded", res.Discarded).Info("command output exceeded budget")
		return res, &ExecutionError{
			Kind:    KindOutputOverflow,
			Command: command,
			Msg:     fmt.Sprintf("output exceeded %d bytes, %d bytes discarded", policy.MaxOutputBytes, res.Discarded),
			Result:  res,
		}
	}

	log.Debug("command finished")
	return res, nil
}
