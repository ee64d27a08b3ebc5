package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"siapxml/internal/domain"
)

// ─────────────────────────────────────────────────────────────
// Process Isolation Bridge
// ─────────────────────────────────────────────────────────────

// Script selectors understood by the worker.
const (
	SelectCheck   = "check"
	SelectSchema  = "schema"
	SelectPreview = "preview"
	SelectExtract = "extract"
)

// DefaultTimeout bounds one worker invocation.
const DefaultTimeout = 10 * time.Minute

// Arg is one ordered "--key value" pair on the worker command line.
type Arg struct {
	Key   string
	Value string
}

// Bridge launches worker processes and recovers their structured result.
type Bridge struct {
	exe     Executable
	timeout time.Duration
	env     []string
	log     *zap.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithTimeout overrides DefaultTimeout. Zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithEnv adds KEY=value entries to the worker's inherited environment.
func WithEnv(kv ...string) Option {
	return func(b *Bridge) { b.env = append(b.env, kv...) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// New creates a Bridge for a resolved worker executable.
func New(exe Executable, opts ...Option) *Bridge {
	b := &Bridge{exe: exe, timeout: DefaultTimeout, log: zap.NewNop()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Executable returns the worker the bridge launches.
func (b *Bridge) Executable() Executable { return b.exe }

// Invoke runs one worker operation and returns its result.
//
// A result with Success=false is returned without error; callers turn it
// into a classified error with WorkerResult.Failure. Errors returned here
// are *domain.Error of kind worker_protocol or worker_execution, or of the
// kind a crashed worker reported before exiting. A failure to launch the
// process at all is returned wrapped.
func (b *Bridge) Invoke(ctx context.Context, selector string, args []Arg) (*domain.WorkerResult, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	argv := append(append([]string(nil), b.exe.Prefix...), selector)
	for _, a := range args {
		if a.Value == "" {
			continue
		}
		argv = append(argv, "--"+a.Key, a.Value)
	}

	cmd := exec.CommandContext(ctx, b.exe.Path, argv...)
	cmd.WaitDelay = 5 * time.Second
	if len(b.env) > 0 {
		cmd.Env = append(os.Environ(), b.env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log := b.log.With(zap.String("selector", selector))
	log.Debug("starting worker",
		zap.String("exe", b.exe.Path),
		zap.Strings("args", redact(argv)),
	)
	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			return nil, &domain.Error{
				Kind:       domain.KindWorkerExecution,
				Message:    fmt.Sprintf("worker %s timed out after %s", selector, b.timeout),
				Diagnostic: stderr.String(),
				Err:        ctx.Err(),
			}
		case errors.As(runErr, &exitErr):
			log.Warn("worker failed",
				zap.Int("exit_code", exitErr.ExitCode()),
				zap.Duration("elapsed", elapsed),
			)
			return nil, executionError(selector, exitErr.ExitCode(), stdout.Bytes(), stderr.String())
		default:
			return nil, fmt.Errorf("launch worker %s: %w", b.exe.Path, runErr)
		}
	}

	res, err := ParseResult(stdout.Bytes())
	if err != nil {
		return nil, &domain.Error{
			Kind:       domain.KindWorkerProtocol,
			Message:    fmt.Sprintf("unreadable result from worker %s", selector),
			Diagnostic: "stdout:\n" + stdout.String() + "\nstderr:\n" + stderr.String(),
			Err:        err,
		}
	}
	log.Debug("worker finished", zap.Bool("success", res.Success), zap.Duration("elapsed", elapsed))
	return res, nil
}

// executionError reports a non-zero exit, keeping the failure result the
// worker may still have printed.
func executionError(selector string, code int, stdout []byte, stderr string) error {
	res, err := ParseResult(stdout)
	if err != nil {
		res = nil
	}
	return ExecutionError(selector, code, res, stderr)
}

// ExecutionError builds the error of a worker that exited with code. When
// reported is a failure result its kind leads, so KindOf yields the
// connection or extraction kind; worker_execution stays in the chain.
func ExecutionError(selector string, code int, reported *domain.WorkerResult, stderr string) error {
	exit := &domain.Error{
		Kind:       domain.KindWorkerExecution,
		Message:    fmt.Sprintf("worker %s exited with code %d", selector, code),
		Diagnostic: stderr,
	}
	if reported == nil || reported.Success {
		return exit
	}
	var e *domain.Error
	if !errors.As(reported.Failure(), &e) {
		return exit
	}
	e.Diagnostic = stderr
	e.Err = exit
	return e
}

// redact masks the value following --password.
func redact(argv []string) []string {
	out := append([]string(nil), argv...)
	for i := 0; i < len(out)-1; i++ {
		if strings.EqualFold(out[i], "--password") {
			out[i+1] = "***"
		}
	}
	return out
}
