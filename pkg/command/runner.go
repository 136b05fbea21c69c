package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"unicode/utf8"
)

// Result captures one process run.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner abstracts process execution so callers can be tested without binaries.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner executes commands via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err == nil {
		return result, nil
	}

	result.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}
	return result, &Error{Name: name, Result: result, Err: err}
}

// Error reports a failed run with the tail of stderr.
type Error struct {
	Name   string
	Result Result
	Err    error
}

func (e *Error) Error() string {
	tail := Tail(e.Result.Stderr, 400)
	if tail == "" {
		return fmt.Sprintf("%s exited with code %d: %v", e.Name, e.Result.ExitCode, e.Err)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Name, e.Result.ExitCode, tail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Tail returns at most n trailing bytes of s, trimmed, starting on a rune boundary.
func Tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return "..." + s[start:]
}
