// Package subprocess runs external commands and captures their output the
// way spec.md §4.7's "Subprocess runner" contract requires: CRLF-normalised
// stdout/stderr, optional trimming, a typed error on non-zero exit.
package subprocess

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Error reports a non-zero exit from Run, unless Options.IgnoreErrors was set.
type Error struct {
	Args   []string
	Result Result
}

func (e *Error) Error() string {
	return e.Result.Stderr
}

// Result is the captured outcome of a subprocess invocation.
type Result struct {
	ExitCode int
	stdout   string
	stderr   string
	strip    bool
}

func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}

// Stdout returns CRLF-normalised stdout, trimmed if Options.Strip was set.
func (r Result) Stdout() string {
	s := normalize(r.stdout)
	if r.strip {
		s = strings.TrimSpace(s)
	}
	return s
}

// Stderr returns CRLF-normalised stderr, trimmed if Options.Strip was set.
func (r Result) Stderr() string {
	s := normalize(r.stderr)
	if r.strip {
		s = strings.TrimSpace(s)
	}
	return s
}

// OutLines splits Stdout() on "\n".
func (r Result) OutLines() []string {
	return strings.Split(r.Stdout(), "\n")
}

// Options configures one Run invocation.
type Options struct {
	Env          []string
	Dir          string
	Stdin        []byte
	Strip        bool
	IgnoreErrors bool
}

// Run executes name with args, honoring opts, and logs the invocation the way
// the driver contract expects (spec.md §4.7).
func Run(ctx context.Context, log *slog.Logger, opts Options, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = opts.Env
	cmd.Dir = opts.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if opts.Stdin != nil {
		cmd.Stdin = bytes.NewReader(opts.Stdin)
	}

	log.Info("running process", "command", quotedCmdline(name, args...))

	runErr := cmd.Run()

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{}, fmt.Errorf("subprocess: running %s: %w", name, runErr)
		}
	}

	result := Result{ExitCode: exitCode, stdout: stdout.String(), stderr: stderr.String(), strip: opts.Strip}

	log.Debug("process exited", "status", exitCode, "stdout", result.Stdout(), "stderr", result.Stderr())

	if !opts.IgnoreErrors && exitCode != 0 {
		return result, &Error{Args: append([]string{name}, args...), Result: result}
	}
	return result, nil
}

// Quote renders a command line shell-quoted, for recording alongside a
// command's persisted record (spec.md §7: "the exact quoted command line is
// stored before execution").
func Quote(name string, args ...string) string {
	return quotedCmdline(name, args...)
}

// quotedCmdline renders args shell-quoted, for logging only.
func quotedCmdline(name string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(name))
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("@%_+=:,./-", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
