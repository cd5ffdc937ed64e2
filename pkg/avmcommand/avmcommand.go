// Package avmcommand runs one adb command inside an AVM's adb container and
// records its lifecycle in avm_commands. Every task handler that drives adb
// (apk_install, avm_monkey, avm_test_run, the campaign runner's install/test
// steps) follows the same record-run-record shape (spec.md §7); this package
// is that shape factored out once instead of repeated per handler.
package avmcommand

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/avmorch/orchestrator/internal/db"
	"github.com/avmorch/orchestrator/pkg/containerrunner"
	"github.com/avmorch/orchestrator/pkg/provisioner"
	"github.com/avmorch/orchestrator/pkg/subprocess"
)

// Store is the subset of the Entity Store a command invocation touches.
type Store interface {
	CreateCommand(ctx context.Context, commandID, avmID uuid.UUID, command string) (db.Command, error)
	SetCommandRunning(ctx context.Context, id uuid.UUID) error
	SetCommandReady(ctx context.Context, id uuid.UUID, returnCode int32, stdout, stderr string) error
	SetCommandError(ctx context.Context, id uuid.UUID, reason string) error
}

var _ Store = (*db.Queries)(nil)

// Runner executes adb commands inside an AVM's adb container, recording
// each one in avm_commands around the call (spec.md §7).
type Runner struct {
	store Store
	exec  *containerrunner.Runner
	log   *slog.Logger
}

// New constructs a Runner.
func New(store Store, exec *containerrunner.Runner, log *slog.Logger) *Runner {
	return &Runner{store: store, exec: exec, log: log}
}

// Create inserts the command row ahead of Run, when the caller (rather than
// the HTTP layer) owns the command_id, e.g. the campaign engine minting one
// per install/test step. args is the full unquoted command, e.g.
// ["adb", "install", "-r", path].
func (r *Runner) Create(ctx context.Context, commandID, avmID uuid.UUID, args []string) error {
	_, err := r.store.CreateCommand(ctx, commandID, avmID, subprocess.Quote(args[0], args[1:]...))
	return err
}

// Run executes the full unquoted command (e.g. ["adb", "shell", ...])
// inside avmID's adb container, transitioning the command_id row
// RUNNING -> READY/ERROR around the call. ignoreErrors allows a non-zero
// exit to be treated as a normal result rather than a failure (mirrors the
// Python `except ProcessError: pass` around the force-uninstall step in
// apk_install).
func (r *Runner) Run(ctx context.Context, avmID uuid.UUID, commandID uuid.UUID, ignoreErrors bool, args ...string) (subprocess.Result, error) {
	if err := r.store.SetCommandRunning(ctx, commandID); err != nil {
		return subprocess.Result{}, fmt.Errorf("avmcommand: marking %s running: %w", commandID, err)
	}

	result, runErr := r.exec.Exec(ctx, provisioner.AdbContainer(avmID.String()), args...)
	if runErr != nil && !ignoreErrors {
		if err := r.store.SetCommandError(ctx, commandID, runErr.Error()); err != nil {
			return result, fmt.Errorf("avmcommand: projecting error for %s: %w", commandID, err)
		}
		return result, runErr
	}

	if err := r.store.SetCommandReady(ctx, commandID, int32(result.ExitCode), result.Stdout(), result.Stderr()); err != nil {
		return result, fmt.Errorf("avmcommand: marking %s ready: %w", commandID, err)
	}
	return result, nil
}
