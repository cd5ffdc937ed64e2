// Package containerrunner is the container driver surface described in
// spec.md §4.7: execute a command against a named container, and copy files
// between containers by staging through a host temp directory.
package containerrunner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/avmorch/orchestrator/pkg/subprocess"
)

// CopyOut stages a file out of a container through a host temp directory and
// returns its contents, for callers (testsourcecompile's DSL hand-off) that
// need to inspect the bytes rather than just relay them to another container.
func (r *Runner) CopyOut(ctx context.Context, container, containerPath string) ([]byte, error) {
	dir, err := os.MkdirTemp(r.tempDir, "avmorch-cp-")
	if err != nil {
		return nil, fmt.Errorf("containerrunner: creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	local := filepath.Join(dir, "file")
	if _, err := subprocess.Run(ctx, r.log, subprocess.Options{}, "docker", "cp", container+":"+containerPath, local); err != nil {
		return nil, fmt.Errorf("containerrunner: copying out of %s: %w", container, err)
	}
	return os.ReadFile(local)
}

// Runner drives the `docker` CLI. Treated as an opaque command executor per
// spec.md §1's out-of-scope note; only the surface this core calls is implemented.
type Runner struct {
	log     *slog.Logger
	tempDir string
}

// New constructs a Runner that stages `cp` operations through tempDir.
func New(log *slog.Logger, tempDir string) *Runner {
	return &Runner{log: log, tempDir: tempDir}
}

// Exec runs a command inside container, returning its captured output.
func (r *Runner) Exec(ctx context.Context, container string, args ...string) (subprocess.Result, error) {
	full := append([]string{"exec", container}, args...)
	return subprocess.Run(ctx, r.log, subprocess.Options{Strip: true}, "docker", full...)
}

// ExecStdin runs a command inside container, piping in bytes on stdin.
func (r *Runner) ExecStdin(ctx context.Context, container string, stdin []byte, args ...string) (subprocess.Result, error) {
	full := append([]string{"exec", "-i", container}, args...)
	return subprocess.Run(ctx, r.log, subprocess.Options{Strip: true, Stdin: stdin}, "docker", full...)
}

// CopyIn copies a local file into a container.
func (r *Runner) CopyIn(ctx context.Context, localPath, container, containerPath string) error {
	_, err := subprocess.Run(ctx, r.log, subprocess.Options{}, "docker", "cp", localPath, container+":"+containerPath)
	return err
}

// CopyBetween stages a file copy from one container to another through a
// host temp directory (spec.md §4.7: "Supports cp between containers by
// staging through a host temp directory").
func (r *Runner) CopyBetween(ctx context.Context, fromContainer, fromFile, toContainer, toFile string) error {
	dir, err := os.MkdirTemp(r.tempDir, "avmorch-cp-")
	if err != nil {
		return fmt.Errorf("containerrunner: creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	local := filepath.Join(dir, "file")
	if _, err := subprocess.Run(ctx, r.log, subprocess.Options{}, "docker", "cp", fromContainer+":"+fromFile, local); err != nil {
		return fmt.Errorf("containerrunner: copying out of %s: %w", fromContainer, err)
	}
	if _, err := subprocess.Run(ctx, r.log, subprocess.Options{}, "docker", "cp", local, toContainer+":"+toFile); err != nil {
		return fmt.Errorf("containerrunner: copying into %s: %w", toContainer, err)
	}
	return nil
}

// Run runs a standalone docker subcommand (e.g. "rm", "-f", name).
func (r *Runner) Run(ctx context.Context, args ...string) (subprocess.Result, error) {
	return subprocess.Run(ctx, r.log, subprocess.Options{}, "docker", args...)
}

// RunDetached starts a container in the background (`docker run --name ... -i`).
func (r *Runner) RunDetached(ctx context.Context, stdin []byte, args ...string) (subprocess.Result, error) {
	full := append([]string{"run"}, args...)
	return subprocess.Run(ctx, r.log, subprocess.Options{Stdin: stdin}, "docker", full...)
}

// ComposeUp brings up a player/project container group via docker-compose.
func (r *Runner) ComposeUp(ctx context.Context, composeDir string, env []string, args ...string) error {
	full := append([]string{"up", "-d"}, args...)
	_, err := subprocess.Run(ctx, r.log, subprocess.Options{Dir: composeDir, Env: env}, "docker-compose", full...)
	return err
}

// ComposeDown tears down a player/project container group.
func (r *Runner) ComposeDown(ctx context.Context, composeDir string, env []string) error {
	_, err := subprocess.Run(ctx, r.log, subprocess.Options{Dir: composeDir, Env: env}, "docker-compose", "down", "-v")
	return err
}
