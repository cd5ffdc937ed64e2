// Package testsourcecompile implements testsource_compile (spec.md §4.2):
// a two-stage pipeline that turns a project's DSL test source into a signed
// APK by running it through two transient, single-use containers.
package testsourcecompile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/avmorch/orchestrator/internal/db"
	"github.com/avmorch/orchestrator/pkg/containerrunner"
	"github.com/avmorch/orchestrator/pkg/dispatcher"
	"github.com/avmorch/orchestrator/pkg/mediapath"
	"github.com/avmorch/orchestrator/pkg/provisioner"
	"github.com/avmorch/orchestrator/pkg/taskmessage"
)

// dslccOutput and testccOutput are the fixed in-container paths the two
// compile stages leave their output at.
const (
	dslccOutput  = "/home/developer/com.zenika.aicdsl/DslFiles/Testing.java"
	testccOutput = "/home/developer/signed.apk"
)

// Store is the subset of the Entity Store the compile pipeline needs.
type Store interface {
	GetProjectVisible(ctx context.Context, id uuid.UUID, userid string) (db.Project, error)
	GetTestsource(ctx context.Context, id uuid.UUID) (db.Testsource, error)
	GetAPK(ctx context.Context, id uuid.UUID) (db.APK, error)
	SetAPKStatus(ctx context.Context, id uuid.UUID, status, reason string) error
	SetAPKPackage(ctx context.Context, id uuid.UUID, pkg string) error
}

var _ Store = (*db.Queries)(nil)

// Compiler composes the driver + Entity Store dependencies the pipeline needs.
type Compiler struct {
	store  Store
	runner *containerrunner.Runner
	media  mediapath.Config
}

// New constructs a Compiler.
func New(store Store, runner *containerrunner.Runner, media mediapath.Config) *Compiler {
	return &Compiler{store: store, runner: runner, media: media}
}

// containerName mints a container name in the same bare-hex shape as the
// original uuid1().hex, so it reads like any other docker container name.
func containerName() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Compile handles testsource_compile: runs the DSL through aic.dslcc to
// produce a Java test, then through aic.testcc to produce a signed APK,
// copies the result into the project container, and records the package
// name parsed out of the compiler's last line of output.
func (c *Compiler) Compile(ctx context.Context, body []byte) dispatcher.Outcome {
	var msg taskmessage.TestsourceCompileMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("decoding testsource_compile: %v", err))
	}

	projectID, err := uuid.Parse(msg.ProjectID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid project_id: %v", err))
	}
	testsourceID, err := uuid.Parse(msg.TestsourceID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid testsource_id: %v", err))
	}
	if _, err := c.store.GetProjectVisible(ctx, projectID, msg.UserID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("user %s has no permission for project %s: %v", msg.UserID, msg.ProjectID, err))
	}

	testsource, err := c.store.GetTestsource(ctx, testsourceID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("testsource %s not found: %v", msg.TestsourceID, err))
	}
	if !testsource.APKID.Valid {
		return dispatcher.OutcomePermanent(fmt.Sprintf("testsource %s has no bound apk", msg.TestsourceID))
	}
	apkID := uuid.UUID(testsource.APKID.Bytes)

	apk, err := c.store.GetAPK(ctx, apkID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("apk %s not found: %v", apkID, err))
	}

	if err := c.store.SetAPKStatus(ctx, apk.APKID, "COMPILING DSL", ""); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("setting COMPILING DSL status: %v", err))
	}

	dslcc := containerName()
	if _, err := c.runner.RunDetached(ctx, []byte(testsource.Content),
		"--name", dslcc, "-i", "--restart=no", "aic.dslcc", "scripts/compile.sh"); err != nil {
		c.failAPK(ctx, apk.APKID, err.Error())
		c.runner.Run(ctx, "rm", "-f", dslcc)
		return dispatcher.OutcomePermanent(fmt.Sprintf("compiling dsl: %v", err))
	}

	testingJava, err := c.runner.CopyOut(ctx, dslcc, dslccOutput)
	if err != nil {
		c.failAPK(ctx, apk.APKID, err.Error())
		c.runner.Run(ctx, "rm", "-f", dslcc)
		return dispatcher.OutcomePermanent(fmt.Sprintf("retrieving compiled java: %v", err))
	}

	if err := c.store.SetAPKStatus(ctx, apk.APKID, "COMPILING JAVA", ""); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("setting COMPILING JAVA status: %v", err))
	}

	testcc := containerName()
	result, err := c.runner.RunDetached(ctx, testingJava,
		"--name", testcc, "-i", "--restart=no", "aic.testcc", "/home/developer/scripts/compile.sh")
	if err != nil {
		c.failAPK(ctx, apk.APKID, err.Error())
		c.runner.Run(ctx, "rm", "-f", dslcc)
		c.runner.Run(ctx, "rm", "-f", testcc)
		return dispatcher.OutcomePermanent(fmt.Sprintf("compiling java: %v", err))
	}
	packageName := lastOutputLine(result.Stdout())

	c.runner.Run(ctx, "rm", "-f", dslcc)

	if err := c.runner.CopyBetween(ctx, testcc, testccOutput, provisioner.PrjContainer(msg.ProjectID), c.media.APKPath(apkID.String())); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("copying signed apk into project container: %v", err))
	}

	if err := c.store.SetAPKPackage(ctx, apk.APKID, packageName); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("recording package name: %v", err))
	}

	c.runner.Run(ctx, "rm", "-f", testcc)

	if err := c.store.SetAPKStatus(ctx, apk.APKID, "READY", ""); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("setting READY status: %v", err))
	}

	return dispatcher.OutcomeDone()
}

func (c *Compiler) failAPK(ctx context.Context, apkID uuid.UUID, reason string) {
	c.store.SetAPKStatus(ctx, apkID, "ERROR", reason)
}

// lastOutputLine returns the last non-empty line of a compiler's stdout,
// mirroring Python's proc.out_lines[-1] (the compile scripts print the
// resolved package name as their final line).
func lastOutputLine(stdout string) string {
	lines := strings.Split(strings.TrimRight(stdout, "\n"), "\n")
	return lines[len(lines)-1]
}
