// Package deviceops implements the adb-driven task handlers that act on a
// running AVM directly: installing an APK, firing a monkey stress run, and
// running a single instrumentation package (spec.md §4.4 apk_install,
// avm_monkey, avm_test_run).
package deviceops

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/avmorch/orchestrator/internal/db"
	"github.com/avmorch/orchestrator/pkg/avmcommand"
	"github.com/avmorch/orchestrator/pkg/dispatcher"
	"github.com/avmorch/orchestrator/pkg/mediapath"
	"github.com/avmorch/orchestrator/pkg/taskmessage"
)

// Store is the subset of the Entity Store deviceops needs.
type Store interface {
	GetAVMVisible(ctx context.Context, id uuid.UUID, userid string) (db.AVM, error)
	GetAPK(ctx context.Context, id uuid.UUID) (db.APK, error)
}

var _ Store = (*db.Queries)(nil)

// Ops composes the driver + Entity Store dependencies shared by the
// handlers in this package.
type Ops struct {
	store Store
	cmd   *avmcommand.Runner
	media mediapath.Config
}

// New constructs Ops.
func New(store Store, cmd *avmcommand.Runner, media mediapath.Config) *Ops {
	return &Ops{store: store, cmd: cmd, media: media}
}

// APKInstall handles apk_install (spec.md §4.4): force-uninstalls any prior
// signature, relaxes install-time settings, then installs the APK, failing
// the task if adb doesn't report success.
func (o *Ops) APKInstall(ctx context.Context, body []byte) dispatcher.Outcome {
	var msg taskmessage.APKInstallMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("decoding apk_install: %v", err))
	}

	avmID, err := uuid.Parse(msg.AVMID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid avm_id: %v", err))
	}
	commandID, err := uuid.Parse(msg.CommandID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid command_id: %v", err))
	}
	apkID, err := uuid.Parse(msg.APKID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid apk_id: %v", err))
	}

	if _, err := o.store.GetAVMVisible(ctx, avmID, msg.UserID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("user %s has no permission for avm %s: %v", msg.UserID, msg.AVMID, err))
	}
	apk, err := o.store.GetAPK(ctx, apkID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("apk %s not found: %v", msg.APKID, err))
	}

	// Force uninstall in case of a changed signature; a failure here is
	// expected and ignored (the package may never have been installed).
	if _, err := o.cmd.Run(ctx, avmID, commandID, true, "adb", "shell", "pm", "uninstall", apk.Package); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("uninstalling prior apk: %v", err))
	}
	if _, err := o.cmd.Run(ctx, avmID, commandID, true, "adb", "shell", "settings", "put", "global", "install_non_market_apps", "1"); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("relaxing install settings: %v", err))
	}
	if _, err := o.cmd.Run(ctx, avmID, commandID, true, "adb", "shell", "settings", "put", "global", "package_verifier_enable", "0"); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("disabling package verifier: %v", err))
	}

	result, err := o.cmd.Run(ctx, avmID, commandID, false, "adb", "install", "-r", o.media.APKPath(msg.APKID))
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("installing apk: %v", err))
	}
	if !strings.Contains(result.Stdout(), "Success") {
		return dispatcher.OutcomePermanent("install failed: " + result.Stdout())
	}

	return dispatcher.OutcomeDone()
}

// AVMMonkey handles avm_monkey (spec.md §4.4): drives adb's monkey stress
// tool against the given packages.
func (o *Ops) AVMMonkey(ctx context.Context, body []byte) dispatcher.Outcome {
	var msg taskmessage.AVMMonkeyMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("decoding avm_monkey: %v", err))
	}

	avmID, err := uuid.Parse(msg.AVMID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid avm_id: %v", err))
	}
	commandID, err := uuid.Parse(msg.CommandID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid command_id: %v", err))
	}
	if _, err := o.store.GetAVMVisible(ctx, avmID, msg.UserID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("user %s has no permission for avm %s: %v", msg.UserID, msg.AVMID, err))
	}

	args := []string{"adb", "shell", "monkey"}
	for _, pkg := range msg.Packages {
		args = append(args, "-p", pkg)
	}
	if msg.Throttle > 0 {
		args = append(args, "--throttle", strconv.Itoa(msg.Throttle))
	}
	args = append(args, strconv.Itoa(msg.EventCount))

	if _, err := o.cmd.Run(ctx, avmID, commandID, false, args...); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("running monkey: %v", err))
	}
	return dispatcher.OutcomeDone()
}

// AVMTestRun handles avm_test_run (spec.md §4.4): runs one instrumentation
// package via `adb shell am instrument`.
func (o *Ops) AVMTestRun(ctx context.Context, body []byte) dispatcher.Outcome {
	var msg taskmessage.AVMTestRunMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("decoding avm_test_run: %v", err))
	}

	avmID, err := uuid.Parse(msg.AVMID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid avm_id: %v", err))
	}
	commandID, err := uuid.Parse(msg.CommandID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid command_id: %v", err))
	}
	if _, err := o.store.GetAVMVisible(ctx, avmID, msg.UserID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("user %s has no permission for avm %s: %v", msg.UserID, msg.AVMID, err))
	}

	if _, err := o.cmd.Run(ctx, avmID, commandID, false, "adb", "shell", "am", "instrument", "-r", "-w", msg.Package); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("running instrumentation: %v", err))
	}
	return dispatcher.OutcomeDone()
}
