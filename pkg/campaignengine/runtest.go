package campaignengine

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/avmorch/orchestrator/pkg/dispatcher"
	"github.com/avmorch/orchestrator/pkg/provisioner"
	"github.com/avmorch/orchestrator/pkg/taskmessage"
)

// sampleInstrumentation is excluded from discovered instrumentation packages
// (spec.md §4.5 campaign_runtest): every AVM image ships it, and running it
// would add a no-op test result to every campaign.
const sampleInstrumentation = "com.example.android.apis/.app.LocalSampleInstrumentation"

var instrumentationLine = regexp.MustCompile(`^instrumentation:(?P<package>.*) \(target=(?P<target>.*)\)$`)

// CampaignRunTest handles campaign_runtest (spec.md §4.5 step 3): waits for
// the AVM to finish booting, installs every bound APK in order, discovers or
// reuses the instrumentation packages to run, runs each one, tears the AVM
// down, then rolls the result up into the campaign's status.
func (e *Engine) CampaignRunTest(ctx context.Context, body []byte) dispatcher.Outcome {
	var msg taskmessage.CampaignRunTestMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("decoding campaign_runtest: %v", err))
	}

	avmID, err := uuid.Parse(msg.AVMID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid avm_id: %v", err))
	}
	testrunID, err := uuid.Parse(msg.TestrunID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid testrun_id: %v", err))
	}
	campaignID, err := uuid.Parse(msg.CampaignID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid campaign_id: %v", err))
	}
	if _, err := e.store.GetAVMVisible(ctx, avmID, msg.UserID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("user %s has no permission for avm %s: %v", msg.UserID, msg.AVMID, err))
	}

	container := provisioner.AdbContainer(msg.AVMID)
	boot, err := e.runner.Exec(ctx, container, "adb", "shell", "getprop", "dev.bootcomplete")
	if err != nil {
		return dispatcher.OutcomeRetry(fmt.Sprintf("probing dev.bootcomplete: %v", err))
	}
	if strings.TrimSpace(boot.Stdout()) != "1" {
		return dispatcher.OutcomeRetry(fmt.Sprintf("avm %s not booted yet", msg.AVMID))
	}

	for _, apkID := range msg.APKIDs {
		if outcome := e.installTestrunAPK(ctx, testrunID, avmID, apkID); outcome.Kind != dispatcher.Done {
			return outcome
		}
	}

	packages := msg.Packages
	if len(packages) == 0 {
		discovered, err := e.campaignGetPackages(ctx, avmID)
		if err != nil {
			return dispatcher.OutcomePermanent(fmt.Sprintf("discovering instrumentation packages: %v", err))
		}
		packages = discovered
		for _, pkg := range packages {
			if err := e.store.AddTestrunPackage(ctx, testrunID, pkg); err != nil {
				return dispatcher.OutcomePermanent(fmt.Sprintf("recording discovered package %s: %v", pkg, err))
			}
		}
	}

	for _, pkg := range packages {
		if outcome := e.runTestrunPackage(ctx, testrunID, avmID, pkg); outcome.Kind != dispatcher.Done {
			return outcome
		}
	}

	if err := e.runner.ComposeDown(ctx, e.cfg.ComposeProjDir, []string{
		"AIC_AVM_PREFIX=" + msg.AVMID + "_",
	}); err != nil {
		e.log.Warn("tearing down campaign player containers", "avm_id", msg.AVMID, "error", err)
	}
	if err := e.store.CloseBilling(ctx, avmID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("closing billing: %v", err))
	}
	if err := provisioner.AMQPConfigDelete(ctx, e.broker, e.amqp, msg.AVMID, e.log); err != nil {
		return dispatcher.OutcomePermanent(err.Error())
	}
	if err := e.heat.StackDelete(ctx, msg.StackName); err != nil {
		if !provisioner.IsClassifiedHeatError(err) {
			return dispatcher.OutcomePermanent(err.Error())
		}
		e.log.Warn("stack already removed", "stack_name", msg.StackName)
	}
	if err := e.store.SetAVMStatus(ctx, avmID, "DELETED", ""); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("setting DELETED status: %v", err))
	}

	ready, total, err := e.store.CampaignProgress(ctx, campaignID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("checking campaign progress: %v", err))
	}
	if ready == total {
		if err := e.store.SetCampaignStatus(ctx, campaignID, "READY"); err != nil {
			return dispatcher.OutcomePermanent(fmt.Sprintf("setting READY status: %v", err))
		}
	}

	return dispatcher.OutcomeDone()
}

// installTestrunAPK mints a command row for one bound APK and runs the same
// uninstall/relax/install sequence as apk_install, binding the resulting
// command_id back onto the testrun_apks row.
func (e *Engine) installTestrunAPK(ctx context.Context, testrunID, avmID uuid.UUID, apkIDStr string) dispatcher.Outcome {
	apkID, err := uuid.Parse(apkIDStr)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid apk_id: %v", err))
	}
	apk, err := e.store.GetAPK(ctx, apkID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("apk %s not found: %v", apkIDStr, err))
	}

	installArgs := []string{"adb", "install", "-r", e.media.APKPath(apkIDStr)}
	commandID := uuid.New()
	if err := e.cmd.Create(ctx, commandID, avmID, installArgs); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("recording install command: %v", err))
	}
	if err := e.store.SetTestrunAPKCommand(ctx, testrunID, apkID, commandID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("binding testrun apk command: %v", err))
	}

	if _, err := e.cmd.Run(ctx, avmID, commandID, true, "adb", "shell", "pm", "uninstall", apk.Package); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("uninstalling prior apk: %v", err))
	}
	if _, err := e.cmd.Run(ctx, avmID, commandID, true, "adb", "shell", "settings", "put", "global", "install_non_market_apps", "1"); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("relaxing install settings: %v", err))
	}
	if _, err := e.cmd.Run(ctx, avmID, commandID, true, "adb", "shell", "settings", "put", "global", "package_verifier_enable", "0"); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("disabling package verifier: %v", err))
	}

	result, err := e.cmd.Run(ctx, avmID, commandID, false, installArgs...)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("installing apk %s: %v", apkIDStr, err))
	}
	if !strings.Contains(result.Stdout(), "Success") {
		return dispatcher.OutcomePermanent("install failed: " + result.Stdout())
	}
	return dispatcher.OutcomeDone()
}

// runTestrunPackage mints a command row for one instrumentation package and
// runs it, binding the command_id back onto the testrun_packages row.
func (e *Engine) runTestrunPackage(ctx context.Context, testrunID, avmID uuid.UUID, pkg string) dispatcher.Outcome {
	args := []string{"adb", "shell", "am", "instrument", "-r", "-w", pkg}
	commandID := uuid.New()
	if err := e.cmd.Create(ctx, commandID, avmID, args); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("recording instrumentation command: %v", err))
	}
	if err := e.store.SetTestrunPackageCommand(ctx, testrunID, pkg, commandID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("binding testrun package command: %v", err))
	}
	if _, err := e.cmd.Run(ctx, avmID, commandID, false, args...); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("running instrumentation %s: %v", pkg, err))
	}
	return dispatcher.OutcomeDone()
}

// campaignGetPackages discovers the instrumentation packages installed on
// the AVM by parsing `pm list instrumentation`, excluding the stock sample
// instrumentation every image ships (spec.md §4.5 campaign_get_packages).
func (e *Engine) campaignGetPackages(ctx context.Context, avmID uuid.UUID) ([]string, error) {
	container := provisioner.AdbContainer(avmID.String())
	result, err := e.runner.Exec(ctx, container, "adb", "shell", "pm", "list", "instrumentation")
	if err != nil {
		return nil, fmt.Errorf("listing instrumentation: %w", err)
	}

	var packages []string
	for _, line := range result.OutLines() {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := instrumentationLine.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("unrecognised instrumentation line: %q", line)
		}
		pkg := m[1]
		if pkg == sampleInstrumentation {
			continue
		}
		packages = append(packages, pkg)
	}
	return packages, nil
}
