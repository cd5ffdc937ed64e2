// Package campaignengine expands a campaign into per-image testruns, drives
// each testrun's ephemeral AVM through creation, APK install, and
// instrumentation, and collapses the results back into the campaign's status
// (spec.md §4.5). It is the one place that mints ephemeral, campaign-owned
// AVMs rather than ones created through the ordinary AVM lifecycle.
package campaignengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/avmorch/orchestrator/internal/db"
	"github.com/avmorch/orchestrator/pkg/amqpadmin"
	"github.com/avmorch/orchestrator/pkg/avmcommand"
	"github.com/avmorch/orchestrator/pkg/broker"
	"github.com/avmorch/orchestrator/pkg/containerrunner"
	"github.com/avmorch/orchestrator/pkg/dispatcher"
	"github.com/avmorch/orchestrator/pkg/heat"
	"github.com/avmorch/orchestrator/pkg/mediapath"
	"github.com/avmorch/orchestrator/pkg/provisioner"
	"github.com/avmorch/orchestrator/pkg/taskmessage"
)

// Store is the subset of the Entity Store the campaign engine needs.
type Store interface {
	GetProjectVisible(ctx context.Context, id uuid.UUID, userid string) (db.Project, error)
	GetCampaign(ctx context.Context, id uuid.UUID) (db.Campaign, error)
	SetCampaignStatus(ctx context.Context, id uuid.UUID, status string) error
	ListTestrunsForCampaign(ctx context.Context, campaignID uuid.UUID) ([]db.Testrun, error)
	ListTestrunAPKs(ctx context.Context, testrunID uuid.UUID) ([]db.TestrunAPK, error)
	ListTestrunPackages(ctx context.Context, testrunID uuid.UUID) ([]db.TestrunPackage, error)
	SetTestrunAVM(ctx context.Context, id, avmID uuid.UUID) error
	SetTestrunAPKCommand(ctx context.Context, testrunID, apkID, commandID uuid.UUID) error
	AddTestrunPackage(ctx context.Context, testrunID uuid.UUID, pkg string) error
	SetTestrunPackageCommand(ctx context.Context, testrunID uuid.UUID, pkg string, commandID uuid.UUID) error
	CampaignProgress(ctx context.Context, campaignID uuid.UUID) (ready, total int, err error)

	CreateAVM(ctx context.Context, p db.CreateAVMParams) (db.AVM, error)
	GetAVMVisible(ctx context.Context, id uuid.UUID, userid string) (db.AVM, error)
	GetAVM(ctx context.Context, id uuid.UUID) (db.AVM, error)
	SetAVMStatus(ctx context.Context, id uuid.UUID, status, reason string) error
	SetAVMStackName(ctx context.Context, id uuid.UUID, stackName string) error
	CountLiveAsyncAVMsForOwner(ctx context.Context, uidOwner string) (int, error)
	GetImage(ctx context.Context, key string) (db.Image, error)
	OpenBilling(ctx context.Context, avmID uuid.UUID) error
	CloseBilling(ctx context.Context, avmID uuid.UUID) error
	GetAPK(ctx context.Context, id uuid.UUID) (db.APK, error)
}

var _ Store = (*db.Queries)(nil)

// Config carries the quota and stack-naming settings the engine needs
// (spec.md §8 "quota.vm_async_max", §6 "orchestration.stackprefix").
type Config struct {
	VMAsyncMax     int
	StackPrefix    string
	FloatingNet    string
	HeatTemplate   string
	AMQPHostname   string
	AMQPVhost      string
	ComposeProjDir string
}

// Engine composes the drivers the campaign lifecycle touches.
type Engine struct {
	store  Store
	broker *broker.Broker
	amqp   *amqpadmin.Client
	heat   *heat.Client
	runner *containerrunner.Runner
	cmd    *avmcommand.Runner
	media  mediapath.Config
	cfg    Config
	log    *slog.Logger
}

// New constructs an Engine.
func New(store Store, b *broker.Broker, amqp *amqpadmin.Client, heatCli *heat.Client, runner *containerrunner.Runner, cmd *avmcommand.Runner, media mediapath.Config, cfg Config, log *slog.Logger) *Engine {
	return &Engine{store: store, broker: b, amqp: amqp, heat: heatCli, runner: runner, cmd: cmd, media: media, cfg: cfg, log: log}
}

// CampaignRun handles campaign_run (spec.md §4.5 step 1): transitions the
// campaign to RUNNING and publishes one campaign_avm_create per testrun.
func (e *Engine) CampaignRun(ctx context.Context, body []byte) dispatcher.Outcome {
	var msg taskmessage.CampaignRunMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("decoding campaign_run: %v", err))
	}

	projectID, err := uuid.Parse(msg.ProjectID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid project_id: %v", err))
	}
	campaignID, err := uuid.Parse(msg.CampaignID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid campaign_id: %v", err))
	}

	if _, err := e.store.GetProjectVisible(ctx, projectID, msg.UserID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("user %s has no permission for project %s: %v", msg.UserID, msg.ProjectID, err))
	}
	if _, err := e.store.GetCampaign(ctx, campaignID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("campaign not found: %s: %v", msg.CampaignID, err))
	}

	if err := e.store.SetCampaignStatus(ctx, campaignID, "RUNNING"); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("setting RUNNING status: %v", err))
	}

	testruns, err := e.store.ListTestrunsForCampaign(ctx, campaignID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("listing testruns: %v", err))
	}

	for _, t := range testruns {
		apks, err := e.store.ListTestrunAPKs(ctx, t.TestrunID)
		if err != nil {
			return dispatcher.OutcomePermanent(fmt.Sprintf("listing testrun apks for %s: %v", t.TestrunID, err))
		}
		apkIDs := make([]string, len(apks))
		for i, a := range apks {
			apkIDs[i] = a.APKID.String()
		}

		pkgs, err := e.store.ListTestrunPackages(ctx, t.TestrunID)
		if err != nil {
			return dispatcher.OutcomePermanent(fmt.Sprintf("listing testrun packages for %s: %v", t.TestrunID, err))
		}
		packages := make([]string, len(pkgs))
		for i, p := range pkgs {
			packages[i] = p.Package
		}

		if err := e.broker.Publish(ctx, taskmessage.CampaignAVMCreate, taskmessage.CampaignAVMCreateMsg{
			UserID:     msg.UserID,
			ProjectID:  msg.ProjectID,
			CampaignID: msg.CampaignID,
			TestrunID:  t.TestrunID.String(),
			Image:      t.Image,
			HWConfig:   toMsgHWConfig(t.HWConfig),
			APKIDs:     apkIDs,
			Packages:   packages,
		}, 0); err != nil {
			return dispatcher.OutcomePermanent(fmt.Sprintf("publishing campaign_avm_create for testrun %s: %v", t.TestrunID, err))
		}
	}

	return dispatcher.OutcomeDone()
}

// CampaignDelete handles campaign_delete (spec.md §4.5 "Delete"): publishes
// avm_delete for every live campaign-spawned AVM, then marks the campaign
// DELETED.
func (e *Engine) CampaignDelete(ctx context.Context, body []byte) dispatcher.Outcome {
	var msg taskmessage.CampaignDeleteMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("decoding campaign_delete: %v", err))
	}

	campaignID, err := uuid.Parse(msg.CampaignID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid campaign_id: %v", err))
	}
	if _, err := e.store.GetCampaign(ctx, campaignID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("campaign not found: %s: %v", msg.CampaignID, err))
	}

	testruns, err := e.store.ListTestrunsForCampaign(ctx, campaignID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("listing testruns: %v", err))
	}

	for _, t := range testruns {
		if !t.AVMID.Valid {
			continue
		}
		avmID := uuid.UUID(t.AVMID.Bytes)
		avm, err := e.store.GetAVMVisible(ctx, avmID, msg.UserID)
		if err != nil {
			continue // already deleted, or never reached READY
		}

		if err := e.broker.Publish(ctx, taskmessage.AVMDelete, taskmessage.AVMDeleteMsg{
			UserID:    msg.UserID,
			AVMID:     avmID.String(),
			StackName: avm.StackName,
		}, 0); err != nil {
			return dispatcher.OutcomePermanent(fmt.Sprintf("publishing avm_delete for %s: %v", avmID, err))
		}
		if err := e.store.SetAVMStatus(ctx, avmID, "DELETING", ""); err != nil {
			return dispatcher.OutcomePermanent(fmt.Sprintf("setting DELETING status: %v", err))
		}
	}

	if err := e.store.SetCampaignStatus(ctx, campaignID, "DELETED"); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("setting DELETED status: %v", err))
	}
	return dispatcher.OutcomeDone()
}

func toMsgHWConfig(hw db.HWConfig) taskmessage.HWConfig {
	return taskmessage.HWConfig{
		Width: hw.Width, Height: hw.Height, DPI: hw.DPI, RAMMb: hw.RAMMb,
		Sensors: hw.Sensors, Battery: hw.Battery, GPS: hw.GPS, Camera: hw.Camera,
		Record: hw.Record, GSM: hw.GSM, NFC: hw.NFC,
	}
}

func fromMsgHWConfig(hw taskmessage.HWConfig) db.HWConfig {
	return db.HWConfig{
		Width: hw.Width, Height: hw.Height, DPI: hw.DPI, RAMMb: hw.RAMMb,
		Sensors: hw.Sensors, Battery: hw.Battery, GPS: hw.GPS, Camera: hw.Camera,
		Record: hw.Record, GSM: hw.GSM, NFC: hw.NFC,
	}
}
