package campaignengine

import (
	"encoding/json"
	"fmt"

	"context"

	"github.com/google/uuid"

	"github.com/avmorch/orchestrator/internal/db"
	"github.com/avmorch/orchestrator/pkg/dispatcher"
	"github.com/avmorch/orchestrator/pkg/otp"
	"github.com/avmorch/orchestrator/pkg/provisioner"
	"github.com/avmorch/orchestrator/pkg/taskmessage"
)

// vncSecretAlphabet mirrors the Python campaign_avm_create's
// password_chars='0123456789abcdef' for the per-AVM VNC OTP seed.
const vncSecretAlphabet = "0123456789abcdef"

// CampaignAVMCreate handles campaign_avm_create (spec.md §4.5 step 2): mints
// an ephemeral AVM row owned by the testrun, enforces the async VM quota by
// requesting redelivery when it is exhausted, then runs the same
// create-stack sequence as the ordinary AVM lifecycle's avm_create.
func (e *Engine) CampaignAVMCreate(ctx context.Context, body []byte) dispatcher.Outcome {
	var msg taskmessage.CampaignAVMCreateMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("decoding campaign_avm_create: %v", err))
	}

	projectID, err := uuid.Parse(msg.ProjectID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid project_id: %v", err))
	}
	campaignID, err := uuid.Parse(msg.CampaignID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid campaign_id: %v", err))
	}
	testrunID, err := uuid.Parse(msg.TestrunID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid testrun_id: %v", err))
	}

	project, err := e.store.GetProjectVisible(ctx, projectID, msg.UserID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("user %s has no permission for project %s: %v", msg.UserID, msg.ProjectID, err))
	}
	if _, err := e.store.GetCampaign(ctx, campaignID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("campaign not found: %s: %v", msg.CampaignID, err))
	}

	if e.cfg.VMAsyncMax > 0 {
		current, err := e.store.CountLiveAsyncAVMsForOwner(ctx, msg.UserID)
		if err != nil {
			return dispatcher.OutcomePermanent(fmt.Sprintf("counting async avms: %v", err))
		}
		if current >= e.cfg.VMAsyncMax {
			return dispatcher.OutcomeRetry(fmt.Sprintf("async vm quota reached (%d), waiting for a slot", current))
		}
	}

	vncSecret, err := otp.GeneratePassword(128, vncSecretAlphabet)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("generating vnc secret: %v", err))
	}

	avmID := uuid.New()
	if _, err := e.store.CreateAVM(ctx, db.CreateAVMParams{
		AVMID:     avmID,
		UIDOwner:  msg.UserID,
		ProjectID: project.ProjectID,
		Image:     msg.Image,
		HWConfig:  fromMsgHWConfig(msg.HWConfig),
		TestrunID: &testrunID,
	}); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("creating avm: %v", err))
	}
	if err := e.store.SetTestrunAVM(ctx, testrunID, avmID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("binding testrun avm: %v", err))
	}

	if _, err := e.store.GetAVMVisible(ctx, avmID, msg.UserID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("user %s has no permission for avm %s: %v", msg.UserID, avmID, err))
	}
	if err := e.store.SetAVMStatus(ctx, avmID, "CREATING", ""); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("setting CREATING status: %v", err))
	}

	amqpUser := avmID.String()
	amqpPassword, err := otp.GeneratePassword(32, provisioner.PasswordAlphabet)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("generating amqp password: %v", err))
	}
	if err := provisioner.AMQPConfigCreate(ctx, e.broker, e.amqp, e.cfg.AMQPVhost, amqpUser, amqpUser, amqpPassword); err != nil {
		return dispatcher.OutcomePermanent(err.Error())
	}

	stackName := provisioner.StackName(e.cfg.StackPrefix, msg.UserID, amqpUser)
	if err := e.store.SetAVMStackName(ctx, avmID, stackName); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("persisting stack name: %v", err))
	}

	image, err := e.store.GetImage(ctx, msg.Image)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("image %s not found: %v", msg.Image, err))
	}

	stack, err := e.heat.StackCreate(ctx, stackName, map[string]any{
		"system_image": image.SystemImage,
		"data_image":   image.DataImage,
		"floating_net": e.cfg.FloatingNet,
	}, e.cfg.HeatTemplate)
	if err != nil {
		if provisioner.IsClassifiedHeatError(err) {
			return dispatcher.OutcomePermanentClassified(err.Error())
		}
		return dispatcher.OutcomePermanent(err.Error())
	}

	if err := e.broker.Publish(ctx, taskmessage.CampaignContainersCreate, taskmessage.CampaignContainersCreateMsg{
		UserID:         msg.UserID,
		ProjectID:      msg.ProjectID,
		CampaignID:     msg.CampaignID,
		TestrunID:      msg.TestrunID,
		AVMID:          avmID.String(),
		HWConfig:       msg.HWConfig,
		AMQPUser:       amqpUser,
		AMQPPassword:   amqpPassword,
		AndroidVersion: image.AndroidVersion,
		StackName:      stackName,
		StackID:        stack.ID,
		APKIDs:         msg.APKIDs,
		Packages:       msg.Packages,
		VNCSecret:      vncSecret,
	}, 0); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("publishing campaign_containers_create: %v", err))
	}

	return dispatcher.OutcomeDone()
}

// CampaignContainersCreate handles campaign_containers_create (spec.md §4.5
// step 2, continued): identical to avm_containers_create's polling/bring-up
// sequence, followed by a campaign_runtest publish instead of settling into
// a standalone READY AVM.
func (e *Engine) CampaignContainersCreate(ctx context.Context, body []byte) dispatcher.Outcome {
	var msg taskmessage.CampaignContainersCreateMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("decoding campaign_containers_create: %v", err))
	}

	avmID, err := uuid.Parse(msg.AVMID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid avm_id: %v", err))
	}
	if _, err := e.store.GetAVMVisible(ctx, avmID, msg.UserID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("user %s has no permission for avm %s: %v", msg.UserID, msg.AVMID, err))
	}

	outputs, err := e.heat.StackOutput(ctx, msg.StackName, msg.StackID)
	if err != nil {
		if provisioner.IsClassifiedHeatError(err) {
			return dispatcher.OutcomePermanentClassified(err.Error())
		}
		return dispatcher.OutcomePermanent(err.Error())
	}
	instanceIP := outputs["instance_ip"]
	if instanceIP == "" {
		return dispatcher.OutcomeRetry(fmt.Sprintf("stack_output for %s not ready", msg.StackName))
	}

	env := provisioner.PlayerUpEnv(taskmessage.AVMContainersCreateMsg{
		AVMID: msg.AVMID, ProjectID: msg.ProjectID, AMQPUser: msg.AMQPUser,
		AMQPPassword: msg.AMQPPassword, HWConfig: msg.HWConfig, VNCSecret: msg.VNCSecret,
		AndroidVersion: msg.AndroidVersion,
	}, instanceIP, e.cfg.AMQPHostname)
	if err := e.runner.ComposeUp(ctx, e.cfg.ComposeProjDir, env, "-f", "run-player.yml", "--project-name", provisioner.ComposeProject(msg.AVMID)); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("bringing up player containers: %v", err))
	}

	if err := e.store.OpenBilling(ctx, avmID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("opening billing: %v", err))
	}
	if err := e.store.SetAVMStatus(ctx, avmID, "READY", ""); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("setting READY status: %v", err))
	}

	if err := e.broker.Publish(ctx, taskmessage.CampaignRunTest, taskmessage.CampaignRunTestMsg{
		UserID:     msg.UserID,
		ProjectID:  msg.ProjectID,
		CampaignID: msg.CampaignID,
		AVMID:      msg.AVMID,
		StackName:  msg.StackName,
		APKIDs:     msg.APKIDs,
		TestrunID:  msg.TestrunID,
		Packages:   msg.Packages,
	}, 0); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("publishing campaign_runtest: %v", err))
	}

	return dispatcher.OutcomeDone()
}

