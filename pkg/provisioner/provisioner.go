// Package provisioner implements the avm_create / avm_containers_create /
// avm_delete task handlers: the three-step VM lifecycle that drives Heat,
// the container runtime, and the per-AVM AMQP credentials (spec.md §4.4).
package provisioner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/avmorch/orchestrator/internal/db"
	"github.com/avmorch/orchestrator/pkg/amqpadmin"
	"github.com/avmorch/orchestrator/pkg/broker"
	"github.com/avmorch/orchestrator/pkg/containerrunner"
	"github.com/avmorch/orchestrator/pkg/dispatcher"
	"github.com/avmorch/orchestrator/pkg/heat"
	"github.com/avmorch/orchestrator/pkg/otp"
	"github.com/avmorch/orchestrator/pkg/taskmessage"
)

// Store is the subset of the Entity Store the provisioner needs.
type Store interface {
	GetAVM(ctx context.Context, id uuid.UUID) (db.AVM, error)
	SetAVMStatus(ctx context.Context, id uuid.UUID, status, reason string) error
	SetAVMStackName(ctx context.Context, id uuid.UUID, stackName string) error
	GetImage(ctx context.Context, key string) (db.Image, error)
	OpenBilling(ctx context.Context, avmID uuid.UUID) error
	CloseBilling(ctx context.Context, avmID uuid.UUID) error
	CountLiveAVMsForOwner(ctx context.Context, uidOwner string) (int, error)
}

var _ Store = (*db.Queries)(nil)

// Config carries the orchestration-wide settings this package needs
// (spec.md §6 "orchestration.stackprefix", "openstack.floating_net/template",
// "amqp.hostname").
type Config struct {
	StackPrefix    string
	FloatingNet    string
	HeatTemplate   string
	AMQPHostname   string
	AMQPVhost      string
	ComposeProjDir string
	VMLiveMax      int
}

// Provisioner composes the external drivers needed by the AVM lifecycle handlers.
type Provisioner struct {
	store   Store
	broker  *broker.Broker
	amqp    *amqpadmin.Client
	heatCli *heat.Client
	runner  *containerrunner.Runner
	cfg     Config
	log     *slog.Logger
}

// New constructs a Provisioner.
func New(store Store, b *broker.Broker, amqp *amqpadmin.Client, heatCli *heat.Client, runner *containerrunner.Runner, cfg Config, log *slog.Logger) *Provisioner {
	return &Provisioner{store: store, broker: b, amqp: amqp, heatCli: heatCli, runner: runner, cfg: cfg, log: log}
}

// AMQPConfigCreate provisions the per-AVM event queues and AMQP broker
// credentials (spec.md §4.4 avm_create: "AMQP user+queue setup"). Exported so
// the campaign engine's ephemeral AVMs can run the identical sequence.
func AMQPConfigCreate(ctx context.Context, b *broker.Broker, amqp *amqpadmin.Client, vhost, avmID, amqpUser, amqpPassword string) error {
	if err := b.CreateEventQueues(avmID); err != nil {
		return fmt.Errorf("provisioner: creating event queues: %w", err)
	}
	if err := amqp.CreateUser(ctx, amqpUser, amqpPassword); err != nil {
		return fmt.Errorf("provisioner: creating amqp user: %w", err)
	}
	if err := amqp.SetUserPermissions(ctx, vhost, amqpUser, avmID); err != nil {
		return fmt.Errorf("provisioner: setting amqp permissions: %w", err)
	}
	return nil
}

// AMQPConfigDelete tears down the per-AVM event queues and AMQP credentials,
// tolerating a user that is already gone (spec.md §4.4 "Delete").
func AMQPConfigDelete(ctx context.Context, b *broker.Broker, amqp *amqpadmin.Client, avmID string, log *slog.Logger) error {
	if err := b.DeleteEventQueues(avmID); err != nil {
		return fmt.Errorf("provisioner: deleting event queues: %w", err)
	}
	if err := amqp.DeleteUser(ctx, avmID); err != nil {
		if amqpadmin.IsNotFound(err) {
			log.Warn("amqp user already removed", "avm_id", avmID)
			return nil
		}
		return fmt.Errorf("provisioner: deleting amqp user: %w", err)
	}
	return nil
}

// AVMCreate handles avm_create (spec.md §4.4 step 1): sets CREATING, opens
// the AMQP credentials, derives and persists the stack name, submits the
// Heat stack, and publishes avm_containers_create to continue the chain.
func (p *Provisioner) AVMCreate(ctx context.Context, body []byte) dispatcher.Outcome {
	var msg taskmessage.AVMCreateMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("decoding avm_create: %v", err))
	}

	avmID, err := uuid.Parse(msg.AVMID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid avm_id: %v", err))
	}
	if _, err := p.store.GetAVM(ctx, avmID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("avm %s not found: %v", msg.AVMID, err))
	}

	if p.cfg.VMLiveMax > 0 {
		current, err := p.store.CountLiveAVMsForOwner(ctx, msg.UserID)
		if err != nil {
			return dispatcher.OutcomePermanent(fmt.Sprintf("counting live avms: %v", err))
		}
		if current >= p.cfg.VMLiveMax {
			return dispatcher.OutcomeRetry(fmt.Sprintf("vm quota reached (%d), waiting for a slot", current))
		}
	}

	if err := p.store.SetAVMStatus(ctx, avmID, "CREATING", ""); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("setting CREATING status: %v", err))
	}

	amqpUser := msg.AVMID
	amqpPassword, err := otp.GeneratePassword(32, PasswordAlphabet)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("generating amqp password: %v", err))
	}

	if err := AMQPConfigCreate(ctx, p.broker, p.amqp, p.cfg.AMQPVhost, msg.AVMID, amqpUser, amqpPassword); err != nil {
		return dispatcher.OutcomePermanent(err.Error())
	}

	stackName := StackName(p.cfg.StackPrefix, msg.UserID, msg.AVMID)
	if err := p.store.SetAVMStackName(ctx, avmID, stackName); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("persisting stack name: %v", err))
	}

	image, err := p.store.GetImage(ctx, msg.Image)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("image %s not found: %v", msg.Image, err))
	}

	stack, err := p.heatCli.StackCreate(ctx, stackName, map[string]any{
		"system_image": image.SystemImage,
		"data_image":   image.DataImage,
		"floating_net": p.cfg.FloatingNet,
	}, p.cfg.HeatTemplate)
	if err != nil {
		if IsClassifiedHeatError(err) {
			return dispatcher.OutcomePermanentClassified(err.Error())
		}
		return dispatcher.OutcomePermanent(err.Error())
	}

	if err := p.broker.Publish(ctx, taskmessage.AVMContainersCreate, taskmessage.AVMContainersCreateMsg{
		UserID:         msg.UserID,
		ProjectID:      msg.ProjectID,
		AVMID:          msg.AVMID,
		AMQPUser:       amqpUser,
		AMQPPassword:   amqpPassword,
		HWConfig:       msg.HWConfig,
		StackName:      stackName,
		StackID:        stack.ID,
		AndroidVersion: image.AndroidVersion,
		VNCSecret:      msg.VNCSecret,
	}, 0); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("publishing avm_containers_create: %v", err))
	}

	return dispatcher.OutcomeDone()
}

// AVMContainersCreate handles avm_containers_create (spec.md §4.4 steps
// 1-2): polls the Heat stack output for an instance IP, bringing up the
// player containers once it appears, then opens billing and marks READY.
func (p *Provisioner) AVMContainersCreate(ctx context.Context, body []byte) dispatcher.Outcome {
	var msg taskmessage.AVMContainersCreateMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("decoding avm_containers_create: %v", err))
	}

	avmID, err := uuid.Parse(msg.AVMID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid avm_id: %v", err))
	}
	if _, err := p.store.GetAVM(ctx, avmID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("avm %s not found: %v", msg.AVMID, err))
	}

	outputs, err := p.heatCli.StackOutput(ctx, msg.StackName, msg.StackID)
	if err != nil {
		if IsClassifiedHeatError(err) {
			return dispatcher.OutcomePermanentClassified(err.Error())
		}
		return dispatcher.OutcomePermanent(err.Error())
	}
	instanceIP := outputs["instance_ip"]
	if instanceIP == "" {
		return dispatcher.OutcomeRetry(fmt.Sprintf("stack_output for %s not ready", msg.StackName))
	}

	env := PlayerUpEnv(msg, instanceIP, p.cfg.AMQPHostname)

	if err := p.runner.ComposeUp(ctx, p.cfg.ComposeProjDir, env, "-f", "run-player.yml", "--project-name", ComposeProject(msg.AVMID)); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("bringing up player containers: %v", err))
	}

	if err := p.store.OpenBilling(ctx, avmID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("opening billing: %v", err))
	}

	if err := p.store.SetAVMStatus(ctx, avmID, "READY", ""); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("setting READY status: %v", err))
	}

	return dispatcher.OutcomeDone()
}

// AVMDelete handles avm_delete (spec.md §4.4 "Delete"): tears down the
// player containers, closes billing, releases the AMQP credentials, and
// deletes the Heat stack, tolerating a stack that is already gone.
func (p *Provisioner) AVMDelete(ctx context.Context, body []byte) dispatcher.Outcome {
	var msg taskmessage.AVMDeleteMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("decoding avm_delete: %v", err))
	}

	avmID, err := uuid.Parse(msg.AVMID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid avm_id: %v", err))
	}
	avm, err := p.store.GetAVM(ctx, avmID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("avm %s not found: %v", msg.AVMID, err))
	}

	env := []string{
		"AIC_AVM_PREFIX=" + msg.AVMID + "_",
		"AIC_PROJECT_PREFIX=" + avm.ProjectID.String() + "_",
	}
	composeArgs := []string{"-f", "run-player.yml", "--project-name", ComposeProject(msg.AVMID)}
	if err := p.runner.ComposeDown(ctx, p.cfg.ComposeProjDir, env); err != nil {
		p.log.Warn("tearing down player containers", "avm_id", msg.AVMID, "error", err, "args", composeArgs)
	}

	if err := p.store.CloseBilling(ctx, avmID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("closing billing: %v", err))
	}

	if err := AMQPConfigDelete(ctx, p.broker, p.amqp, msg.AVMID, p.log); err != nil {
		return dispatcher.OutcomePermanent(err.Error())
	}

	if err := p.heatCli.StackDelete(ctx, msg.StackName); err != nil {
		if !IsClassifiedHeatError(err) {
			return dispatcher.OutcomePermanent(err.Error())
		}
		p.log.Warn("stack already removed", "stack_name", msg.StackName)
	}

	if err := p.store.SetAVMStatus(ctx, avmID, "DELETED", ""); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("setting DELETED status: %v", err))
	}

	return dispatcher.OutcomeDone()
}

// PlayerUpEnv builds the docker-compose environment for a player container
// group, mirroring the Python implementation's envvars dict (spec.md §4.4
// avm_containers_create).
func PlayerUpEnv(msg taskmessage.AVMContainersCreateMsg, instanceIP, amqpHostname string) []string {
	hc := msg.HWConfig
	maxDim := hc.Width
	if hc.Height > maxDim {
		maxDim = hc.Height
	}
	return []string{
		"AIC_AVM_PREFIX=" + msg.AVMID + "_",
		"AIC_PROJECT_PREFIX=" + msg.ProjectID + "_",
		"AIC_PLAYER_VM_ID=" + msg.AVMID,
		"AIC_PLAYER_VM_HOST=" + instanceIP,
		"AIC_PLAYER_AMQP_HOST=" + amqpHostname,
		"AIC_PLAYER_AMQP_USERNAME=" + msg.AMQPUser,
		"AIC_PLAYER_AMQP_PASSWORD=" + msg.AMQPPassword,
		"AIC_PLAYER_WIDTH=" + strconv.Itoa(int(hc.Width)),
		"AIC_PLAYER_HEIGHT=" + strconv.Itoa(int(hc.Height)),
		"AIC_PLAYER_MAX_DIMENSION=" + strconv.Itoa(int(maxDim)),
		"AIC_PLAYER_DPI=" + strconv.Itoa(int(hc.DPI)),
		"AIC_PLAYER_VNC_SECRET=" + msg.VNCSecret,
		"AIC_PLAYER_ENABLE_SENSORS=" + strconv.FormatBool(hc.Sensors),
		"AIC_PLAYER_ENABLE_BATTERY=" + strconv.FormatBool(hc.Battery),
		"AIC_PLAYER_ENABLE_GPS=" + strconv.FormatBool(hc.GPS),
		"AIC_PLAYER_ENABLE_CAMERA=" + strconv.FormatBool(hc.Camera),
		"AIC_PLAYER_ENABLE_RECORD=" + strconv.FormatBool(hc.Record),
		"AIC_PLAYER_ENABLE_GSM=" + strconv.FormatBool(hc.GSM),
		"AIC_PLAYER_ENABLE_NFC=" + strconv.FormatBool(hc.NFC),
		"AIC_PLAYER_ANDROID_VERSION=" + msg.AndroidVersion,
		"AIC_PLAYER_PATH_RECORD=/data/avm/log/",
	}
}

// PasswordAlphabet mirrors the Python generate_password's default charset:
// ASCII letters and digits.
const PasswordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// IsClassifiedHeatError reports whether err is one of the typed Heat errors
// that should be acked once projected rather than sent to the dead-letter
// queue for indefinite retry (spec.md §9).
func IsClassifiedHeatError(err error) bool {
	switch err.(type) {
	case *heat.AVMImageNotFoundError, *heat.AVMNotFoundError:
		return true
	default:
		return false
	}
}
