// Package projectops implements the task handlers that manage a project's
// persistent container group and its uploaded media (spec.md §4.2):
// project_container_create/delete, camera_upload/delete, apk_upload/delete.
// These are the only handlers that read an uploaded file off the local
// filesystem rather than drive an AVM directly.
package projectops

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/avmorch/orchestrator/internal/db"
	"github.com/avmorch/orchestrator/pkg/containerrunner"
	"github.com/avmorch/orchestrator/pkg/dispatcher"
	"github.com/avmorch/orchestrator/pkg/mediapath"
	"github.com/avmorch/orchestrator/pkg/provisioner"
	"github.com/avmorch/orchestrator/pkg/taskmessage"
)

// Store is the subset of the Entity Store projectops needs.
type Store interface {
	GetProjectVisible(ctx context.Context, id uuid.UUID, userid string) (db.Project, error)
	SetProjectStatus(ctx context.Context, id uuid.UUID, status, reason string) error
	CountLiveAVMsForProject(ctx context.Context, projectID uuid.UUID) (int, error)
	CountActiveCampaignsForProject(ctx context.Context, projectID uuid.UUID) (int, error)

	GetCamera(ctx context.Context, id uuid.UUID) (db.Camera, error)
	SetCameraStatus(ctx context.Context, id uuid.UUID, status, reason string) error

	GetAPK(ctx context.Context, id uuid.UUID) (db.APK, error)
	SetAPKStatus(ctx context.Context, id uuid.UUID, status, reason string) error
	UnbindAPKFromTestsources(ctx context.Context, apkID uuid.UUID) error
}

var _ Store = (*db.Queries)(nil)

// Config carries the compose-project and media settings projectops needs.
type Config struct {
	ComposeProjDir string
}

// Ops composes the driver + Entity Store dependencies shared by the
// handlers in this package.
type Ops struct {
	store  Store
	runner *containerrunner.Runner
	media  mediapath.Config
	cfg    Config
}

// New constructs Ops.
func New(store Store, runner *containerrunner.Runner, media mediapath.Config, cfg Config) *Ops {
	return &Ops{store: store, runner: runner, media: media, cfg: cfg}
}

// ProjectContainerCreate handles project_container_create (spec.md §4.2):
// brings up the project's persistent prjdata container and marks it READY.
func (o *Ops) ProjectContainerCreate(ctx context.Context, body []byte) dispatcher.Outcome {
	var msg taskmessage.ProjectContainerCreateMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("decoding project_container_create: %v", err))
	}

	projectID, err := uuid.Parse(msg.ProjectID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid project_id: %v", err))
	}
	if _, err := o.store.GetProjectVisible(ctx, projectID, msg.UserID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("user %s has no permission for project %s: %v", msg.UserID, msg.ProjectID, err))
	}

	if err := o.store.SetProjectStatus(ctx, projectID, "CREATING", ""); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("setting CREATING status: %v", err))
	}

	env := []string{"AIC_PROJECT_PREFIX=" + msg.ProjectID + "_"}
	if err := o.runner.ComposeUp(ctx, o.cfg.ComposeProjDir, env, "-f", "run-project.yml", "--project-name", "project-"+msg.ProjectID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("bringing up project container: %v", err))
	}

	if err := o.store.SetProjectStatus(ctx, projectID, "READY", ""); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("setting READY status: %v", err))
	}
	return dispatcher.OutcomeDone()
}

// ProjectContainerDelete handles project_container_delete (spec.md §4.2):
// refuses while the project still owns live AVMs or active campaigns, then
// tears down the prjdata container and marks the project DELETED.
func (o *Ops) ProjectContainerDelete(ctx context.Context, body []byte) dispatcher.Outcome {
	var msg taskmessage.ProjectContainerDeleteMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("decoding project_container_delete: %v", err))
	}

	projectID, err := uuid.Parse(msg.ProjectID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid project_id: %v", err))
	}
	if _, err := o.store.GetProjectVisible(ctx, projectID, msg.UserID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("user %s has no permission for project %s: %v", msg.UserID, msg.ProjectID, err))
	}

	liveAVMs, err := o.store.CountLiveAVMsForProject(ctx, projectID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("counting live avms: %v", err))
	}
	activeCampaigns, err := o.store.CountActiveCampaignsForProject(ctx, projectID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("counting active campaigns: %v", err))
	}
	if liveAVMs > 0 || activeCampaigns > 0 {
		return dispatcher.OutcomePermanent("cannot delete project with active vms or campaigns")
	}

	env := []string{"AIC_PROJECT_PREFIX=" + msg.ProjectID + "_"}
	if err := o.runner.ComposeDown(ctx, o.cfg.ComposeProjDir, env); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("tearing down project container: %v", err))
	}

	if err := o.store.SetProjectStatus(ctx, projectID, "DELETED", ""); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("setting DELETED status: %v", err))
	}
	return dispatcher.OutcomeDone()
}

// CameraUpload handles camera_upload (spec.md §4.2): transcodes the
// uploaded file into the project container via video_create.sh and marks
// the camera feed READY.
func (o *Ops) CameraUpload(ctx context.Context, body []byte) dispatcher.Outcome {
	var msg taskmessage.CameraUploadMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("decoding camera_upload: %v", err))
	}

	projectID, err := uuid.Parse(msg.ProjectID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid project_id: %v", err))
	}
	cameraID, err := uuid.Parse(msg.CameraID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid camera_id: %v", err))
	}
	if _, err := o.store.GetProjectVisible(ctx, projectID, msg.UserID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("user %s has no permission for project %s: %v", msg.UserID, msg.ProjectID, err))
	}
	if _, err := o.store.GetCamera(ctx, cameraID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("camera %s not found: %v", msg.CameraID, err))
	}

	stdin, err := os.ReadFile(msg.TmpPath)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("reading uploaded file: %v", err))
	}

	container := provisioner.PrjContainer(msg.ProjectID)
	if _, err := o.runner.ExecStdin(ctx, container, stdin, "/root/video_create.sh", msg.Filename, o.media.CameraPath(msg.CameraID)); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("transcoding camera upload: %v", err))
	}

	if err := o.store.SetCameraStatus(ctx, cameraID, "READY", ""); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("setting READY status: %v", err))
	}

	if err := os.Remove(msg.TmpPath); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("removing temp file: %v", err))
	}
	return dispatcher.OutcomeDone()
}

// CameraDelete handles camera_delete (spec.md §4.2): removes the transcoded
// file from the project container and marks the camera feed DELETED.
func (o *Ops) CameraDelete(ctx context.Context, body []byte) dispatcher.Outcome {
	var msg taskmessage.CameraDeleteMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("decoding camera_delete: %v", err))
	}

	projectID, err := uuid.Parse(msg.ProjectID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid project_id: %v", err))
	}
	cameraID, err := uuid.Parse(msg.CameraID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid camera_id: %v", err))
	}
	if _, err := o.store.GetProjectVisible(ctx, projectID, msg.UserID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("user %s has no permission for project %s: %v", msg.UserID, msg.ProjectID, err))
	}
	if _, err := o.store.GetCamera(ctx, cameraID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("camera %s not found: %v", msg.CameraID, err))
	}

	container := provisioner.PrjContainer(msg.ProjectID)
	if _, err := o.runner.Exec(ctx, container, "rm", "-f", o.media.CameraPath(msg.CameraID)); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("deleting camera file: %v", err))
	}

	if err := o.store.SetCameraStatus(ctx, cameraID, "DELETED", ""); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("setting DELETED status: %v", err))
	}
	return dispatcher.OutcomeDone()
}

// APKUpload handles apk_upload (spec.md §4.2): copies the uploaded APK into
// the project container and marks it READY.
func (o *Ops) APKUpload(ctx context.Context, body []byte) dispatcher.Outcome {
	var msg taskmessage.APKUploadMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("decoding apk_upload: %v", err))
	}

	projectID, err := uuid.Parse(msg.ProjectID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid project_id: %v", err))
	}
	apkID, err := uuid.Parse(msg.APKID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid apk_id: %v", err))
	}
	if _, err := o.store.GetProjectVisible(ctx, projectID, msg.UserID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("user %s has no permission for project %s: %v", msg.UserID, msg.ProjectID, err))
	}
	if _, err := o.store.GetAPK(ctx, apkID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("apk %s not found: %v", msg.APKID, err))
	}

	container := provisioner.PrjContainer(msg.ProjectID)
	apkPath := o.media.APKPath(msg.APKID)
	if err := o.runner.CopyIn(ctx, msg.TmpPath, container, apkPath); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("copying apk into project container: %v", err))
	}
	if _, err := o.runner.Exec(ctx, container, "chmod", "644", apkPath); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("making apk readable: %v", err))
	}

	if err := o.store.SetAPKStatus(ctx, apkID, "READY", ""); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("setting READY status: %v", err))
	}

	if err := os.Remove(msg.TmpPath); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("removing temp file: %v", err))
	}
	return dispatcher.OutcomeDone()
}

// APKDelete handles apk_delete (spec.md §4.2): removes the file from the
// project container, unbinds it from any test source, and marks it DELETED.
func (o *Ops) APKDelete(ctx context.Context, body []byte) dispatcher.Outcome {
	var msg taskmessage.APKDeleteMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("decoding apk_delete: %v", err))
	}

	projectID, err := uuid.Parse(msg.ProjectID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid project_id: %v", err))
	}
	apkID, err := uuid.Parse(msg.APKID)
	if err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("invalid apk_id: %v", err))
	}
	if _, err := o.store.GetProjectVisible(ctx, projectID, msg.UserID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("user %s has no permission for project %s: %v", msg.UserID, msg.ProjectID, err))
	}
	if _, err := o.store.GetAPK(ctx, apkID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("apk %s not found: %v", msg.APKID, err))
	}

	container := provisioner.PrjContainer(msg.ProjectID)
	if _, err := o.runner.Exec(ctx, container, "rm", "-f", o.media.APKPath(msg.APKID)); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("deleting apk file: %v", err))
	}

	if err := o.store.UnbindAPKFromTestsources(ctx, apkID); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("unbinding apk from testsources: %v", err))
	}

	if err := o.store.SetAPKStatus(ctx, apkID, "DELETED", ""); err != nil {
		return dispatcher.OutcomePermanent(fmt.Sprintf("setting DELETED status: %v", err))
	}
	return dispatcher.OutcomeDone()
}
