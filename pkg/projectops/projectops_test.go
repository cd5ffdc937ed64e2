package projectops

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/avmorch/orchestrator/internal/db"
	"github.com/avmorch/orchestrator/pkg/dispatcher"
	"github.com/avmorch/orchestrator/pkg/mediapath"
	"github.com/avmorch/orchestrator/pkg/taskmessage"
)

type notFoundErr struct{}

func (notFoundErr) Error() string { return "not found" }

var errNotFound = notFoundErr{}

type fakeStore struct {
	projects        map[uuid.UUID]db.Project
	liveAVMs        map[uuid.UUID]int
	activeCampaigns map[uuid.UUID]int
	cameras         map[uuid.UUID]db.Camera
	apks            map[uuid.UUID]db.APK
	statuses        map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects:        map[uuid.UUID]db.Project{},
		liveAVMs:        map[uuid.UUID]int{},
		activeCampaigns: map[uuid.UUID]int{},
		cameras:         map[uuid.UUID]db.Camera{},
		apks:            map[uuid.UUID]db.APK{},
		statuses:        map[string]string{},
	}
}

func (s *fakeStore) GetProjectVisible(_ context.Context, id uuid.UUID, _ string) (db.Project, error) {
	p, ok := s.projects[id]
	if !ok {
		return db.Project{}, errNotFound
	}
	return p, nil
}
func (s *fakeStore) SetProjectStatus(_ context.Context, id uuid.UUID, status, _ string) error {
	s.statuses["project:"+id.String()] = status
	return nil
}
func (s *fakeStore) CountLiveAVMsForProject(_ context.Context, id uuid.UUID) (int, error) {
	return s.liveAVMs[id], nil
}
func (s *fakeStore) CountActiveCampaignsForProject(_ context.Context, id uuid.UUID) (int, error) {
	return s.activeCampaigns[id], nil
}
func (s *fakeStore) GetCamera(_ context.Context, id uuid.UUID) (db.Camera, error) {
	c, ok := s.cameras[id]
	if !ok {
		return db.Camera{}, errNotFound
	}
	return c, nil
}
func (s *fakeStore) SetCameraStatus(_ context.Context, id uuid.UUID, status, _ string) error {
	s.statuses["camera:"+id.String()] = status
	return nil
}
func (s *fakeStore) GetAPK(_ context.Context, id uuid.UUID) (db.APK, error) {
	a, ok := s.apks[id]
	if !ok {
		return db.APK{}, errNotFound
	}
	return a, nil
}
func (s *fakeStore) SetAPKStatus(_ context.Context, id uuid.UUID, status, _ string) error {
	s.statuses["apk:"+id.String()] = status
	return nil
}
func (s *fakeStore) UnbindAPKFromTestsources(_ context.Context, _ uuid.UUID) error { return nil }

func TestProjectContainerDeleteRefusesWithLiveAVMs(t *testing.T) {
	store := newFakeStore()
	projectID := uuid.New()
	store.projects[projectID] = db.Project{ProjectID: projectID}
	store.liveAVMs[projectID] = 1

	o := New(store, nil, mediapath.Config{}, Config{})
	body, _ := json.Marshal(taskmessage.ProjectContainerDeleteMsg{UserID: "u", ProjectID: projectID.String()})
	outcome := o.ProjectContainerDelete(context.Background(), body)
	if outcome.Kind != dispatcher.Permanent {
		t.Errorf("outcome.Kind = %v, want Permanent when the project still owns a live avm", outcome.Kind)
	}
}

func TestProjectContainerDeleteRefusesWithActiveCampaigns(t *testing.T) {
	store := newFakeStore()
	projectID := uuid.New()
	store.projects[projectID] = db.Project{ProjectID: projectID}
	store.activeCampaigns[projectID] = 1

	o := New(store, nil, mediapath.Config{}, Config{})
	body, _ := json.Marshal(taskmessage.ProjectContainerDeleteMsg{UserID: "u", ProjectID: projectID.String()})
	outcome := o.ProjectContainerDelete(context.Background(), body)
	if outcome.Kind != dispatcher.Permanent {
		t.Errorf("outcome.Kind = %v, want Permanent when the project still owns an active campaign", outcome.Kind)
	}
}

func TestProjectContainerCreateRejectsUnauthorizedUser(t *testing.T) {
	o := New(newFakeStore(), nil, mediapath.Config{}, Config{})
	body, _ := json.Marshal(taskmessage.ProjectContainerCreateMsg{UserID: "u", ProjectID: uuid.New().String()})
	outcome := o.ProjectContainerCreate(context.Background(), body)
	if outcome.Kind != dispatcher.Permanent {
		t.Errorf("outcome.Kind = %v, want Permanent", outcome.Kind)
	}
}

func TestCameraUploadRejectsMissingCamera(t *testing.T) {
	store := newFakeStore()
	projectID := uuid.New()
	store.projects[projectID] = db.Project{ProjectID: projectID}

	o := New(store, nil, mediapath.Config{}, Config{})
	body, _ := json.Marshal(taskmessage.CameraUploadMsg{
		UserID:    "u",
		ProjectID: projectID.String(),
		CameraID:  uuid.New().String(),
	})
	outcome := o.CameraUpload(context.Background(), body)
	if outcome.Kind != dispatcher.Permanent {
		t.Errorf("outcome.Kind = %v, want Permanent for an unknown camera", outcome.Kind)
	}
}

func TestAPKUploadRejectsMissingAPK(t *testing.T) {
	store := newFakeStore()
	projectID := uuid.New()
	store.projects[projectID] = db.Project{ProjectID: projectID}

	o := New(store, nil, mediapath.Config{}, Config{})
	body, _ := json.Marshal(taskmessage.APKUploadMsg{
		UserID:    "u",
		ProjectID: projectID.String(),
		APKID:     uuid.New().String(),
	})
	outcome := o.APKUpload(context.Background(), body)
	if outcome.Kind != dispatcher.Permanent {
		t.Errorf("outcome.Kind = %v, want Permanent for an unknown apk", outcome.Kind)
	}
}
