package deviceops

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

type fakeStore struct {
	avms map[uuid.UUID]db.AVM
	apks map[uuid.UUID]db.APK
}

func newFakeStore() *fakeStore {
	return &fakeStore{avms: map[uuid.UUID]db.AVM{}, apks: map[uuid.UUID]db.APK{}}
}

func (s *fakeStore) GetAVMVisible(_ context.Context, id uuid.UUID, _ string) (db.AVM, error) {
	avm, ok := s.avms[id]
	if !ok {
		return db.AVM{}, errNotFound
	}
	return avm, nil
}

func (s *fakeStore) GetAPK(_ context.Context, id uuid.UUID) (db.APK, error) {
	apk, ok := s.apks[id]
	if !ok {
		return db.APK{}, errNotFound
	}
	return apk, nil
}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "not found" }

var errNotFound = notFoundErr{}

func TestAPKInstallRejectsMalformedBody(t *testing.T) {
	o := New(newFakeStore(), nil, mediapath.Config{})
	outcome := o.APKInstall(context.Background(), []byte("not json"))
	if outcome.Kind != dispatcher.Permanent {
		t.Errorf("outcome.Kind = %v, want Permanent", outcome.Kind)
	}
}

func TestAPKInstallRejectsInvalidUUID(t *testing.T) {
	o := New(newFakeStore(), nil, mediapath.Config{})
	body, _ := json.Marshal(taskmessage.APKInstallMsg{AVMID: "not-a-uuid"})
	outcome := o.APKInstall(context.Background(), body)
	if outcome.Kind != dispatcher.Permanent {
		t.Errorf("outcome.Kind = %v, want Permanent", outcome.Kind)
	}
}

func TestAPKInstallRejectsUnauthorizedUser(t *testing.T) {
	o := New(newFakeStore(), nil, mediapath.Config{})
	avmID := uuid.New()
	apkID := uuid.New()
	body, _ := json.Marshal(taskmessage.APKInstallMsg{
		UserID:    "someone",
		AVMID:     avmID.String(),
		APKID:     apkID.String(),
		CommandID: uuid.New().String(),
	})
	outcome := o.APKInstall(context.Background(), body)
	if outcome.Kind != dispatcher.Permanent {
		t.Errorf("outcome.Kind = %v, want Permanent for a user with no visibility on the avm", outcome.Kind)
	}
}

func TestAPKInstallRejectsMissingAPK(t *testing.T) {
	store := newFakeStore()
	avmID := uuid.New()
	store.avms[avmID] = db.AVM{AVMID: avmID, UIDOwner: "owner"}

	o := New(store, nil, mediapath.Config{})
	body, _ := json.Marshal(taskmessage.APKInstallMsg{
		UserID:    "owner",
		AVMID:     avmID.String(),
		APKID:     uuid.New().String(),
		CommandID: uuid.New().String(),
	})
	outcome := o.APKInstall(context.Background(), body)
	if outcome.Kind != dispatcher.Permanent {
		t.Errorf("outcome.Kind = %v, want Permanent for an unknown apk", outcome.Kind)
	}
}

func TestAVMMonkeyRejectsUnauthorizedUser(t *testing.T) {
	o := New(newFakeStore(), nil, mediapath.Config{})
	body, _ := json.Marshal(taskmessage.AVMMonkeyMsg{
		UserID:    "someone",
		AVMID:     uuid.New().String(),
		CommandID: uuid.New().String(),
	})
	outcome := o.AVMMonkey(context.Background(), body)
	if outcome.Kind != dispatcher.Permanent {
		t.Errorf("outcome.Kind = %v, want Permanent", outcome.Kind)
	}
}

func TestAVMTestRunRejectsUnauthorizedUser(t *testing.T) {
	o := New(newFakeStore(), nil, mediapath.Config{})
	body, _ := json.Marshal(taskmessage.AVMTestRunMsg{
		UserID:    "someone",
		AVMID:     uuid.New().String(),
		CommandID: uuid.New().String(),
		Package:   "com.example.tests",
	})
	outcome := o.AVMTestRun(context.Background(), body)
	if outcome.Kind != dispatcher.Permanent {
		t.Errorf("outcome.Kind = %v, want Permanent", outcome.Kind)
	}
}
