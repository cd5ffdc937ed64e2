package dispatcher

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
)

// fakeStore is a minimal in-memory Store for exercising the dispatch
// discipline without a database.
type fakeStore struct {
	deletedAVMs, deletedProjects, deletedAPKs, deletedCameras map[uuid.UUID]bool
	errored                                                   map[string]string // entity kind:id -> reason
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		deletedAVMs:     map[uuid.UUID]bool{},
		deletedProjects: map[uuid.UUID]bool{},
		deletedAPKs:     map[uuid.UUID]bool{},
		deletedCameras:  map[uuid.UUID]bool{},
		errored:         map[string]string{},
	}
}

func (s *fakeStore) IsAVMDeleted(_ context.Context, id uuid.UUID) (bool, error) {
	return s.deletedAVMs[id], nil
}
func (s *fakeStore) IsProjectDeleted(_ context.Context, id uuid.UUID) (bool, error) {
	return s.deletedProjects[id], nil
}
func (s *fakeStore) IsAPKDeleted(_ context.Context, id uuid.UUID) (bool, error) {
	return s.deletedAPKs[id], nil
}
func (s *fakeStore) IsCameraDeleted(_ context.Context, id uuid.UUID) (bool, error) {
	return s.deletedCameras[id], nil
}
func (s *fakeStore) SetCommandError(_ context.Context, id uuid.UUID, reason string) error {
	s.errored["command:"+id.String()] = reason
	return nil
}
func (s *fakeStore) SetAPKStatus(_ context.Context, id uuid.UUID, status, reason string) error {
	s.errored["apk:"+id.String()] = status + ":" + reason
	return nil
}
func (s *fakeStore) SetCameraStatus(_ context.Context, id uuid.UUID, status, reason string) error {
	s.errored["camera:"+id.String()] = status + ":" + reason
	return nil
}
func (s *fakeStore) SetAVMStatus(_ context.Context, id uuid.UUID, status, reason string) error {
	s.errored["avm:"+id.String()] = status + ":" + reason
	return nil
}
func (s *fakeStore) SetProjectStatus(_ context.Context, id uuid.UUID, status, reason string) error {
	s.errored["project:"+id.String()] = status + ":" + reason
	return nil
}

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatchObsoleteSkipsHandler(t *testing.T) {
	store := newFakeStore()
	avmID := uuid.New()
	store.deletedAVMs[avmID] = true

	d := New(store, noopLogger())
	called := false
	d.Register("noop", func(ctx context.Context, body []byte) Outcome {
		called = true
		return OutcomeDone()
	})

	body, _ := json.Marshal(map[string]string{"avm_id": avmID.String()})
	outcome, err := d.Dispatch(context.Background(), "noop", body)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if called {
		t.Error("handler was invoked for an obsolete task")
	}
	if outcome.Kind != Done {
		t.Errorf("outcome.Kind = %v, want Done", outcome.Kind)
	}
}

func TestDispatchPermanentProjectsErrorByPriority(t *testing.T) {
	store := newFakeStore()
	d := New(store, noopLogger())
	d.Register("fails", func(ctx context.Context, body []byte) Outcome {
		return OutcomePermanent("boom")
	})

	apkID := uuid.New()
	avmID := uuid.New()
	body, _ := json.Marshal(map[string]string{
		"apk_id": apkID.String(),
		"avm_id": avmID.String(),
	})

	if _, err := d.Dispatch(context.Background(), "fails", body); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if _, ok := store.errored["apk:"+apkID.String()]; !ok {
		t.Error("expected apk_id to take priority over avm_id for error projection")
	}
	if _, ok := store.errored["avm:"+avmID.String()]; ok {
		t.Error("avm_id should not be projected when apk_id is present")
	}
}

func TestDispatchUnknownTask(t *testing.T) {
	d := New(newFakeStore(), noopLogger())
	if _, err := d.Dispatch(context.Background(), "missing", []byte("{}")); err == nil {
		t.Error("expected an error for an unregistered task name")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	d := New(newFakeStore(), noopLogger())
	d.Register("dup", func(ctx context.Context, body []byte) Outcome { return OutcomeDone() })

	defer func() {
		if recover() == nil {
			t.Error("expected Register to panic on duplicate task name")
		}
	}()
	d.Register("dup", func(ctx context.Context, body []byte) Outcome { return OutcomeDone() })
}
