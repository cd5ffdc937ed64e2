package testsourcecompile

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

func TestLastOutputLine(t *testing.T) {
	cases := []struct {
		stdout string
		want   string
	}{
		{"com.example.app\n", "com.example.app"},
		{"line one\nline two\ncom.example.app", "com.example.app"},
		{"com.example.app", "com.example.app"},
	}
	for _, tc := range cases {
		if got := lastOutputLine(tc.stdout); got != tc.want {
			t.Errorf("lastOutputLine(%q) = %q, want %q", tc.stdout, got, tc.want)
		}
	}
}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "not found" }

var errNotFound = notFoundErr{}

type fakeStore struct {
	projects    map[uuid.UUID]db.Project
	testsources map[uuid.UUID]db.Testsource
	apks        map[uuid.UUID]db.APK
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects:    map[uuid.UUID]db.Project{},
		testsources: map[uuid.UUID]db.Testsource{},
		apks:        map[uuid.UUID]db.APK{},
	}
}

func (s *fakeStore) GetProjectVisible(_ context.Context, id uuid.UUID, _ string) (db.Project, error) {
	p, ok := s.projects[id]
	if !ok {
		return db.Project{}, errNotFound
	}
	return p, nil
}
func (s *fakeStore) GetTestsource(_ context.Context, id uuid.UUID) (db.Testsource, error) {
	ts, ok := s.testsources[id]
	if !ok {
		return db.Testsource{}, errNotFound
	}
	return ts, nil
}
func (s *fakeStore) GetAPK(_ context.Context, id uuid.UUID) (db.APK, error) {
	a, ok := s.apks[id]
	if !ok {
		return db.APK{}, errNotFound
	}
	return a, nil
}
func (s *fakeStore) SetAPKStatus(_ context.Context, _ uuid.UUID, _, _ string) error { return nil }
func (s *fakeStore) SetAPKPackage(_ context.Context, _ uuid.UUID, _ string) error   { return nil }

func TestCompileRejectsUnboundTestsource(t *testing.T) {
	store := newFakeStore()
	projectID := uuid.New()
	testsourceID := uuid.New()
	store.projects[projectID] = db.Project{ProjectID: projectID}
	store.testsources[testsourceID] = db.Testsource{TestsourceID: testsourceID, ProjectID: projectID}

	c := New(store, nil, mediapath.Config{})
	body, _ := json.Marshal(taskmessage.TestsourceCompileMsg{
		UserID:       "u",
		ProjectID:    projectID.String(),
		TestsourceID: testsourceID.String(),
	})
	outcome := c.Compile(context.Background(), body)
	if outcome.Kind != dispatcher.Permanent {
		t.Errorf("outcome.Kind = %v, want Permanent for a testsource with no bound apk", outcome.Kind)
	}
}

func TestCompileRejectsUnknownTestsource(t *testing.T) {
	store := newFakeStore()
	projectID := uuid.New()
	store.projects[projectID] = db.Project{ProjectID: projectID}

	c := New(store, nil, mediapath.Config{})
	body, _ := json.Marshal(taskmessage.TestsourceCompileMsg{
		UserID:       "u",
		ProjectID:    projectID.String(),
		TestsourceID: uuid.New().String(),
	})
	outcome := c.Compile(context.Background(), body)
	if outcome.Kind != dispatcher.Permanent {
		t.Errorf("outcome.Kind = %v, want Permanent for an unknown testsource", outcome.Kind)
	}
}
