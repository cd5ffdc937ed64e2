package campaignengine

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
	projects  map[uuid.UUID]db.Project
	campaigns map[uuid.UUID]db.Campaign
	asyncAVMs map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects:  map[uuid.UUID]db.Project{},
		campaigns: map[uuid.UUID]db.Campaign{},
		asyncAVMs: map[string]int{},
	}
}

func (s *fakeStore) GetProjectVisible(_ context.Context, id uuid.UUID, _ string) (db.Project, error) {
	p, ok := s.projects[id]
	if !ok {
		return db.Project{}, errNotFound
	}
	return p, nil
}
func (s *fakeStore) GetCampaign(_ context.Context, id uuid.UUID) (db.Campaign, error) {
	c, ok := s.campaigns[id]
	if !ok {
		return db.Campaign{}, errNotFound
	}
	return c, nil
}
func (s *fakeStore) SetCampaignStatus(_ context.Context, _ uuid.UUID, _ string) error { return nil }
func (s *fakeStore) ListTestrunsForCampaign(_ context.Context, _ uuid.UUID) ([]db.Testrun, error) {
	return nil, nil
}
func (s *fakeStore) ListTestrunAPKs(_ context.Context, _ uuid.UUID) ([]db.TestrunAPK, error) {
	return nil, nil
}
func (s *fakeStore) ListTestrunPackages(_ context.Context, _ uuid.UUID) ([]db.TestrunPackage, error) {
	return nil, nil
}
func (s *fakeStore) SetTestrunAVM(_ context.Context, _, _ uuid.UUID) error { return nil }
func (s *fakeStore) SetTestrunAPKCommand(_ context.Context, _, _, _ uuid.UUID) error { return nil }
func (s *fakeStore) AddTestrunPackage(_ context.Context, _ uuid.UUID, _ string) error { return nil }
func (s *fakeStore) SetTestrunPackageCommand(_ context.Context, _ uuid.UUID, _ string, _ uuid.UUID) error {
	return nil
}
func (s *fakeStore) CampaignProgress(_ context.Context, _ uuid.UUID) (int, int, error) {
	return 0, 0, nil
}
func (s *fakeStore) CreateAVM(_ context.Context, _ db.CreateAVMParams) (db.AVM, error) {
	return db.AVM{}, nil
}
func (s *fakeStore) GetAVMVisible(_ context.Context, _ uuid.UUID, _ string) (db.AVM, error) {
	return db.AVM{}, nil
}
func (s *fakeStore) GetAVM(_ context.Context, _ uuid.UUID) (db.AVM, error) { return db.AVM{}, nil }
func (s *fakeStore) SetAVMStatus(_ context.Context, _ uuid.UUID, _, _ string) error { return nil }
func (s *fakeStore) SetAVMStackName(_ context.Context, _ uuid.UUID, _ string) error { return nil }
func (s *fakeStore) CountLiveAsyncAVMsForOwner(_ context.Context, uidOwner string) (int, error) {
	return s.asyncAVMs[uidOwner], nil
}
func (s *fakeStore) GetImage(_ context.Context, _ string) (db.Image, error) { return db.Image{}, nil }
func (s *fakeStore) OpenBilling(_ context.Context, _ uuid.UUID) error       { return nil }
func (s *fakeStore) CloseBilling(_ context.Context, _ uuid.UUID) error     { return nil }
func (s *fakeStore) GetAPK(_ context.Context, _ uuid.UUID) (db.APK, error) { return db.APK{}, nil }

func TestHWConfigRoundTrip(t *testing.T) {
	hw := db.HWConfig{Width: 1080, Height: 1920, DPI: 420, RAMMb: 2048, Sensors: true, Battery: true, GPS: false, Camera: true, Record: false, GSM: true, NFC: false}
	got := fromMsgHWConfig(toMsgHWConfig(hw))
	if got != hw {
		t.Errorf("round-trip through taskmessage.HWConfig = %+v, want %+v", got, hw)
	}
}

func TestCampaignRunRejectsUnauthorizedUser(t *testing.T) {
	e := New(newFakeStore(), nil, nil, nil, nil, nil, mediapath.Config{}, Config{}, nil)
	body, _ := json.Marshal(taskmessage.CampaignRunMsg{
		UserID:     "u",
		ProjectID:  uuid.New().String(),
		CampaignID: uuid.New().String(),
	})
	outcome := e.CampaignRun(context.Background(), body)
	if outcome.Kind != dispatcher.Permanent {
		t.Errorf("outcome.Kind = %v, want Permanent", outcome.Kind)
	}
}

func TestCampaignDeleteRejectsUnknownCampaign(t *testing.T) {
	e := New(newFakeStore(), nil, nil, nil, nil, nil, mediapath.Config{}, Config{}, nil)
	body, _ := json.Marshal(taskmessage.CampaignDeleteMsg{
		UserID:     "u",
		CampaignID: uuid.New().String(),
	})
	outcome := e.CampaignDelete(context.Background(), body)
	if outcome.Kind != dispatcher.Permanent {
		t.Errorf("outcome.Kind = %v, want Permanent", outcome.Kind)
	}
}

func TestCampaignAVMCreateRetriesOnQuota(t *testing.T) {
	store := newFakeStore()
	projectID := uuid.New()
	campaignID := uuid.New()
	store.projects[projectID] = db.Project{ProjectID: projectID}
	store.campaigns[campaignID] = db.Campaign{CampaignID: campaignID, ProjectID: projectID}
	store.asyncAVMs["u"] = 1

	e := New(store, nil, nil, nil, nil, nil, mediapath.Config{}, Config{VMAsyncMax: 1}, nil)
	body, _ := json.Marshal(taskmessage.CampaignAVMCreateMsg{
		UserID:     "u",
		ProjectID:  projectID.String(),
		CampaignID: campaignID.String(),
		TestrunID:  uuid.New().String(),
		Image:      "pixel",
	})
	outcome := e.CampaignAVMCreate(context.Background(), body)
	if outcome.Kind != dispatcher.Retry {
		t.Errorf("outcome.Kind = %v, want Retry when the async vm quota is exhausted", outcome.Kind)
	}
}

func TestInstrumentationLineParsesPackageAndTarget(t *testing.T) {
	m := instrumentationLine.FindStringSubmatch("instrumentation:com.example.tests/.Runner (target=com.example.app)")
	if m == nil {
		t.Fatal("expected a match")
	}
	if m[1] != "com.example.tests/.Runner" {
		t.Errorf("package = %q", m[1])
	}
	if m[2] != "com.example.app" {
		t.Errorf("target = %q", m[2])
	}
}
