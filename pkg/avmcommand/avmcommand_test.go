package avmcommand

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/avmorch/orchestrator/internal/db"
)

type fakeStore struct {
	created map[uuid.UUID]string
	running map[uuid.UUID]bool
	ready   map[uuid.UUID]int32
	errored map[uuid.UUID]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		created: map[uuid.UUID]string{},
		running: map[uuid.UUID]bool{},
		ready:   map[uuid.UUID]int32{},
		errored: map[uuid.UUID]string{},
	}
}

func (s *fakeStore) CreateCommand(_ context.Context, commandID, _ uuid.UUID, command string) (db.Command, error) {
	s.created[commandID] = command
	return db.Command{CommandID: commandID}, nil
}
func (s *fakeStore) SetCommandRunning(_ context.Context, id uuid.UUID) error {
	s.running[id] = true
	return nil
}
func (s *fakeStore) SetCommandReady(_ context.Context, id uuid.UUID, returnCode int32, _, _ string) error {
	s.ready[id] = returnCode
	return nil
}
func (s *fakeStore) SetCommandError(_ context.Context, id uuid.UUID, reason string) error {
	s.errored[id] = reason
	return nil
}

func TestCreateQuotesArgs(t *testing.T) {
	store := newFakeStore()
	r := New(store, nil, nil)

	commandID := uuid.New()
	avmID := uuid.New()
	if err := r.Create(context.Background(), commandID, avmID, []string{"adb", "install", "-r", "/tmp/app with space.apk"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, ok := store.created[commandID]
	if !ok {
		t.Fatal("Create() did not insert a command row")
	}
	if got != `adb install -r '/tmp/app with space.apk'` {
		t.Errorf("Create() quoted command = %q", got)
	}
}
