package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/avmorch/orchestrator/internal/db"
	"github.com/avmorch/orchestrator/pkg/taskmessage"
)

// Handler processes one task's decoded payload and returns an Outcome. The
// raw body is passed through undecoded so handlers can unmarshal their own
// typed message struct.
type Handler func(ctx context.Context, body []byte) Outcome

// Store is the subset of the Entity Store the dispatcher needs for the
// obsolescence check and error projection (spec.md §4.3 step 3, §9).
type Store interface {
	IsAVMDeleted(ctx context.Context, id uuid.UUID) (bool, error)
	IsProjectDeleted(ctx context.Context, id uuid.UUID) (bool, error)
	IsAPKDeleted(ctx context.Context, id uuid.UUID) (bool, error)
	IsCameraDeleted(ctx context.Context, id uuid.UUID) (bool, error)

	SetCommandError(ctx context.Context, id uuid.UUID, reason string) error
	SetAPKStatus(ctx context.Context, id uuid.UUID, status, reason string) error
	SetCameraStatus(ctx context.Context, id uuid.UUID, status, reason string) error
	SetAVMStatus(ctx context.Context, id uuid.UUID, status, reason string) error
	SetProjectStatus(ctx context.Context, id uuid.UUID, status, reason string) error
}

var _ Store = (*db.Queries)(nil)

// Dispatcher owns the task-name -> handler registry and applies the shared
// dispatch discipline around every invocation.
type Dispatcher struct {
	store    Store
	handlers map[string]Handler
	log      *slog.Logger
}

// New constructs a Dispatcher backed by store.
func New(store Store, log *slog.Logger) *Dispatcher {
	return &Dispatcher{store: store, handlers: make(map[string]Handler), log: log}
}

// Register binds a handler to a task name. Registering the same name twice
// is a programming error and panics at startup.
func (d *Dispatcher) Register(taskName string, h Handler) {
	if _, exists := d.handlers[taskName]; exists {
		panic(fmt.Sprintf("dispatcher: duplicate handler for task %q", taskName))
	}
	d.handlers[taskName] = h
}

// Dispatch looks up the handler for taskName, rejects obsolete tasks, invokes
// the handler, and on a Permanent outcome projects the failure onto the first
// matching entity (spec.md §9). It never returns an error for a Retry or
// Permanent outcome — those are terminal as far as the caller (the broker
// consume loop) is concerned; only infrastructure errors (unknown task name,
// malformed body, store I/O failure) are returned as Go errors.
func (d *Dispatcher) Dispatch(ctx context.Context, taskName string, body []byte) (Outcome, error) {
	log := d.log.With("task", taskName)

	handler, ok := d.handlers[taskName]
	if !ok {
		return Outcome{}, fmt.Errorf("dispatcher: unknown task %q", taskName)
	}

	var obs taskmessage.Obsolescence
	if err := json.Unmarshal(body, &obs); err != nil {
		return Outcome{}, fmt.Errorf("dispatcher: decoding obsolescence view: %w", err)
	}

	obsolete, err := d.isObsolete(ctx, obs)
	if err != nil {
		return Outcome{}, fmt.Errorf("dispatcher: obsolescence check: %w", err)
	}
	if obsolete {
		log.Warn("task is obsolete")
		return OutcomeDone(), nil
	}

	outcome := handler(ctx, body)

	switch outcome.Kind {
	case Done:
		log.Info("task completed")
	case Retry:
		log.Debug("task requested redelivery", "reason", outcome.Reason)
	case Permanent:
		log.Error("task failed permanently", "reason", outcome.Reason)
		var target taskmessage.ErrorTarget
		if err := json.Unmarshal(body, &target); err != nil {
			return Outcome{}, fmt.Errorf("dispatcher: decoding error target: %w", err)
		}
		if err := d.projectError(ctx, target, outcome.Reason); err != nil {
			return Outcome{}, fmt.Errorf("dispatcher: projecting error: %w", err)
		}
	}

	return outcome, nil
}

func (d *Dispatcher) isObsolete(ctx context.Context, obs taskmessage.Obsolescence) (bool, error) {
	// avm_commands rows have no DELETED status, so command_id is never
	// checked here (matches the upstream obsolescence check).
	if obs.AVMID != "" {
		id, err := uuid.Parse(obs.AVMID)
		if err != nil {
			return false, err
		}
		if deleted, err := d.store.IsAVMDeleted(ctx, id); err != nil || deleted {
			return deleted, err
		}
	}
	if obs.ProjectID != "" {
		id, err := uuid.Parse(obs.ProjectID)
		if err != nil {
			return false, err
		}
		if deleted, err := d.store.IsProjectDeleted(ctx, id); err != nil || deleted {
			return deleted, err
		}
	}
	if obs.APKID != "" {
		id, err := uuid.Parse(obs.APKID)
		if err != nil {
			return false, err
		}
		if deleted, err := d.store.IsAPKDeleted(ctx, id); err != nil || deleted {
			return deleted, err
		}
	}
	if obs.CameraID != "" {
		id, err := uuid.Parse(obs.CameraID)
		if err != nil {
			return false, err
		}
		if deleted, err := d.store.IsCameraDeleted(ctx, id); err != nil || deleted {
			return deleted, err
		}
	}
	return false, nil
}

// projectError writes ERROR status onto the first entity present, in the
// priority order command_id, apk_id, camera_id, avm_id, project_id (spec.md
// §9). The original source keys the apk_id branch's WHERE clause on
// command_id instead of apk_id — an apparent bug (spec.md §9 open question).
// This implementation uses apk_id, as the spec directs.
func (d *Dispatcher) projectError(ctx context.Context, target taskmessage.ErrorTarget, reason string) error {
	switch {
	case target.CommandID != "":
		id, err := uuid.Parse(target.CommandID)
		if err != nil {
			return err
		}
		return d.store.SetCommandError(ctx, id, reason)
	case target.APKID != "":
		id, err := uuid.Parse(target.APKID)
		if err != nil {
			return err
		}
		return d.store.SetAPKStatus(ctx, id, "ERROR", reason)
	case target.CameraID != "":
		id, err := uuid.Parse(target.CameraID)
		if err != nil {
			return err
		}
		return d.store.SetCameraStatus(ctx, id, "ERROR", reason)
	case target.AVMID != "":
		id, err := uuid.Parse(target.AVMID)
		if err != nil {
			return err
		}
		return d.store.SetAVMStatus(ctx, id, "ERROR", reason)
	case target.ProjectID != "":
		id, err := uuid.Parse(target.ProjectID)
		if err != nil {
			return err
		}
		return d.store.SetProjectStatus(ctx, id, "ERROR", reason)
	}
	return nil
}
