// Package avmapi is the handler layer spec.md §6 describes as a collaborator
// contract rather than core behavior: it validates a user intent, inserts or
// reads entity rows, and publishes exactly one task to the Task Broker per
// write. It never drives External Drivers directly — that's the Dispatcher's
// handlers' job once the task is picked up.
package avmapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/avmorch/orchestrator/internal/db"
	"github.com/avmorch/orchestrator/internal/httpserver"
	"github.com/avmorch/orchestrator/pkg/broker"
)

// Config carries the quota and media settings the handler layer needs to
// enforce ahead of publishing a task (spec.md §8 quota.vm_live_max/vm_async_max).
type Config struct {
	QuotaVMLiveMax  int
	QuotaVMAsyncMax int
	MediaTempDir    string
}

// Handler mounts the project/AVM/APK/camera/testsource/campaign routes.
type Handler struct {
	logger *slog.Logger
	store  *db.Queries
	broker *broker.Broker
	cfg    Config
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, store *db.Queries, b *broker.Broker, cfg Config) *Handler {
	return &Handler{logger: logger, store: store, broker: b, cfg: cfg}
}

// Routes returns a chi.Router with every handler-layer route mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/projects", h.handleCreateProject)
	r.Get("/projects", h.handleListProjects)
	r.Get("/projects/{id}", h.handleGetProject)
	r.Delete("/projects/{id}", h.handleDeleteProject)

	r.Post("/projects/{id}/avms", h.handleCreateAVM)
	r.Get("/avms/{id}", h.handleGetAVM)
	r.Delete("/avms/{id}", h.handleDeleteAVM)

	r.Post("/projects/{id}/apks", h.handleCreateAPK)
	r.Get("/projects/{id}/apks", h.handleListAPKs)
	r.Delete("/apks/{id}", h.handleDeleteAPK)

	r.Post("/projects/{id}/cameras", h.handleCreateCamera)
	r.Delete("/cameras/{id}", h.handleDeleteCamera)

	r.Post("/projects/{id}/testsources", h.handleCreateTestsource)
	r.Post("/testsources/{id}/compile", h.handleCompileTestsource)

	r.Post("/projects/{id}/campaigns", h.handleCreateCampaign)
	r.Post("/campaigns/{id}/run", h.handleRunCampaign)
	r.Delete("/campaigns/{id}", h.handleDeleteCampaign)

	return r
}

// userID resolves the calling user's identity. Authentication itself is a
// collaborator concern (spec.md §1); the handler layer only needs the
// already-authenticated subject to pass through as the "userid" every
// operation in spec.md §4 takes.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("user_id")
}

// parseID parses a chi URL param as a UUID, writing a 400 on failure.
func parseID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid "+param)
		return uuid.UUID{}, false
	}
	return id, true
}

// notFound maps an Entity Store lookup failure to 404 (the common case: row
// missing or not visible to this user) per spec.md §6's contract that
// NotFound maps to 404.
func notFound(w http.ResponseWriter, log *slog.Logger, what string, err error) {
	log.Warn("entity lookup failed", "what", what, "error", err)
	httpserver.RespondError(w, http.StatusNotFound, "not_found", what+" not found")
}
