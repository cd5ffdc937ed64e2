package avmapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/avmorch/orchestrator/internal/httpserver"
	"github.com/avmorch/orchestrator/pkg/taskmessage"
)

// createTestsourceRequest is the body of POST /projects/{id}/testsources.
type createTestsourceRequest struct {
	Filename string     `json:"filename" validate:"required"`
	Content  string     `json:"content" validate:"required"`
	APKID    *uuid.UUID `json:"apk_id"`
}

func (h *Handler) handleCreateTestsource(w http.ResponseWriter, r *http.Request) {
	projectID, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	uid := userID(r)
	if _, err := h.store.GetProjectVisible(r.Context(), projectID, uid); err != nil {
		notFound(w, h.logger, "project", err)
		return
	}

	var req createTestsourceRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	testsourceID := uuid.New()
	testsource, err := h.store.CreateTestsource(r.Context(), testsourceID, projectID, req.Filename, req.Content, req.APKID)
	if err != nil {
		h.logger.Error("creating testsource", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create testsource")
		return
	}

	httpserver.Respond(w, http.StatusCreated, testsource)
}

func (h *Handler) handleCompileTestsource(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	uid := userID(r)
	testsource, err := h.store.GetTestsource(r.Context(), id)
	if err != nil {
		notFound(w, h.logger, "testsource", err)
		return
	}
	if _, err := h.store.GetProjectVisible(r.Context(), testsource.ProjectID, uid); err != nil {
		notFound(w, h.logger, "testsource", err)
		return
	}

	if err := h.broker.Publish(r.Context(), taskmessage.TestsourceCompile, taskmessage.TestsourceCompileMsg{
		UserID:       uid,
		ProjectID:    testsource.ProjectID.String(),
		TestsourceID: id.String(),
	}, 0); err != nil {
		h.logger.Error("publishing testsource_compile", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to queue testsource compile")
		return
	}

	httpserver.Respond(w, http.StatusAccepted, nil)
}
