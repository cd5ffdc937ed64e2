package avmapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/avmorch/orchestrator/internal/db"
	"github.com/avmorch/orchestrator/internal/httpserver"
	"github.com/avmorch/orchestrator/pkg/taskmessage"
)

// createProjectRequest is the body of POST /projects.
type createProjectRequest struct {
	Name string `json:"name" validate:"required"`
}

func (h *Handler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	uid := userID(r)
	if uid == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "missing user identity")
		return
	}

	projectID := uuid.New()
	project, err := h.store.CreateProject(r.Context(), db.CreateProjectParams{
		ProjectID:   projectID,
		ProjectName: req.Name,
		UIDOwner:    uid,
	})
	if err != nil {
		h.logger.Error("creating project", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create project")
		return
	}

	if err := h.broker.Publish(r.Context(), taskmessage.ProjectContainerCreate, taskmessage.ProjectContainerCreateMsg{
		UserID:    uid,
		ProjectID: projectID.String(),
	}, 0); err != nil {
		h.logger.Error("publishing project_container_create", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to queue project creation")
		return
	}

	httpserver.Respond(w, http.StatusAccepted, project)
}

func (h *Handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	all, err := h.store.ListProjectsVisible(r.Context(), userID(r))
	if err != nil {
		h.logger.Error("listing projects", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list projects")
		return
	}

	start := params.Offset
	if start > len(all) {
		start = len(all)
	}
	end := start + params.PageSize
	if end > len(all) {
		end = len(all)
	}

	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(all[start:end], params, len(all)))
}

func (h *Handler) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	project, err := h.store.GetProjectVisible(r.Context(), id, userID(r))
	if err != nil {
		notFound(w, h.logger, "project", err)
		return
	}
	httpserver.Respond(w, http.StatusOK, project)
}

func (h *Handler) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	uid := userID(r)
	if _, err := h.store.GetProjectVisible(r.Context(), id, uid); err != nil {
		notFound(w, h.logger, "project", err)
		return
	}

	if err := h.broker.Publish(r.Context(), taskmessage.ProjectContainerDelete, taskmessage.ProjectContainerDeleteMsg{
		UserID:    uid,
		ProjectID: id.String(),
	}, 0); err != nil {
		h.logger.Error("publishing project_container_delete", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to queue project deletion")
		return
	}

	if err := h.store.SetProjectStatus(r.Context(), id, "DELETING", ""); err != nil {
		h.logger.Error("setting project status to deleting", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to queue project deletion")
		return
	}

	httpserver.Respond(w, http.StatusAccepted, nil)
}
