package avmapi

import (
	"net/http"
	"os"

	"github.com/google/uuid"

	"github.com/avmorch/orchestrator/internal/httpserver"
	"github.com/avmorch/orchestrator/pkg/taskmessage"
)

func (h *Handler) handleCreateCamera(w http.ResponseWriter, r *http.Request) {
	projectID, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	uid := userID(r)
	if _, err := h.store.GetProjectVisible(r.Context(), projectID, uid); err != nil {
		notFound(w, h.logger, "project", err)
		return
	}

	tmpPath, filename, ok := h.stageUpload(w, r, "video")
	if !ok {
		return
	}

	cameraID := uuid.New()
	camera, err := h.store.CreateCamera(r.Context(), cameraID, projectID, filename)
	if err != nil {
		os.Remove(tmpPath)
		h.logger.Error("creating camera", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create camera")
		return
	}

	if err := h.broker.Publish(r.Context(), taskmessage.CameraUpload, taskmessage.CameraUploadMsg{
		UserID:    uid,
		ProjectID: projectID.String(),
		CameraID:  cameraID.String(),
		Filename:  filename,
		TmpPath:   tmpPath,
	}, 0); err != nil {
		h.logger.Error("publishing camera_upload", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to queue camera upload")
		return
	}

	httpserver.Respond(w, http.StatusAccepted, camera)
}

func (h *Handler) handleDeleteCamera(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	uid := userID(r)
	camera, err := h.store.GetCamera(r.Context(), id)
	if err != nil {
		notFound(w, h.logger, "camera", err)
		return
	}
	if _, err := h.store.GetProjectVisible(r.Context(), camera.ProjectID, uid); err != nil {
		notFound(w, h.logger, "camera", err)
		return
	}

	if err := h.broker.Publish(r.Context(), taskmessage.CameraDelete, taskmessage.CameraDeleteMsg{
		UserID:    uid,
		ProjectID: camera.ProjectID.String(),
		CameraID:  id.String(),
	}, 0); err != nil {
		h.logger.Error("publishing camera_delete", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to queue camera deletion")
		return
	}

	if err := h.store.SetCameraStatus(r.Context(), id, "DELETING", ""); err != nil {
		h.logger.Error("setting camera status to deleting", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to queue camera deletion")
		return
	}

	httpserver.Respond(w, http.StatusAccepted, nil)
}
