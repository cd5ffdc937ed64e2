package avmapi

import (
	"io"
	"net/http"
	"os"

	"github.com/google/uuid"

	"github.com/avmorch/orchestrator/internal/httpserver"
	"github.com/avmorch/orchestrator/pkg/taskmessage"
)

const maxUploadSize = 512 << 20 // 512 MiB, generous for APKs and camera footage

// stageUpload reads a multipart file field into a fresh file under the
// configured media temp dir, returning the staged path for the task handler
// that will read it off disk and remove it (spec.md §4.2 apk_upload/camera_upload).
func (h *Handler) stageUpload(w http.ResponseWriter, r *http.Request, field string) (tmpPath, filename string, ok bool) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid multipart form")
		return "", "", false
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "missing file field \""+field+"\"")
		return "", "", false
	}
	defer file.Close()

	if err := os.MkdirAll(h.cfg.MediaTempDir, 0o755); err != nil {
		h.logger.Error("creating media temp dir", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to stage upload")
		return "", "", false
	}

	dst, err := os.CreateTemp(h.cfg.MediaTempDir, "upload-*")
	if err != nil {
		h.logger.Error("staging upload", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to stage upload")
		return "", "", false
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(dst.Name())
		h.logger.Error("writing staged upload", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to stage upload")
		return "", "", false
	}

	return dst.Name(), header.Filename, true
}

func (h *Handler) handleCreateAPK(w http.ResponseWriter, r *http.Request) {
	projectID, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	uid := userID(r)
	if _, err := h.store.GetProjectVisible(r.Context(), projectID, uid); err != nil {
		notFound(w, h.logger, "project", err)
		return
	}

	tmpPath, filename, ok := h.stageUpload(w, r, "apk")
	if !ok {
		return
	}

	apkID := uuid.New()
	apk, err := h.store.CreateAPK(r.Context(), apkID, projectID, filename)
	if err != nil {
		os.Remove(tmpPath)
		h.logger.Error("creating apk", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create apk")
		return
	}

	if err := h.broker.Publish(r.Context(), taskmessage.APKUpload, taskmessage.APKUploadMsg{
		UserID:    uid,
		ProjectID: projectID.String(),
		APKID:     apkID.String(),
		Filename:  filename,
		TmpPath:   tmpPath,
	}, 0); err != nil {
		h.logger.Error("publishing apk_upload", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to queue apk upload")
		return
	}

	httpserver.Respond(w, http.StatusAccepted, apk)
}

func (h *Handler) handleListAPKs(w http.ResponseWriter, r *http.Request) {
	projectID, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.store.GetProjectVisible(r.Context(), projectID, userID(r)); err != nil {
		notFound(w, h.logger, "project", err)
		return
	}

	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	all, err := h.store.ListAPKsForProject(r.Context(), projectID)
	if err != nil {
		h.logger.Error("listing apks", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list apks")
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

func (h *Handler) handleDeleteAPK(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	uid := userID(r)
	apk, err := h.store.GetAPK(r.Context(), id)
	if err != nil {
		notFound(w, h.logger, "apk", err)
		return
	}
	if _, err := h.store.GetProjectVisible(r.Context(), apk.ProjectID, uid); err != nil {
		notFound(w, h.logger, "apk", err)
		return
	}

	if err := h.broker.Publish(r.Context(), taskmessage.APKDelete, taskmessage.APKDeleteMsg{
		UserID:    uid,
		ProjectID: apk.ProjectID.String(),
		APKID:     id.String(),
	}, 0); err != nil {
		h.logger.Error("publishing apk_delete", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to queue apk deletion")
		return
	}

	if err := h.store.SetAPKStatus(r.Context(), id, "DELETING", ""); err != nil {
		h.logger.Error("setting apk status to deleting", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to queue apk deletion")
		return
	}

	httpserver.Respond(w, http.StatusAccepted, nil)
}
