package avmapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/avmorch/orchestrator/internal/db"
	"github.com/avmorch/orchestrator/internal/httpserver"
	"github.com/avmorch/orchestrator/pkg/otp"
	"github.com/avmorch/orchestrator/pkg/taskmessage"
)

// createAVMRequest is the body of POST /projects/{id}/avms.
type createAVMRequest struct {
	Name     string      `json:"name" validate:"required"`
	Image    string      `json:"image" validate:"required"`
	HWConfig db.HWConfig `json:"hwconfig"`
}

func (h *Handler) handleCreateAVM(w http.ResponseWriter, r *http.Request) {
	projectID, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	uid := userID(r)
	if _, err := h.store.GetProjectVisible(r.Context(), projectID, uid); err != nil {
		notFound(w, h.logger, "project", err)
		return
	}

	var req createAVMRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if h.cfg.QuotaVMLiveMax > 0 {
		current, err := h.store.CountLiveAVMsForOwner(r.Context(), uid)
		if err != nil {
			h.logger.Error("counting live avms", "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to check vm quota")
			return
		}
		if current >= h.cfg.QuotaVMLiveMax {
			httpserver.RespondError(w, http.StatusConflict, "conflict", "vm quota reached")
			return
		}
	}

	vncSecret, err := otp.GenerateSecret(32)
	if err != nil {
		h.logger.Error("generating vnc secret", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to generate vnc secret")
		return
	}

	avmID := uuid.New()
	avm, err := h.store.CreateAVM(r.Context(), db.CreateAVMParams{
		AVMID:     avmID,
		AVMName:   req.Name,
		UIDOwner:  uid,
		ProjectID: projectID,
		Image:     req.Image,
		HWConfig:  req.HWConfig,
	})
	if err != nil {
		h.logger.Error("creating avm", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create avm")
		return
	}

	if err := h.store.CreateAVMOTP(r.Context(), avmID, vncSecret); err != nil {
		h.logger.Error("creating avm otp", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create avm")
		return
	}

	msg := taskmessage.AVMCreateMsg{
		UserID:    uid,
		ProjectID: projectID.String(),
		AVMID:     avmID.String(),
		Image:     req.Image,
		HWConfig:  toWireHWConfig(req.HWConfig),
		VNCSecret: vncSecret,
	}
	if err := h.broker.Publish(r.Context(), taskmessage.AVMCreate, msg, 0); err != nil {
		h.logger.Error("publishing avm_create", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to queue avm creation")
		return
	}

	httpserver.Respond(w, http.StatusAccepted, avm)
}

func (h *Handler) handleGetAVM(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	avm, err := h.store.GetAVMVisible(r.Context(), id, userID(r))
	if err != nil {
		notFound(w, h.logger, "avm", err)
		return
	}
	httpserver.Respond(w, http.StatusOK, avm)
}

func (h *Handler) handleDeleteAVM(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	uid := userID(r)
	avm, err := h.store.GetAVMVisible(r.Context(), id, uid)
	if err != nil {
		notFound(w, h.logger, "avm", err)
		return
	}

	stackName := ""
	if avm.StackName.Valid {
		stackName = avm.StackName.String
	}

	if err := h.broker.Publish(r.Context(), taskmessage.AVMDelete, taskmessage.AVMDeleteMsg{
		UserID:    uid,
		AVMID:     id.String(),
		StackName: stackName,
	}, 0); err != nil {
		h.logger.Error("publishing avm_delete", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to queue avm deletion")
		return
	}

	if err := h.store.SetAVMStatus(r.Context(), id, "DELETING", ""); err != nil {
		h.logger.Error("setting avm status to deleting", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to queue avm deletion")
		return
	}

	httpserver.Respond(w, http.StatusAccepted, nil)
}

// toWireHWConfig copies the db hwconfig shape into the taskmessage wire shape;
// the two are structurally identical but kept as distinct types so the wire
// format doesn't change if the stored representation does.
func toWireHWConfig(hw db.HWConfig) taskmessage.HWConfig {
	return taskmessage.HWConfig{
		Width:   hw.Width,
		Height:  hw.Height,
		DPI:     hw.DPI,
		RAMMb:   hw.RAMMb,
		Sensors: hw.Sensors,
		Battery: hw.Battery,
		GPS:     hw.GPS,
		Camera:  hw.Camera,
		Record:  hw.Record,
		GSM:     hw.GSM,
		NFC:     hw.NFC,
	}
}
