package avmapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/avmorch/orchestrator/internal/db"
	"github.com/avmorch/orchestrator/internal/httpserver"
	"github.com/avmorch/orchestrator/pkg/taskmessage"
)

// createCampaignTestrun describes one (image, hwconfig) leg a campaign
// expands into a testrun (spec.md §4.5: "one Testrun per image").
type createCampaignTestrun struct {
	Image    string      `json:"image" validate:"required"`
	HWConfig db.HWConfig `json:"hwconfig"`
	APKIDs   []uuid.UUID `json:"apk_ids"`
}

// createCampaignRequest is the body of POST /projects/{id}/campaigns.
type createCampaignRequest struct {
	Name     string                  `json:"name" validate:"required"`
	Testruns []createCampaignTestrun `json:"testruns" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	projectID, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	uid := userID(r)
	if _, err := h.store.GetProjectVisible(r.Context(), projectID, uid); err != nil {
		notFound(w, h.logger, "project", err)
		return
	}

	var req createCampaignRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	campaignID := uuid.New()
	campaign, err := h.store.CreateCampaign(r.Context(), campaignID, projectID, req.Name)
	if err != nil {
		h.logger.Error("creating campaign", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create campaign")
		return
	}

	for _, tr := range req.Testruns {
		testrun, err := h.store.CreateTestrun(r.Context(), uuid.New(), campaignID, tr.Image, tr.HWConfig)
		if err != nil {
			h.logger.Error("creating testrun", "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create testrun")
			return
		}
		for i, apkID := range tr.APKIDs {
			if err := h.store.AddTestrunAPK(r.Context(), testrun.TestrunID, apkID, int32(i)); err != nil {
				h.logger.Error("adding testrun apk", "error", err)
				httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to bind testrun apk")
				return
			}
		}
	}

	httpserver.Respond(w, http.StatusCreated, campaign)
}

func (h *Handler) handleRunCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	uid := userID(r)
	campaign, err := h.store.GetCampaign(r.Context(), id)
	if err != nil {
		notFound(w, h.logger, "campaign", err)
		return
	}
	if _, err := h.store.GetProjectVisible(r.Context(), campaign.ProjectID, uid); err != nil {
		notFound(w, h.logger, "campaign", err)
		return
	}

	if err := h.broker.Publish(r.Context(), taskmessage.CampaignRun, taskmessage.CampaignRunMsg{
		UserID:     uid,
		ProjectID:  campaign.ProjectID.String(),
		CampaignID: id.String(),
	}, 0); err != nil {
		h.logger.Error("publishing campaign_run", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to queue campaign run")
		return
	}

	httpserver.Respond(w, http.StatusAccepted, nil)
}

func (h *Handler) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	uid := userID(r)
	campaign, err := h.store.GetCampaign(r.Context(), id)
	if err != nil {
		notFound(w, h.logger, "campaign", err)
		return
	}
	if _, err := h.store.GetProjectVisible(r.Context(), campaign.ProjectID, uid); err != nil {
		notFound(w, h.logger, "campaign", err)
		return
	}

	if err := h.broker.Publish(r.Context(), taskmessage.CampaignDelete, taskmessage.CampaignDeleteMsg{
		UserID:     uid,
		ProjectID:  campaign.ProjectID.String(),
		CampaignID: id.String(),
	}, 0); err != nil {
		h.logger.Error("publishing campaign_delete", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to queue campaign deletion")
		return
	}

	if err := h.store.SetCampaignStatus(r.Context(), id, "DELETING"); err != nil {
		h.logger.Error("setting campaign status to deleting", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to queue campaign deletion")
		return
	}

	httpserver.Respond(w, http.StatusAccepted, nil)
}
