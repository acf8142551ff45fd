package control

import (
	"net/http"
	"strings"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/handlers/response"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/services"
	"github.com/gorilla/mux"
)

// CreateHashListRequest uploads the target hashes of a campaign
type CreateHashListRequest struct {
	Name       string   `json:"name"`
	HashTypeID int      `json:"hash_type_id"`
	Hashes     []string `json:"hashes"`
}

// CreateHashList handles POST /api/control/hashlists
func (h *Handler) CreateHashList(w http.ResponseWriter, r *http.Request) {
	var req CreateHashListRequest
	if err := response.Decode(r, &req); err != nil {
		badBody(w)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		response.JSON(w, http.StatusBadRequest, response.APIError{Code: "CONFIGURATION_ERROR", Message: "name is required", Field: "name"})
		return
	}

	list := &models.HashList{Name: req.Name, HashTypeID: req.HashTypeID}
	if err := h.engine.Results.CreateHashList(r.Context(), list, req.Hashes); err != nil {
		response.ServiceError(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, list)
}

// CreateCampaign handles POST /api/control/campaigns
func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req services.CreateCampaignRequest
	if err := response.Decode(r, &req); err != nil {
		badBody(w)
		return
	}
	campaign, err := h.engine.Campaigns.CreateCampaign(r.Context(), req)
	if err != nil {
		response.ServiceError(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, campaign)
}

// GetCampaign handles GET /api/control/campaigns/{id}
func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := int64Var(r, "id")
	if err != nil {
		badID(w, err)
		return
	}
	campaign, err := h.engine.Campaigns.GetCampaign(r.Context(), id)
	if err != nil {
		response.ServiceError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, campaign)
}

// UpdateCampaign handles PATCH /api/control/campaigns/{id}
func (h *Handler) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := int64Var(r, "id")
	if err != nil {
		badID(w, err)
		return
	}
	var req services.UpdateCampaignRequest
	if err := response.Decode(r, &req); err != nil {
		badBody(w)
		return
	}
	campaign, err := h.engine.Campaigns.UpdateCampaign(r.Context(), id, req)
	if err != nil {
		response.ServiceError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, campaign)
}

// CampaignAction handles POST /api/control/campaigns/{id}/{action}
func (h *Handler) CampaignAction(w http.ResponseWriter, r *http.Request) {
	id, err := int64Var(r, "id")
	if err != nil {
		badID(w, err)
		return
	}

	ctx := r.Context()
	var campaign *models.Campaign
	switch action := mux.Vars(r)["action"]; action {
	case "start":
		campaign, err = h.engine.Campaigns.StartCampaign(ctx, id)
	case "pause":
		campaign, err = h.engine.Campaigns.PauseCampaign(ctx, id)
	case "resume":
		campaign, err = h.engine.Campaigns.ResumeCampaign(ctx, id)
	case "cancel":
		campaign, err = h.engine.Campaigns.CancelCampaign(ctx, id)
	case "archive":
		campaign, err = h.engine.Campaigns.ArchiveCampaign(ctx, id)
	case "raise-priority":
		campaign, err = h.engine.Campaigns.RaisePriority(ctx, id)
	default:
		response.Error(w, "Unknown action "+action, "NOT_FOUND", http.StatusNotFound)
		return
	}
	if err != nil {
		response.ServiceError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, campaign)
}

// CampaignProgress handles GET /api/control/campaigns/{id}/progress
func (h *Handler) CampaignProgress(w http.ResponseWriter, r *http.Request) {
	id, err := int64Var(r, "id")
	if err != nil {
		badID(w, err)
		return
	}
	progress, err := h.engine.Campaigns.GetCampaignProgress(r.Context(), id)
	if err != nil {
		response.ServiceError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, progress)
}
