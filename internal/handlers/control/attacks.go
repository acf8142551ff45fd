package control

import (
	"net/http"
	"strconv"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/handlers/response"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/services"
)

// RemoveAttackResponse reports whether an attack was deleted
type RemoveAttackResponse struct {
	Removed              bool `json:"removed"`
	RequiresConfirmation bool `json:"requires_confirmation"`
}

// ListAttacks handles GET /api/control/campaigns/{id}/attacks
func (h *Handler) ListAttacks(w http.ResponseWriter, r *http.Request) {
	id, err := int64Var(r, "id")
	if err != nil {
		badID(w, err)
		return
	}
	attacks, err := h.engine.Campaigns.ListAttacks(r.Context(), id)
	if err != nil {
		response.ServiceError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, attacks)
}

// CreateAttack handles POST /api/control/campaigns/{id}/attacks
func (h *Handler) CreateAttack(w http.ResponseWriter, r *http.Request) {
	id, err := int64Var(r, "id")
	if err != nil {
		badID(w, err)
		return
	}
	var req services.CreateAttackRequest
	if err := response.Decode(r, &req); err != nil {
		badBody(w)
		return
	}
	attack, err := h.engine.Campaigns.CreateAttack(r.Context(), id, req)
	if err != nil {
		response.ServiceError(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, attack)
}

// UpdateAttack handles PATCH /api/control/attacks/{id}. A 200 with
// requires_confirmation set means nothing changed yet.
func (h *Handler) UpdateAttack(w http.ResponseWriter, r *http.Request) {
	id, err := int64Var(r, "id")
	if err != nil {
		badID(w, err)
		return
	}
	var req services.UpdateAttackRequest
	if err := response.Decode(r, &req); err != nil {
		badBody(w)
		return
	}
	result, err := h.engine.Campaigns.UpdateAttack(r.Context(), id, req)
	if err != nil {
		response.ServiceError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, result)
}

// ReorderAttack handles POST /api/control/campaigns/{id}/attacks/reorder
func (h *Handler) ReorderAttack(w http.ResponseWriter, r *http.Request) {
	id, err := int64Var(r, "id")
	if err != nil {
		badID(w, err)
		return
	}
	var req services.ReorderRequest
	if err := response.Decode(r, &req); err != nil {
		badBody(w)
		return
	}
	result, err := h.engine.Campaigns.ReorderAttack(r.Context(), id, req)
	if err != nil {
		response.ServiceError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, result)
}

// RemoveAttack handles DELETE /api/control/attacks/{id}?confirm=true
func (h *Handler) RemoveAttack(w http.ResponseWriter, r *http.Request) {
	id, err := int64Var(r, "id")
	if err != nil {
		badID(w, err)
		return
	}
	confirm, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))

	removed, err := h.engine.Campaigns.RemoveAttack(r.Context(), id, confirm)
	if err != nil {
		response.ServiceError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, RemoveAttackResponse{Removed: removed, RequiresConfirmation: !removed})
}

// EligibleAgents handles GET /api/control/attacks/{id}/eligible-agents
func (h *Handler) EligibleAgents(w http.ResponseWriter, r *http.Request) {
	id, err := int64Var(r, "id")
	if err != nil {
		badID(w, err)
		return
	}
	agents, err := h.engine.Campaigns.EligibleAgents(r.Context(), id)
	if err != nil {
		response.ServiceError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, agents)
}
