package control

import (
	"net/http"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/handlers/response"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/ZerkerEOD/krakenhashes/coordinator/pkg/debug"
	"github.com/gorilla/mux"
)

// ListTasks handles GET /api/control/attacks/{id}/tasks
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	id, err := int64Var(r, "id")
	if err != nil {
		badID(w, err)
		return
	}
	tasks, err := h.engine.Campaigns.ListTasks(r.Context(), id)
	if err != nil {
		response.ServiceError(w, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	response.JSON(w, http.StatusOK, tasks)
}

// AcknowledgeTask handles POST /api/control/tasks/{id}/acknowledge
func (h *Handler) AcknowledgeTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuidVar(r, "id")
	if err != nil {
		badID(w, err)
		return
	}
	task, err := h.engine.Campaigns.AcknowledgeTaskFailure(r.Context(), id)
	if err != nil {
		response.ServiceError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, task)
}

// RetryTask handles POST /api/control/tasks/{id}/retry
func (h *Handler) RetryTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuidVar(r, "id")
	if err != nil {
		badID(w, err)
		return
	}
	task, err := h.engine.Campaigns.RetryTask(r.Context(), id)
	if err != nil {
		response.ServiceError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, task)
}

// ListAgents handles GET /api/control/agents
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.engine.Campaigns.ListAgents(r.Context())
	if err != nil {
		response.ServiceError(w, err)
		return
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	response.JSON(w, http.StatusOK, agents)
}

// SetAgentEnabled handles POST /api/control/agents/{id}/enable and /disable
func (h *Handler) SetAgentEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := int64Var(r, "id")
	if err != nil {
		badID(w, err)
		return
	}
	enabled := mux.Vars(r)["action"] == "enable"

	if err := h.engine.Leases.SetAgentEnabled(r.Context(), int(id), enabled); err != nil {
		response.ServiceError(w, err)
		return
	}
	debug.Info("Agent %d enabled=%v by operator", id, enabled)
	w.WriteHeader(http.StatusNoContent)
}
