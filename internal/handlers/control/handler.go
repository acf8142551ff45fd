// Package control is the operator API for campaigns, attacks, tasks and agents.
package control

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/handlers/response"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/services"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Handler serves the control API
type Handler struct {
	engine *services.Engine
}

// NewHandler creates a new control handler
func NewHandler(engine *services.Engine) *Handler {
	return &Handler{engine: engine}
}

// Register mounts every control route on the router
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/hashlists", h.CreateHashList).Methods(http.MethodPost)

	r.HandleFunc("/campaigns", h.CreateCampaign).Methods(http.MethodPost)
	r.HandleFunc("/campaigns/{id:[0-9]+}", h.GetCampaign).Methods(http.MethodGet)
	r.HandleFunc("/campaigns/{id:[0-9]+}", h.UpdateCampaign).Methods(http.MethodPatch)
	r.HandleFunc("/campaigns/{id:[0-9]+}/progress", h.CampaignProgress).Methods(http.MethodGet)
	r.HandleFunc("/campaigns/{id:[0-9]+}/{action:start|pause|resume|cancel|archive|raise-priority}", h.CampaignAction).Methods(http.MethodPost)

	r.HandleFunc("/campaigns/{id:[0-9]+}/attacks", h.ListAttacks).Methods(http.MethodGet)
	r.HandleFunc("/campaigns/{id:[0-9]+}/attacks", h.CreateAttack).Methods(http.MethodPost)
	r.HandleFunc("/campaigns/{id:[0-9]+}/attacks/reorder", h.ReorderAttack).Methods(http.MethodPost)
	r.HandleFunc("/attacks/{id:[0-9]+}", h.UpdateAttack).Methods(http.MethodPatch)
	r.HandleFunc("/attacks/{id:[0-9]+}", h.RemoveAttack).Methods(http.MethodDelete)
	r.HandleFunc("/attacks/{id:[0-9]+}/tasks", h.ListTasks).Methods(http.MethodGet)
	r.HandleFunc("/attacks/{id:[0-9]+}/eligible-agents", h.EligibleAgents).Methods(http.MethodGet)

	r.HandleFunc("/tasks/{id}/acknowledge", h.AcknowledgeTask).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id}/retry", h.RetryTask).Methods(http.MethodPost)

	r.HandleFunc("/agents", h.ListAgents).Methods(http.MethodGet)
	r.HandleFunc("/agents/{id:[0-9]+}/{action:enable|disable}", h.SetAgentEnabled).Methods(http.MethodPost)
}

func int64Var(r *http.Request, name string) (int64, error) {
	v := mux.Vars(r)[name]
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return id, nil
}

func uuidVar(r *http.Request, name string) (uuid.UUID, error) {
	v := mux.Vars(r)[name]
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q", name, v)
	}
	return id, nil
}

func badID(w http.ResponseWriter, err error) {
	response.Error(w, err.Error(), "INVALID_ID", http.StatusBadRequest)
}

func badBody(w http.ResponseWriter) {
	response.Error(w, "Invalid request body", "INVALID_REQUEST", http.StatusBadRequest)
}
