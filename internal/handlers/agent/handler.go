package agent

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/handlers/response"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/repository"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/services"
	"github.com/ZerkerEOD/krakenhashes/coordinator/pkg/debug"
	"github.com/gorilla/mux"
)

// FileSource serves resource files to agents
type FileSource interface {
	Open(ref string) (io.ReadSeekCloser, error)
	Checksum(ref string) (string, error)
}

// OfflineRequest is sent by an agent that is shutting down
type OfflineRequest struct {
	AgentID int    `json:"agent_id"`
	Reason  string `json:"reason,omitempty"`
}

// Handler is the HTTP polling surface for agents
type Handler struct {
	engine *services.Engine
	files  FileSource
}

// NewHandler creates a new agent handler. files may be nil when agents fetch
// resources out of band.
func NewHandler(engine *services.Engine, files FileSource) *Handler {
	return &Handler{engine: engine, files: files}
}

// headerAgentID returns the X-Agent-ID header, or 0 if absent
func headerAgentID(r *http.Request) (int, error) {
	v := r.Header.Get("X-Agent-ID")
	if v == "" {
		return 0, nil
	}
	id, err := strconv.Atoi(v)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid X-Agent-ID %q", v)
	}
	return id, nil
}

// resolveAgentID reconciles the body's agent id with the X-Agent-ID header
func resolveAgentID(r *http.Request, bodyID int) (int, error) {
	headerID, err := headerAgentID(r)
	if err != nil {
		return 0, err
	}
	switch {
	case bodyID == 0 && headerID == 0:
		return 0, errors.New("agent_id is required")
	case bodyID == 0:
		return headerID, nil
	case headerID != 0 && headerID != bodyID:
		return 0, fmt.Errorf("agent_id %d does not match X-Agent-ID %d", bodyID, headerID)
	}
	return bodyID, nil
}

// CheckIn handles agent heartbeats
// POST /api/agent/checkin
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req services.CheckInRequest
	if err := response.Decode(r, &req); err != nil {
		response.Error(w, "Invalid request body", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}
	agentID, err := resolveAgentID(r, req.AgentID)
	if err != nil {
		response.Error(w, err.Error(), "INVALID_AGENT_ID", http.StatusBadRequest)
		return
	}
	req.AgentID = agentID

	resp, err := h.engine.Scheduler.CheckIn(r.Context(), req)
	if err != nil {
		response.ServiceError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, resp)
}

// Progress handles progress reports
// POST /api/agent/progress
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	var report services.ProgressReport
	if err := response.Decode(r, &report); err != nil {
		response.Error(w, "Invalid request body", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}
	agentID, err := resolveAgentID(r, report.AgentID)
	if err != nil {
		response.Error(w, err.Error(), "INVALID_AGENT_ID", http.StatusBadRequest)
		return
	}
	report.AgentID = agentID

	ack, err := h.engine.Progress.Report(r.Context(), report)
	if err != nil {
		response.ServiceError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, ack)
}

// Cracks handles crack batches
// POST /api/agent/cracks
func (h *Handler) Cracks(w http.ResponseWriter, r *http.Request) {
	var batch services.CrackBatch
	if err := response.Decode(r, &batch); err != nil {
		response.Error(w, "Invalid request body", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}
	agentID, err := resolveAgentID(r, batch.AgentID)
	if err != nil {
		response.Error(w, err.Error(), "INVALID_AGENT_ID", http.StatusBadRequest)
		return
	}
	batch.AgentID = agentID

	result, err := h.engine.Results.IngestBatch(r.Context(), batch)
	if err != nil {
		response.ServiceError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, result)
}

// Offline handles an agent announcing it is going away
// POST /api/agent/offline
func (h *Handler) Offline(w http.ResponseWriter, r *http.Request) {
	var req OfflineRequest
	if err := response.Decode(r, &req); err != nil {
		response.Error(w, "Invalid request body", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}
	agentID, err := resolveAgentID(r, req.AgentID)
	if err != nil {
		response.Error(w, err.Error(), "INVALID_AGENT_ID", http.StatusBadRequest)
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "agent shutdown"
	}
	if err := h.engine.Leases.OnAgentOffline(r.Context(), agentID, reason); err != nil {
		response.ServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// File streams a wordlist or rule file
// GET /api/agent/files/{path}
func (h *Handler) File(w http.ResponseWriter, r *http.Request) {
	if h.files == nil {
		response.Error(w, "File downloads are not enabled", "NOT_FOUND", http.StatusNotFound)
		return
	}
	ref := mux.Vars(r)["path"]

	f, err := h.files.Open(ref)
	if errors.Is(err, repository.ErrNotFound) {
		response.Error(w, "Resource not found", "NOT_FOUND", http.StatusNotFound)
		return
	}
	if err != nil {
		debug.Error("Failed to open resource %s: %v", ref, err)
		response.Error(w, "Failed to open resource", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	if sum, err := h.files.Checksum(ref); err == nil {
		w.Header().Set("X-Checksum-MD5", sum)
	} else {
		debug.Warning("Failed to checksum resource %s: %v", ref, err)
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, path.Base(ref), time.Time{}, f)
}
