package routes

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/handlers/agent"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/handlers/control"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/handlers/response"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/handlers/websocket"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/services"
	"github.com/ZerkerEOD/krakenhashes/coordinator/pkg/debug"
	"github.com/gorilla/mux"
)

// Dependencies are the collaborators mounted on the router. Files, AgentWS
// and Events are optional.
type Dependencies struct {
	Engine  *services.Engine
	Files   agent.FileSource
	AgentWS *websocket.Handler
	Events  *websocket.EventStream
}

// HealthResponse is returned by /health
type HealthResponse struct {
	Status          string `json:"status"`
	ConnectedAgents int    `json:"connected_agents"`
	EventStreams    int    `json:"event_streams"`
}

// NewRouter builds the coordinator router
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware)

	r.HandleFunc("/health", healthHandler(deps)).Methods(http.MethodGet)

	agentHandler := agent.NewHandler(deps.Engine, deps.Files)
	agentRouter := r.PathPrefix("/api/agent").Subrouter()
	agentRouter.HandleFunc("/checkin", agentHandler.CheckIn).Methods(http.MethodPost)
	agentRouter.HandleFunc("/progress", agentHandler.Progress).Methods(http.MethodPost)
	agentRouter.HandleFunc("/cracks", agentHandler.Cracks).Methods(http.MethodPost)
	agentRouter.HandleFunc("/offline", agentHandler.Offline).Methods(http.MethodPost)
	agentRouter.HandleFunc("/files/{path:.+}", agentHandler.File).Methods(http.MethodGet)
	debug.Info("Agent HTTP routes registered under /api/agent")

	if deps.AgentWS != nil {
		r.HandleFunc("/ws/agent", deps.AgentWS.ServeWS)
	}
	if deps.Events != nil {
		r.HandleFunc("/ws/events", deps.Events.ServeWS)
	}

	controlRouter := r.PathPrefix("/api/control").Subrouter()
	control.NewHandler(deps.Engine).Register(controlRouter)
	debug.Info("Control API routes registered under /api/control")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		debug.Warning("No route for %s %s", r.Method, r.URL.Path)
		response.Error(w, "route not found", "NOT_FOUND", http.StatusNotFound)
	})

	return r
}

func healthHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := HealthResponse{Status: "ok"}
		if deps.AgentWS != nil {
			health.ConnectedAgents = len(deps.AgentWS.GetConnectedAgents())
		}
		if deps.Events != nil {
			health.EventStreams = deps.Events.ConnectionCount()
		}
		response.JSON(w, http.StatusOK, health)
	}
}

// statusRecorder captures the status code written by the wrapped handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Hijack passes websocket upgrades through to the underlying connection
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

// loggingMiddleware logs every request with its status and duration
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		debug.Debug("%s %s -> %d (%v) headers=%s", r.Method, r.URL.Path, rec.status, time.Since(start), debug.SanitizeHeaders(r.Header))
	})
}
