package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/CLIAIMONITOR/internal/agentsvc"
	"github.com/CLIAIMONITOR/internal/tasks"
)

// maxPayloadBytes caps request bodies, matching the teacher's
// MaxPayloadSize DoS guard in internal/server/handlers.go.
const maxPayloadBytes = 1 * 1024 * 1024

// allowedOrigins mirrors the teacher's CLIAIMONITOR_ALLOWED_ORIGINS
// environment override, localhost always included.
var allowedOrigins = initAllowedOrigins()

func initAllowedOrigins() []string {
	defaults := []string{
		"http://localhost:3000",
		"http://127.0.0.1:3000",
	}
	if env := os.Getenv("CLIAIMONITOR_ALLOWED_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				defaults = append(defaults, origin)
			}
		}
	}
	return defaults
}

func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := originURL.Hostname()
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}
	for _, allowed := range allowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

var upgrader = websocket.Upgrader{CheckOrigin: checkOrigin}

// Server wraps an *agentsvc.Service with the HTTP/WebSocket surface
// from spec.md §6, adapted from the teacher's server.Server/setupRoutes.
type Server struct {
	svc    *agentsvc.Service
	router *mux.Router
	hub    *hub
}

// NewServer builds the router and event-forwarding hub over svc.
func NewServer(svc *agentsvc.Service) *Server {
	s := &Server{svc: svc, hub: newHub()}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	api.HandleFunc("/tasks", s.handleListTasks).Methods(http.MethodGet)
	api.HandleFunc("/tasks", s.handleSubmitTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}", s.handleGetTask).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}/cancel", s.handleCancelTask).Methods(http.MethodPost)

	api.HandleFunc("/plans", s.handleListPlans).Methods(http.MethodGet)
	api.HandleFunc("/plans", s.handleCreatePlan).Methods(http.MethodPost)
	api.HandleFunc("/plans/{id}", s.handleGetPlan).Methods(http.MethodGet)
	api.HandleFunc("/plans/{id}/execute", s.handleExecutePlan).Methods(http.MethodPost)

	api.HandleFunc("/audit", s.handleAuditQuery).Methods(http.MethodGet)

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the HTTP handler, for use by an *http.Server or test
// server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func limitBody(r *http.Request) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxPayloadBytes)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.svc.Status())
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.svc.ListTasks())
}

type submitTaskRequest struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Type        string                 `json:"type"`
	Priority    string                 `json:"priority"`
	Parameters  map[string]interface{} `json:"parameters"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	limitBody(r)
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" || req.Type == "" {
		s.respondError(w, http.StatusBadRequest, "name and type are required")
		return
	}
	priority := tasks.Priority(req.Priority)
	if priority == "" {
		priority = tasks.PriorityMedium
	}
	t := tasks.New(req.Name, req.Description, tasks.Type(req.Type), priority, req.Parameters)
	id, err := s.svc.SubmitTask(t)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	t, ok := s.svc.GetTask(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, "task not found")
		return
	}
	s.respondJSON(w, http.StatusOK, t)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.svc.CancelTask(id) {
		s.respondError(w, http.StatusConflict, "task could not be cancelled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.svc.ListPlans())
}

type createPlanRequest struct {
	Goal    string                 `json:"goal"`
	Context map[string]interface{} `json:"context"`
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	limitBody(r)
	var req createPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Goal == "" {
		s.respondError(w, http.StatusBadRequest, "goal is required")
		return
	}
	plan, err := s.svc.CreatePlan(r.Context(), req.Goal, req.Context)
	if err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, plan)
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	plan, ok := s.svc.GetPlan(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, "plan not found")
		return
	}
	s.respondJSON(w, http.StatusOK, plan)
}

func (s *Server) handleExecutePlan(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	exec, err := s.svc.ExecutePlan(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, exec)
}

func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := auditFilterFromQuery(q)
	records, err := s.svc.AuditQuery(filter)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{hub: s.hub, conn: conn, send: make(chan []byte, clientBufferSize)}
	s.hub.register <- c
	go c.readPump()
	go c.writePump()
}
