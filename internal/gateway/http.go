package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rowan/attache/internal/agent"
	"github.com/rowan/attache/internal/governance"
	"github.com/rowan/attache/internal/profile"
	"github.com/rowan/attache/internal/retrieval"
	"github.com/rowan/attache/internal/tasks"
	"github.com/rowan/attache/internal/telemetry"
)

// Planning is the plan-pipeline boundary for the HTTP layer.
type Planning interface {
	Plan(ctx context.Context, goal string, maxSubtasks, topK int) (agent.PlanResult, error)
}

// Retrieving is the fan-out boundary for the HTTP layer.
type Retrieving interface {
	RetrieveMany(ctx context.Context, queries []string, topK int) (retrieval.Batch, error)
}

// Ingesting is the document-ingestion boundary for the HTTP layer.
type Ingesting interface {
	IngestText(ctx context.Context, name, source, content string) (int64, int, error)
	IngestURL(ctx context.Context, url string) (int64, int, error)
}

// Server exposes the assistant over HTTP. Any nil dependency disables
// its routes with a 503 instead of panicking at startup.
type Server struct {
	Assistant Responder
	Planner   Planning
	Engine    Retrieving
	Ingestor  Ingesting
	Profiles  *profile.Store
	Policy    *governance.RuleEngine
	Metrics   *telemetry.Metrics
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/profiles", s.handleProfiles)

	r.Post("/chat", s.handleChat)
	r.Post("/plan", s.handlePlan)
	r.Post("/tasks/decompose", s.handleDecompose)
	r.Post("/retrieve/multi", s.handleRetrieveMulti)
	r.Post("/ingest", s.handleIngest)

	r.Post("/policy/check", s.handlePolicyCheck)
	r.Post("/policy/toggle", s.handlePolicyToggle)
	r.Post("/policy/reload", s.handlePolicyReload)

	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, detail any) {
	writeJSON(w, status, map[string]any{
		"ok":      false,
		"message": message,
		"detail":  detail,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.Metrics == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics not configured", nil)
		return
	}
	writeJSON(w, http.StatusOK, s.Metrics.Snapshot())
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if s.Profiles == nil {
		writeError(w, http.StatusServiceUnavailable, "profiles not configured", nil)
		return
	}
	type item struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	var items []item
	for _, p := range s.Profiles.List() {
		items = append(items, item{Name: p.Name, Description: p.Description})
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": items})
}

type chatRequest struct {
	UserID  string `json:"user_id"`
	Text    string `json:"text"`
	Profile string `json:"profile"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.Assistant == nil {
		writeError(w, http.StatusServiceUnavailable, "chat not configured", nil)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required", nil)
		return
	}

	reply, profileName, err := s.Assistant.Reply(r.Context(), req.UserID, req.Text, req.Profile)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "assistant error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reply":   reply,
		"profile": profileName,
	})
}

type planRequest struct {
	Goal        string `json:"goal"`
	MaxSubtasks int    `json:"max_subtasks"`
	TopK        int    `json:"top_k"`
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	if s.Planner == nil {
		writeError(w, http.StatusServiceUnavailable, "planner not configured", nil)
		return
	}
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Goal == "" {
		writeError(w, http.StatusBadRequest, "goal is required", nil)
		return
	}

	result, err := s.Planner.Plan(r.Context(), req.Goal, req.MaxSubtasks, req.TopK)
	if err != nil {
		if errors.Is(err, agent.ErrDecompositionFailed) {
			writeError(w, http.StatusInternalServerError, "Task decomposition failed", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "plan failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type decomposeRequest struct {
	Goal        string `json:"goal"`
	MaxSubtasks int    `json:"max_subtasks"`
}

func (s *Server) handleDecompose(w http.ResponseWriter, r *http.Request) {
	var req decomposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.MaxSubtasks < 1 {
		req.MaxSubtasks = 6
	}
	if req.MaxSubtasks > 20 {
		req.MaxSubtasks = 20
	}

	subtasks := tasks.Decompose(req.Goal, req.MaxSubtasks)
	if subtasks == nil {
		subtasks = []tasks.Subtask{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"goal":     req.Goal,
		"subtasks": subtasks,
	})
}

type retrieveRequest struct {
	Queries []string `json:"queries"`
	TopK    int      `json:"top_k"`
}

func (s *Server) handleRetrieveMulti(w http.ResponseWriter, r *http.Request) {
	if s.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "retrieval not configured", nil)
		return
	}
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.TopK < 1 {
		req.TopK = 6
	}

	batch, err := s.Engine.RetrieveMany(r.Context(), req.Queries, req.TopK)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "retrieval unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

type ingestRequest struct {
	Name    string `json:"name"`
	Source  string `json:"source"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.Ingestor == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion not configured", nil)
		return
	}
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	var (
		docID  int64
		chunks int
		err    error
	)
	switch {
	case req.URL != "":
		docID, chunks, err = s.Ingestor.IngestURL(r.Context(), req.URL)
	case req.Content != "":
		name := req.Name
		if name == "" {
			name = "untitled"
		}
		docID, chunks, err = s.Ingestor.IngestText(r.Context(), name, req.Source, req.Content)
	default:
		writeError(w, http.StatusBadRequest, "either content or url is required", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ingestion failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"document_id": docID,
		"chunks":      chunks,
	})
}

type policyCheckRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

func (s *Server) handlePolicyCheck(w http.ResponseWriter, r *http.Request) {
	if s.Policy == nil {
		writeError(w, http.StatusServiceUnavailable, "policy not configured", nil)
		return
	}
	var req policyCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.Policy.CheckText(r.Context(), req.Text))
}

func (s *Server) handlePolicyToggle(w http.ResponseWriter, r *http.Request) {
	if s.Policy == nil {
		writeError(w, http.StatusServiceUnavailable, "policy not configured", nil)
		return
	}
	state := "off"
	if s.Policy.Toggle() {
		state = "on"
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "policy": state})
}

func (s *Server) handlePolicyReload(w http.ResponseWriter, r *http.Request) {
	if s.Policy == nil {
		writeError(w, http.StatusServiceUnavailable, "policy not configured", nil)
		return
	}
	if err := s.Policy.Reload(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reload rules", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "rules": s.Policy.RuleCount()})
}
