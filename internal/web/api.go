package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mtzanidakis/aiteam/internal/agent"
	"github.com/mtzanidakis/aiteam/internal/memory"
	"github.com/mtzanidakis/aiteam/internal/pipeline"
)

const (
	maxHistoryLimit = 100
	maxRunsLimit    = 200
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// System
	mux.HandleFunc("GET /api/health", s.getHealth)
	mux.HandleFunc("GET /api/version", s.getVersion)

	// Memory
	mux.HandleFunc("GET /api/memory/{agent}/history", s.getMemoryHistory)
	mux.HandleFunc("POST /api/memory/{agent}/append", s.appendMemory)
	mux.HandleFunc("GET /api/memory/{agent}/notes", s.getMemoryNotes)

	// Agents
	mux.HandleFunc("POST /api/plan", s.createPlan)
	mux.HandleFunc("POST /api/ac_feedback", s.createFeedback)
	mux.HandleFunc("POST /api/agent/think", s.think)
	mux.HandleFunc("POST /api/agent/act", s.act)
	mux.HandleFunc("POST /api/experts/run", s.runExperts)
	mux.HandleFunc("POST /api/retro/run", s.runRetro)

	// Runs
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.deleteRun)
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok", "broker": "disabled"}
	if s.runs != nil {
		if err := s.runs.Ping(); err != nil {
			status["status"] = "degraded"
			status["store"] = err.Error()
		}
	}
	if s.events != nil {
		status["broker"] = "disconnected"
		if s.events.Connected() {
			status["broker"] = "connected"
		}
	}
	jsonResponse(w, status)
}

func (s *Server) getVersion(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]string{
		"version": s.version,
		"uptime":  formatUptime(time.Since(s.startedAt)),
	})
}

// parseLimit reads the limit query parameter, defaulting to def and
// clamping to [1, upper].
func parseLimit(r *http.Request, def, upper int) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		limit = def
	}
	return min(upper, max(1, limit))
}

func (s *Server) getMemoryHistory(w http.ResponseWriter, r *http.Request) {
	agentKey := r.PathValue("agent")
	limit := parseLimit(r, s.historyLimit(), maxHistoryLimit)

	records, err := s.memory.History(r.Context(), agentKey, limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]any{
		"agent": agentKey,
		"limit": limit,
		"items": memory.Payloads(records),
	})
}

func (s *Server) appendMemory(w http.ResponseWriter, r *http.Request) {
	agentKey := r.PathValue("agent")
	var body struct {
		Payload string `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Payload) == "" {
		jsonError(w, "payload is required", http.StatusBadRequest)
		return
	}

	if err := s.memory.Append(r.Context(), agentKey, body.Payload); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "agent": agentKey})
}

func (s *Server) getMemoryNotes(w http.ResponseWriter, r *http.Request) {
	agentKey := r.PathValue("agent")
	limit := parseLimit(r, s.historyLimit(), maxHistoryLimit)

	notes, err := s.graph.Notes(r.Context(), agentKey, limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if notes == nil {
		notes = []memory.Note{}
	}
	jsonResponse(w, map[string]any{"agent": agentKey, "notes": notes})
}

func (s *Server) createPlan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	tasks, err := s.planner.Plan(r.Context(), body.Description)
	if err != nil {
		if errors.Is(err, agent.ErrInvalidInput) {
			jsonError(w, "description is required", http.StatusBadRequest)
			return
		}
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]any{"tasks": tasks})
}

func (s *Server) createFeedback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tasks []string `json:"tasks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	jsonResponse(w, map[string]string{"feedback": s.coach.Review(r.Context(), body.Tasks)})
}

func (s *Server) think(w http.ResponseWriter, r *http.Request) {
	s.agentStep(w, r, "thought", (*agent.Base).Think)
}

func (s *Server) act(w http.ResponseWriter, r *http.Request) {
	s.agentStep(w, r, "action", (*agent.Base).Act)
}

// agentStep runs step on the agent named in the request body and returns
// its message under key.
func (s *Server) agentStep(w http.ResponseWriter, r *http.Request, key string, step func(*agent.Base, context.Context, string) string) {
	var body struct {
		Agent string `json:"agent"`
		Goal  string `json:"goal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Goal) == "" {
		jsonError(w, "goal is required", http.StatusBadRequest)
		return
	}

	var base *agent.Base
	switch {
	case body.Agent == agent.KeyPlanner || body.Agent == "":
		base = &s.planner.Base
	case body.Agent == agent.KeyCoach:
		base = &s.coach.Base
	case strings.HasPrefix(body.Agent, "expert-") && len(body.Agent) > len("expert-"):
		base = &agent.NewExpert(strings.TrimPrefix(body.Agent, "expert-"), s.memory, s.graph).Base
	default:
		jsonError(w, fmt.Sprintf("unknown agent %q", body.Agent), http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]string{key: step(base, r.Context(), body.Goal)})
}

type runRequest struct {
	Description string `json:"description"`
	Async       *bool  `json:"async"`
}

type runResponse struct {
	*pipeline.Result
	Events []pipeline.Event `json:"events"`
}

func (s *Server) runExperts(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	opts := s.defaultOptions()
	opts.Debug = truthy(r.URL.Query().Get("debug"))
	if body.Async != nil {
		opts.AsyncPreferred = *body.Async
	}

	res, events, err := s.orch.RunPipeline(r.Context(), body.Description, opts)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, agent.ErrInvalidInput) {
			code = http.StatusBadRequest
		}
		var serr *pipeline.StageError
		stage := ""
		if errors.As(err, &serr) {
			stage = string(serr.Stage)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "stage": stage})
		return
	}
	jsonResponse(w, runResponse{Result: res, Events: events})
}

func (s *Server) runRetro(w http.ResponseWriter, r *http.Request) {
	var msg string
	if s.retro != nil {
		msg = s.retro.RunNow(r.Context())
	} else {
		msg = s.coach.Retro(r.Context())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"message": msg})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		jsonResponse(w, []any{})
		return
	}
	runs, err := s.runs.ListPipelineRuns(parseLimit(r, 50, maxRunsLimit))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		jsonResponse(w, []any{})
		return
	}
	jsonResponse(w, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	run, err := s.runs.GetPipelineRun(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, run)
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	if err := s.runs.DeletePipelineRun(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
