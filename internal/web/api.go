package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mtzanidakis/epoptis/internal/action"
	"github.com/mtzanidakis/epoptis/internal/messaging"
	"github.com/mtzanidakis/epoptis/internal/page"
	"github.com/mtzanidakis/epoptis/internal/runner"
)

// maxListLimit caps list endpoints regardless of the limit parameter.
const maxListLimit = 1000

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Sessions
	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("POST /api/sessions", s.createSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.getSession)
	mux.HandleFunc("PUT /api/sessions/{id}", s.closeSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.deleteSession)

	// Coordination rounds
	mux.HandleFunc("POST /api/sessions/{id}/plan", s.runPlanning)
	mux.HandleFunc("POST /api/sessions/{id}/actions", s.runActionGate)

	// Bus history
	mux.HandleFunc("GET /api/messages", s.listMessages)
	mux.HandleFunc("DELETE /api/messages", s.clearMessages)
	mux.HandleFunc("GET /api/messages/{id}", s.getMessage)
	mux.HandleFunc("GET /api/tasks/{taskID}/messages", s.listTaskMessages)

	// Audit records
	mux.HandleFunc("GET /api/audit/{sessionID}", s.listAuditRecords)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.runner.ListSessions(parseLimit(r, 100))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, sessions)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req runner.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sess, err := s.runner.CreateSession(req)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonResponse(w, sess)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.runner.GetSession(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sess == nil {
		jsonError(w, "session not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, sess)
}

// closeSession records a final status. The body carries the status
// ("completed" or "failed") and an optional result document.
func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	sess, err := s.runner.GetSession(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sess == nil {
		jsonError(w, "session not found", http.StatusNotFound)
		return
	}

	var body struct {
		Status string          `json:"status"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.runner.CloseSession(id, body.Status, body.Result); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonResponse(w, map[string]string{"status": body.Status})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.DeleteSession(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

// roundRequest is the body of the plan and action-gate endpoints: a
// page snapshot plus the candidate actions.
type roundRequest struct {
	Snapshot *page.Snapshot  `json:"snapshot"`
	Actions  []action.Action `json:"actions"`
}

func (s *Server) runPlanning(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	sess, err := s.runner.GetSession(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sess == nil {
		jsonError(w, "session not found", http.StatusNotFound)
		return
	}

	var body roundRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.runner.RunPlanning(id, body.Snapshot, body.Actions)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonResponse(w, result)
}

func (s *Server) runActionGate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	sess, err := s.runner.GetSession(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sess == nil {
		jsonError(w, "session not found", http.StatusNotFound)
		return
	}

	var body roundRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.runner.RunActionGate(id, body.Actions, body.Snapshot)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonResponse(w, result)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := messaging.Filter{
		SenderRole:    messaging.Role(q.Get("sender_role")),
		RecipientRole: messaging.Role(q.Get("recipient_role")),
		Type:          messaging.Type(q.Get("type")),
		TaskID:        q.Get("task_id"),
		StepID:        q.Get("step_id"),
	}
	if raw := q.Get("min_priority"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			jsonError(w, "invalid min_priority", http.StatusBadRequest)
			return
		}
		filter.MinPriority = &n
	}

	msgs := s.bus.History(&filter)
	if limit := parseLimit(r, maxListLimit); len(msgs) > limit {
		// History is oldest-first; keep the most recent entries.
		msgs = msgs[len(msgs)-limit:]
	}
	jsonResponse(w, msgs)
}

func (s *Server) getMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, env := range s.bus.History(nil) {
		if env.ID == id {
			jsonResponse(w, env)
			return
		}
	}
	jsonError(w, "message not found", http.StatusNotFound)
}

func (s *Server) listTaskMessages(w http.ResponseWriter, r *http.Request) {
	msgs := s.bus.History(&messaging.Filter{TaskID: r.PathValue("taskID")})
	jsonResponse(w, msgs)
}

func (s *Server) clearMessages(w http.ResponseWriter, r *http.Request) {
	s.bus.ClearHistory()
	jsonResponse(w, map[string]string{"status": "cleared"})
}

func (s *Server) listAuditRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListAuditRecords(r.PathValue("sessionID"), parseLimit(r, 50))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, records)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":          "ok",
		"version":         s.version,
		"uptime":          formatUptime(time.Since(s.startedAt)),
		"active_sessions": s.runner.Active(),
		"bus":             s.bus.Statistics(),
		"policies":        s.policies.Names(),
		"timestamp":       time.Now().UTC(),
	}
	jsonResponse(w, status)
}

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
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
