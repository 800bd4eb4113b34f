// Package web serves cycle history and accepts webhook triggers over HTTP.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/metalagman/steward/internal/history"
	"github.com/metalagman/steward/internal/model"
)

const maxBodyBytes = 1 << 20

// Cycles is the orchestrator surface the server needs.
type Cycles interface {
	History() []model.Cycle
	Cycle(id string) (model.Cycle, bool)
	RunCycle(ctx context.Context, trigger model.Trigger) (model.Cycle, error)
}

// Archive looks up cycles that fell out of the in-memory history.
type Archive interface {
	Get(ctx context.Context, id string) (model.Cycle, error)
}

// Server provides the HTTP handlers.
type Server struct {
	cycles  Cycles
	archive Archive
	tmpl    *template.Template
}

//go:embed templates/*.html
var templatesFS embed.FS

// NewServer creates a server. archive may be nil.
func NewServer(cycles Cycles, archive Archive) (*Server, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/index.html")
	if err != nil {
		return nil, err
	}
	return &Server{cycles: cycles, archive: archive, tmpl: tmpl}, nil
}

// Routes returns the router.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /cycles", s.handleList)
	mux.HandleFunc("GET /cycles/{id}", s.handleGet)
	mux.HandleFunc("POST /triggers/webhook", s.handleWebhook)
	return mux
}

// WebhookRequest is the body of POST /triggers/webhook.
type WebhookRequest struct {
	Name    string         `json:"name,omitempty"`
	Agents  []string       `json:"agents,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (s *Server) recent() []model.Cycle {
	cycles := s.cycles.History()
	slices.Reverse(cycles)
	return cycles
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	rows := make([]history.Summary, 0)
	for _, c := range s.recent() {
		rows = append(rows, history.Summarize(c))
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.Execute(w, rows); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.recent())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if c, ok := s.cycles.Cycle(id); ok {
		writeJSON(w, http.StatusOK, c)
		return
	}
	if s.archive != nil {
		c, err := s.archive.Get(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, c)
			return
		}
		if !errors.Is(err, history.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeError(w, http.StatusNotFound, errors.New("cycle not found: "+id))
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req WebhookRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("decode webhook body: "+err.Error()))
		return
	}

	trigger := model.Trigger{
		Name:    req.Name,
		Type:    model.TriggerWebhook,
		Agents:  req.Agents,
		Payload: req.Payload,
	}
	c, err := s.cycles.RunCycle(r.Context(), trigger)
	if err != nil {
		log.Error().Err(err).Str("trigger", req.Name).Msg("webhook cycle failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
