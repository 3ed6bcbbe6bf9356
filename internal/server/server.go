// Package server exposes the advisor pipeline over HTTP JSON endpoints.
// Stage failures surface to the caller as short generic messages; raw
// upstream detail stays in the server log.
package server

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/brightwave-solutions/advisor/internal/dataset"
	"github.com/brightwave-solutions/advisor/internal/diff"
	"github.com/brightwave-solutions/advisor/internal/normalize"
	"github.com/brightwave-solutions/advisor/internal/orchestrator"
)

// Server holds the request handlers and their process-scoped
// dependencies.
type Server struct {
	orch      *orchestrator.Orchestrator
	table     *dataset.Table
	wordCap   int
	staticDir string
	logger    *zap.Logger
}

// New creates a Server.
func New(orch *orchestrator.Orchestrator, table *dataset.Table, wordCap int, staticDir string, logger *zap.Logger) *Server {
	return &Server{
		orch:      orch,
		table:     table,
		wordCap:   wordCap,
		staticDir: staticDir,
		logger:    logger,
	}
}

// Routes returns the route table without outer middleware; the caller
// wraps it with tracing, rate limiting, and CORS.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /dataset", s.handleCustomers)
	mux.HandleFunc("POST /validate", s.handleValidate)
	mux.HandleFunc("POST /recommend", s.handleRecommend)
	mux.HandleFunc("POST /review", s.handleReview)
	mux.HandleFunc("POST /revise", s.handleRevise)
	mux.HandleFunc("POST /changes", s.handleChanges)
	mux.Handle("GET /metrics", promhttp.Handler())

	if s.staticDir != "" {
		mux.HandleFunc("/", s.handleStatic)
	}

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCustomers(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]any{
		"columns": s.table.Columns(),
		"records": s.table.Records(),
	})
}

type questionRequest struct {
	Question string `json:"question"`
}

type validateResponse struct {
	Allowed bool     `json:"allowed"`
	Message string   `json:"message,omitempty"`
	Score   *float64 `json:"score,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		s.sendJSON(w, http.StatusBadRequest, validateResponse{
			Allowed: false,
			Message: "Question is required.",
		})
		return
	}

	result, err := s.orch.Validate(r.Context(), req.Question)
	if err != nil {
		s.sendJSON(w, http.StatusInternalServerError, validateResponse{
			Allowed: false,
			Message: "Validation failed.",
		})
		return
	}

	score := result.Score
	if !result.Allowed {
		s.sendJSON(w, http.StatusOK, validateResponse{
			Allowed: false,
			Message: orchestrator.RejectionMessage,
			Score:   &score,
			Reason:  result.Reason,
		})
		return
	}

	s.sendJSON(w, http.StatusOK, validateResponse{
		Allowed: true,
		Score:   &score,
		Reason:  result.Reason,
	})
}

type recommendationResponse struct {
	Summary string   `json:"summary"`
	Bullets []string `json:"bullets"`
	Fields  []string `json:"fields"`
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	turn, err := s.orch.Recommend(r.Context(), req.Question)
	if err != nil {
		s.sendStageError(w, err, "Agent 1 failed.")
		return
	}

	s.sendJSON(w, http.StatusOK, recommendationResponse{
		Summary: normalize.WordCap(turn.Summary, s.wordCap),
		Bullets: turn.Bullets,
		Fields:  turn.CitedFields,
	})
}

type reviewRequest struct {
	Question     string   `json:"question"`
	AgentSummary string   `json:"agentSummary"`
	AgentBullets []string `json:"agentBullets"`
	AgentFields  []string `json:"agentFields"`
}

type reviewResponse struct {
	Overall             string   `json:"overall"`
	Bullets             []string `json:"bullets"`
	ReplacementCustomer string   `json:"replacementCustomer,omitempty"`
	CustomerToReplace   string   `json:"customerToReplace,omitempty"`
	Fields              []string `json:"fields"`
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	turn, err := s.orch.Review(r.Context(), orchestrator.ReviewInput{
		Question:    req.Question,
		Summary:     req.AgentSummary,
		Bullets:     req.AgentBullets,
		CitedFields: req.AgentFields,
	})
	if err != nil {
		s.sendStageError(w, err, "Controller failed.")
		return
	}

	s.sendJSON(w, http.StatusOK, reviewResponse{
		Overall:             normalize.WordCap(turn.Overall, s.wordCap),
		Bullets:             turn.Bullets,
		ReplacementCustomer: turn.ReplacementCustomer,
		CustomerToReplace:   turn.CustomerToReplace,
		Fields:              turn.CitedFields,
	})
}

type reviseRequest struct {
	Question            string   `json:"question"`
	AgentSummary        string   `json:"agentSummary"`
	AgentBullets        []string `json:"agentBullets"`
	ControllerBullets   []string `json:"controllerBullets"`
	ControllerFields    []string `json:"controllerFields"`
	CustomerToReplace   string   `json:"customerToReplace"`
	ReplacementCustomer string   `json:"replacementCustomer"`
}

func (s *Server) handleRevise(w http.ResponseWriter, r *http.Request) {
	var req reviseRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	turn, err := s.orch.Revise(r.Context(), orchestrator.ReviseInput{
		Question:            req.Question,
		Summary:             req.AgentSummary,
		Bullets:             req.AgentBullets,
		ControllerBullets:   req.ControllerBullets,
		ControllerFields:    req.ControllerFields,
		CustomerToReplace:   req.CustomerToReplace,
		ReplacementCustomer: req.ReplacementCustomer,
	})
	if err != nil {
		s.sendStageError(w, err, "Agent 2 failed.")
		return
	}

	s.sendJSON(w, http.StatusOK, recommendationResponse{
		Summary: normalize.WordCap(turn.Summary, s.wordCap),
		Bullets: turn.Bullets,
		Fields:  turn.CitedFields,
	})
}

type changesRequest struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	var req changesRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	s.sendJSON(w, http.StatusOK, diff.Changes(req.Before, req.After))
}

// handleStatic serves the chat UI with an index fallback for unknown
// document routes.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(s.staticDir, filepath.Clean("/"+r.URL.Path))
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		http.ServeFile(w, r, path)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.staticDir, "index.html"))
}

// decodeBody enforces a JSON content type and decodes the request body,
// answering 400 itself when either fails.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	contentType := r.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(contentType); err != nil || mediaType != "application/json" {
		s.sendError(w, "Content-Type must be application/json.", http.StatusBadRequest)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		s.sendError(w, "Invalid request body.", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) sendStageError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, orchestrator.ErrEmptyQuestion) {
		s.sendError(w, "Question is required.", http.StatusBadRequest)
		return
	}
	// Upstream transport errors and malformed model output are both
	// terminal for the pipeline and look the same to the caller.
	s.sendError(w, message, http.StatusInternalServerError)
}

func (s *Server) sendError(w http.ResponseWriter, message string, status int) {
	s.sendJSON(w, status, map[string]string{"message": message})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
