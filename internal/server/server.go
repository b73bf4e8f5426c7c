// Package server exposes the question pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ppiankov/text2sql/internal/history"
	"github.com/ppiankov/text2sql/internal/llm"
	"github.com/ppiankov/text2sql/internal/model"
	"github.com/ppiankov/text2sql/internal/pipeline"
	"github.com/ppiankov/text2sql/internal/rules"
)

const maxBodyBytes = 1 << 20

// Service is the pipeline surface the API serves
type Service interface {
	Ask(ctx context.Context, question string) (*model.Answer, error)
	Rewrite(question string) rules.Result
	Correct(sql, question string) *model.Answer
	Feedback(ctx context.Context, question string, verdict model.Feedback) error
	Stats(ctx context.Context) (model.Stats, error)
	Rules() []rules.Rule
	Reload(ctx context.Context) (int, error)
	Provider() llm.Provider
}

// Server is the HTTP API
type Server struct {
	svc     Service
	logger  *zap.Logger
	timeout time.Duration
	router  chi.Router
}

type questionRequest struct {
	Question string `json:"question"`
}

type correctRequest struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
}

type feedbackRequest struct {
	Question string         `json:"question"`
	Verdict  model.Feedback `json:"verdict"`
}

type rewriteResponse struct {
	Question   string   `json:"question"`
	Residual   string   `json:"residual"`
	Conditions []string `json:"conditions"`
	FiredRules []string `json:"fired_rules"`
	Warnings   []string `json:"warnings,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// New creates the API. timeout bounds each request; zero means no limit.
func New(svc Service, logger *zap.Logger, timeout time.Duration) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{svc: svc, logger: logger, timeout: timeout}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	if timeout > 0 {
		r.Use(middleware.Timeout(timeout))
	}

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/ask", s.handleAsk)
		r.Post("/rewrite", s.handleRewrite)
		r.Post("/correct", s.handleCorrect)
		r.Post("/feedback", s.handleFeedback)
		r.Get("/stats", s.handleStats)
		r.Get("/rules", s.handleRules)
		r.Post("/rules/reload", s.handleReload)
	})

	s.router = r
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight requests
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownGrace())
	defer cancel()

	s.logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) shutdownGrace() time.Duration {
	if s.timeout > 0 {
		return s.timeout
	}
	return 30 * time.Second
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"rules":  len(s.svc.Rules()),
	}
	if p := s.svc.Provider(); p != nil {
		resp["provider"] = p.Name()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if !decode(w, r, &req) {
		return
	}

	answer, err := s.svc.Ask(r.Context(), req.Question)
	switch {
	case errors.Is(err, pipeline.ErrEmptyQuestion):
		respondError(w, r, http.StatusBadRequest, err)
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, r, http.StatusGatewayTimeout, err)
	case err != nil:
		respondError(w, r, http.StatusBadGateway, err)
	default:
		respondJSON(w, http.StatusOK, answer)
	}
}

func (s *Server) handleRewrite(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if !decode(w, r, &req) {
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		respondError(w, r, http.StatusBadRequest, pipeline.ErrEmptyQuestion)
		return
	}

	res := s.svc.Rewrite(question)
	resp := rewriteResponse{
		Question:   question,
		Residual:   res.Residual,
		Conditions: res.Conditions,
		FiredRules: make([]string, 0, len(res.Fired)),
	}
	if resp.Conditions == nil {
		resp.Conditions = []string{}
	}
	for _, fired := range res.Fired {
		resp.FiredRules = append(resp.FiredRules, fired.Trigger)
	}
	for _, inv := range res.Invalid {
		resp.Warnings = append(resp.Warnings, inv.Error())
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCorrect(w http.ResponseWriter, r *http.Request) {
	var req correctRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		respondError(w, r, http.StatusBadRequest, errors.New("sql is required"))
		return
	}

	respondJSON(w, http.StatusOK, s.svc.Correct(req.SQL, req.Question))
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decode(w, r, &req) {
		return
	}

	err := s.svc.Feedback(r.Context(), req.Question, req.Verdict)
	switch {
	case errors.Is(err, pipeline.ErrHistoryDisabled):
		respondError(w, r, http.StatusServiceUnavailable, err)
	case errors.Is(err, history.ErrInvalidFeedback):
		respondError(w, r, http.StatusBadRequest, err)
	case errors.Is(err, history.ErrNotFound):
		respondError(w, r, http.StatusNotFound, err)
	case err != nil:
		respondError(w, r, http.StatusInternalServerError, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Stats(r.Context())
	switch {
	case errors.Is(err, pipeline.ErrHistoryDisabled):
		respondError(w, r, http.StatusServiceUnavailable, err)
	case err != nil:
		respondError(w, r, http.StatusInternalServerError, err)
	default:
		respondJSON(w, http.StatusOK, st)
	}
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	rs := s.svc.Rules()
	if rs == nil {
		rs = []rules.Rule{}
	}
	respondJSON(w, http.StatusOK, rs)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.Reload(r.Context())
	switch {
	case errors.Is(err, pipeline.ErrNoRuleStore):
		respondError(w, r, http.StatusConflict, err)
	case errors.Is(err, pipeline.ErrInvalidRules):
		respondError(w, r, http.StatusUnprocessableEntity, err)
	case err != nil:
		s.logger.Error("reload rules", zap.Error(err), zap.String("request_id", RequestIDFrom(r.Context())))
		respondError(w, r, http.StatusInternalServerError, err)
	default:
		respondJSON(w, http.StatusOK, map[string]int{"rules": n})
	}
}

// decode reads a JSON body, answering 400 itself on failure
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, r, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, r *http.Request, status int, err error) {
	respondJSON(w, status, errorResponse{Error: err.Error(), RequestID: RequestIDFrom(r.Context())})
}
