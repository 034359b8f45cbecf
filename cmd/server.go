package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/intake"
	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/poller"
	"github.com/sells-group/intake-cli/internal/store"
	"github.com/sells-group/intake-cli/internal/workflow"
	"github.com/sells-group/intake-cli/pkg/casemgmt"
)

// caseService is the part of the intake service the HTTP surface uses.
type caseService interface {
	Record(ctx context.Context, caseID string) (*model.SubmissionRecord, error)
	Rerun(ctx context.Context, in intake.RerunInput) (*intake.Output, error)
	Forward(ctx context.Context, rec *model.SubmissionRecord, update bool) (*casemgmt.Response, error)
}

// intakeStarter launches intake workflows.
type intakeStarter interface {
	StartIntake(ctx context.Context, in workflow.IntakeInput) (client.WorkflowRun, error)
}

type server struct {
	svc     caseService
	starter intakeStarter
	metrics http.Handler // may be nil
	origins []string
	poll    poller.Config
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Post("/cases", s.handleStartCase)
	r.Get("/cases/{caseID}", s.handleGetCase)
	r.Post("/cases/{caseID}/rerun", s.handleRerun)
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startCaseRequest struct {
	CaseID   string `json:"case_id"`
	TxID     string `json:"tx_id"`
	ThreadID any    `json:"thread_id,omitempty"`
}

func (s *server) handleStartCase(w http.ResponseWriter, r *http.Request) {
	var req startCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CaseID == "" || req.TxID == "" {
		writeError(w, http.StatusBadRequest, "case_id and tx_id are required")
		return
	}

	run, err := s.starter.StartIntake(r.Context(), workflow.IntakeInput{
		CaseID:   req.CaseID,
		TxID:     req.TxID,
		ThreadID: req.ThreadID,
		Poll:     s.poll,
	})
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &started) {
		writeError(w, http.StatusConflict, "intake already running for case "+req.CaseID)
		return
	}
	if err != nil {
		zap.L().Error("serve: start intake failed", zap.String("case_id", req.CaseID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "could not start intake")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":      "accepted",
		"case_id":     req.CaseID,
		"workflow_id": run.GetID(),
		"run_id":      run.GetRunID(),
	})
}

func (s *server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Record(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type rerunRequest struct {
	Edits    map[string]any `json:"edits"`
	ThreadID any            `json:"thread_id,omitempty"`
}

type rerunResponse struct {
	CaseID     string             `json:"case_id"`
	HistorySeq int                `json:"history_sequence_id"`
	ThreadID   int                `json:"thread_id"`
	Insights   model.AgentResults `json:"insights"`
	Failed     []string           `json:"failed_agents,omitempty"`
	Forward    *casemgmt.Response `json:"forward,omitempty"`
	Outcome    model.Outcome      `json:"outcome"`
}

func (s *server) handleRerun(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseID")

	var req rerunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := s.svc.Rerun(r.Context(), intake.RerunInput{CaseID: caseID, Edits: req.Edits, ThreadID: req.ThreadID})
	if err != nil {
		writeFault(w, err)
		return
	}

	resp := rerunResponse{
		CaseID:     caseID,
		HistorySeq: out.Record.HistorySeq,
		ThreadID:   out.ThreadID,
		Insights:   out.Record.Insights,
		Failed:     out.Failed,
		Outcome:    model.Outcome{Status: model.StatusCompleted},
	}

	fwd, err := s.svc.Forward(r.Context(), out.Record, true)
	if err != nil {
		zap.L().Warn("serve: forward after rerun failed", zap.String("case_id", caseID), zap.Error(err))
		resp.Outcome = model.OutcomeOf(err)
	}
	resp.Forward = fwd
	writeJSON(w, http.StatusOK, resp)
}

// writeFault maps a fault kind to an HTTP status.
func writeFault(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case model.KindOf(err) == model.FaultValidation:
		status = http.StatusBadRequest
	case model.KindOf(err) == model.FaultTransport:
		status = http.StatusBadGateway
	case model.KindOf(err) == model.FaultCanceled:
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		zap.L().Error("serve: request failed", zap.Error(err))
	}
	writeJSON(w, status, model.OutcomeOf(err))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
