package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"agile-quiz-service/internal/aggregate"
	"agile-quiz-service/internal/clock"
	"agile-quiz-service/internal/domain"
	"agile-quiz-service/internal/persist"
	"agile-quiz-service/internal/session"
)

// RESTHandler serves the solo-session and aggregation endpoints.
type RESTHandler struct {
	bank     QuestionBank
	registry *session.Registry
	pipeline *persist.Pipeline
	engine   *aggregate.Engine
	clk      clock.Clock
	logger   *slog.Logger

	examBudget   int
	advanceDelay time.Duration

	// finish receipts by session id, so the finish response can report
	// whether the result reached the remote store or only the local buffer
	receipts sync.Map
}

type RESTConfig struct {
	Bank         QuestionBank
	Registry     *session.Registry
	Pipeline     *persist.Pipeline
	Engine       *aggregate.Engine
	Clock        clock.Clock
	Logger       *slog.Logger
	ExamBudget   int
	AdvanceDelay time.Duration
}

func NewRESTHandler(cfg RESTConfig) *RESTHandler {
	if cfg.Clock == nil {
		cfg.Clock = clock.Wall{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RESTHandler{
		bank:         cfg.Bank,
		registry:     cfg.Registry,
		pipeline:     cfg.Pipeline,
		engine:       cfg.Engine,
		clk:          cfg.Clock,
		logger:       cfg.Logger,
		examBudget:   cfg.ExamBudget,
		advanceDelay: cfg.AdvanceDelay,
	}
}

// Register mounts all REST routes on the mux.
func (h *RESTHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("POST /sessions", h.createSession)
	mux.HandleFunc("GET /sessions/{id}", h.getSession)
	mux.HandleFunc("POST /sessions/{id}/answers", h.selectAnswer)
	mux.HandleFunc("POST /sessions/{id}/navigate", h.navigate)
	mux.HandleFunc("POST /sessions/{id}/finish", h.finish)
	mux.HandleFunc("GET /results", h.listResults)
	mux.HandleFunc("GET /leaderboard", h.leaderboard)
	mux.HandleFunc("GET /stats/{learnerId}", h.learnerStats)
}

func (h *RESTHandler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createSessionRequest struct {
	LearnerID         string `json:"learnerId"`
	QuestionSetID     string `json:"questionSetId"`
	Mode              string `json:"mode"`
	ExamBudgetSeconds int    `json:"examBudgetSeconds"`
}

type questionView struct {
	Index   int      `json:"index"`
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
}

type sessionResponse struct {
	SessionID      string           `json:"sessionId"`
	LearnerID      string           `json:"learnerId"`
	Mode           domain.Mode      `json:"mode"`
	State          string           `json:"state"`
	Progress       session.Progress `json:"progress"`
	Question       *questionView    `json:"question,omitempty"`
	TotalQuestions int              `json:"totalQuestions"`
}

func (h *RESTHandler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.LearnerID == "" || req.QuestionSetID == "" {
		writeError(w, http.StatusBadRequest, "learnerId and questionSetId are required")
		return
	}

	set, err := h.bank.QuestionSet(r.Context(), req.QuestionSetID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	budget := req.ExamBudgetSeconds
	if budget <= 0 {
		budget = h.examBudget
	}
	s, err := session.New(session.Config{
		LearnerID:    req.LearnerID,
		Mode:         domain.Mode(req.Mode),
		Set:          set,
		ExamBudget:   budget,
		AdvanceDelay: h.advanceDelay,
		Clock:        h.clk,
		Sink:         session.SubmitterFunc(h.submit),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.Start(); err != nil {
		writeDomainError(w, err)
		return
	}
	h.registry.Put(s)
	h.logger.Info("session started", "session_id", s.ID(), "learner_id", req.LearnerID, "mode", req.Mode, "questions", len(set.Questions))

	writeJSON(w, http.StatusCreated, h.sessionView(s))
}

func (h *RESTHandler) getSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.registry.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, domain.ErrSessionNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.sessionView(s))
}

type answerRequest struct {
	Option int `json:"option"`
}

type answerResponse struct {
	Recorded bool             `json:"recorded"`
	Progress session.Progress `json:"progress"`
	// learning mode only: immediate feedback
	Correct       *bool  `json:"correct,omitempty"`
	CorrectOption *int   `json:"correctOption,omitempty"`
	Explanation   string `json:"explanation,omitempty"`
}

func (h *RESTHandler) selectAnswer(w http.ResponseWriter, r *http.Request) {
	s, ok := h.registry.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, domain.ErrSessionNotFound.Error())
		return
	}
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	question := s.Question()
	record, err := s.SelectAnswer(req.Option)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := answerResponse{Recorded: true, Progress: s.Progress()}
	if s.Mode() == domain.ModeLearning {
		correct := record.IsCorrect
		correctOption := question.CorrectOption
		resp.Correct = &correct
		resp.CorrectOption = &correctOption
		resp.Explanation = question.Explanation
	}
	writeJSON(w, http.StatusOK, resp)
}

type navigateRequest struct {
	To int `json:"to"`
}

func (h *RESTHandler) navigate(w http.ResponseWriter, r *http.Request) {
	s, ok := h.registry.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, domain.ErrSessionNotFound.Error())
		return
	}
	var req navigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.Navigate(req.To)
	writeJSON(w, http.StatusOK, h.sessionView(s))
}

type finishResponse struct {
	Result domain.QuizResult `json:"result"`
	// stored means the remote write was confirmed; buffered means the
	// result is queued locally and will be reconciled later
	Status          persist.Status `json:"status"`
	EvictedResultID string         `json:"evictedResultId,omitempty"`
}

func (h *RESTHandler) finish(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s, ok := h.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, domain.ErrSessionNotFound.Error())
		return
	}

	result, err := s.Finish(r.Context())
	if err != nil {
		h.logger.Warn("finish submission degraded", "session_id", id, "error", err)
	}

	resp := finishResponse{Result: result, Status: persist.StatusStored}
	if receipt, ok := h.receipts.Load(result.ResultID); ok {
		rc := receipt.(persist.Receipt)
		resp.Status = rc.Status
		resp.EvictedResultID = rc.EvictedResultID
	}
	h.registry.Delete(id)
	writeJSON(w, http.StatusOK, resp)
}

// submit is the sink wired into every session; it records the pipeline
// receipt so finish can report it.
func (h *RESTHandler) submit(ctx context.Context, result domain.QuizResult) error {
	receipt, err := h.pipeline.Submit(ctx, result)
	h.receipts.Store(result.ResultID, receipt)
	return err
}

func (h *RESTHandler) listResults(w http.ResponseWriter, r *http.Request) {
	learnerID := r.URL.Query().Get("learnerId")
	results, provenance, err := h.pipeline.List(r.Context(), learnerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results":    results,
		"provenance": provenance,
	})
}

func (h *RESTHandler) leaderboard(w http.ResponseWriter, r *http.Request) {
	topN := 0
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "top must be a non-negative integer")
			return
		}
		topN = n
	}
	rows, provenance, err := h.engine.Leaderboard(r.Context(), topN)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rows":       rows,
		"provenance": provenance,
	})
}

func (h *RESTHandler) learnerStats(w http.ResponseWriter, r *http.Request) {
	row, provenance, err := h.engine.LearnerStats(r.Context(), r.PathValue("learnerId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":      row,
		"provenance": provenance,
	})
}

func (h *RESTHandler) sessionView(s *session.Session) sessionResponse {
	progress := s.Progress()
	resp := sessionResponse{
		SessionID:      s.ID(),
		LearnerID:      s.LearnerID(),
		Mode:           s.Mode(),
		State:          string(s.State()),
		Progress:       progress,
		TotalQuestions: progress.Total,
	}
	if s.State() == domain.SessionInProgress {
		q := s.Question()
		resp.Question = &questionView{
			Index:   progress.CurrentIndex,
			ID:      q.ID,
			Prompt:  q.Prompt,
			Options: q.Options,
		}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps domain sentinels onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrQuestionSetNotFound), errors.Is(err, domain.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidMode), errors.Is(err, domain.ErrQuestionSetEmpty),
		errors.Is(err, domain.ErrInvalidOption):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrAnswerLocked), errors.Is(err, domain.ErrSessionNotInProgress):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
