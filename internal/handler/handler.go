package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nonzoo/cbt-ai/internal/engine"
	"github.com/nonzoo/cbt-ai/internal/model"
	"github.com/nonzoo/cbt-ai/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	engine *engine.Engine
}

// New creates a new Handler.
func New(s *store.Store, e *engine.Engine) *Handler {
	return &Handler{store: s, engine: e}
}

// Routes registers all API routes. The caller is expected to have installed
// the auth middleware on r already.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/exams", h.handleListExams)
	r.Get("/sessions/{examID}", h.handleGetSession)
	r.Get("/adaptive/next/{examID}", h.handleNextQuestion)
	r.Post("/adaptive/check_answer", h.handleCheckAnswer)
	r.Post("/save_result/{examID}", h.handleSaveResult)
}

type nextQuestionResponse struct {
	Done              bool                  `json:"done"`
	Message           string                `json:"message,omitempty"`
	Question          *model.PublicQuestion `json:"question,omitempty"`
	AskedCount        int                   `json:"asked_count"`
	TotalQuestions    int                   `json:"total_questions"`
	CurrentDifficulty model.Difficulty      `json:"current_difficulty"`
}

type checkAnswerRequest struct {
	ExamID     int64 `json:"exam_id"`
	QuestionID int64 `json:"question_id"`
	Answer     int   `json:"answer"`
}

type checkAnswerResponse struct {
	IsCorrect         bool             `json:"is_correct"`
	CorrectAnswer     int              `json:"correct_answer"`
	Score             int              `json:"score"`
	AskedCount        int              `json:"asked_count"`
	TotalQuestions    int              `json:"total_questions"`
	CurrentDifficulty model.Difficulty `json:"current_difficulty"`
	Done              bool             `json:"done"`
}

type saveResultRequest struct {
	Score          int `json:"score"`
	TotalQuestions int `json:"total_questions"`
}

func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	exams, err := h.store.ListExams()
	if err != nil {
		slog.Error("list exams failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if exams == nil {
		exams = []model.Exam{}
	}
	writeJSON(w, http.StatusOK, exams)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	examID, ok := pathID(w, r, "examID")
	if !ok {
		return
	}
	sess, err := h.store.GetSession(user.ID, examID)
	if err != nil {
		slog.Error("get session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "no session for this exam")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleNextQuestion(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	examID, ok := pathID(w, r, "examID")
	if !ok {
		return
	}

	next, err := h.engine.SelectNext(user.ID, examID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nextQuestionResponse{
		Done:              next.Done,
		Message:           next.Message,
		Question:          next.Question,
		AskedCount:        next.AskedCount,
		TotalQuestions:    next.TotalQuestions,
		CurrentDifficulty: next.CurrentDifficulty,
	})
}

func (h *Handler) handleCheckAnswer(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	var req checkAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.ExamID == 0 || req.QuestionID == 0 {
		writeError(w, http.StatusBadRequest, "exam_id and question_id are required")
		return
	}

	eval, err := h.engine.Evaluate(user.ID, req.ExamID, req.QuestionID, req.Answer)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, checkAnswerResponse{
		IsCorrect:         eval.IsCorrect,
		CorrectAnswer:     eval.CorrectAnswer,
		Score:             eval.Score,
		AskedCount:        eval.AskedCount,
		TotalQuestions:    eval.TotalQuestions,
		CurrentDifficulty: eval.CurrentDifficulty,
		Done:              eval.Done,
	})
}

func (h *Handler) handleSaveResult(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	examID, ok := pathID(w, r, "examID")
	if !ok {
		return
	}
	var req saveResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Score < 0 || req.TotalQuestions < 0 {
		writeError(w, http.StatusBadRequest, "score and total_questions must not be negative")
		return
	}

	if err := h.engine.Finalize(user.ID, examID, req.Score, req.TotalQuestions); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrExamNotFound), errors.Is(err, engine.ErrQuestionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrInvalidAnswer):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("engine call failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
