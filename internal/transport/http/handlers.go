package http

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"exam-attempt-service/internal/app"
	"exam-attempt-service/internal/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// learnerHeader carries the authenticated learner id; it is trusted as given.
const learnerHeader = "X-Learner-ID"

// Handler serves the REST routes over the attempt and catalog services.
type Handler struct {
	attempts *app.AttemptService
	catalog  *app.CatalogService
	log      *zap.Logger
}

func NewHandler(attempts *app.AttemptService, catalog *app.CatalogService, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{attempts: attempts, catalog: catalog, log: log}
}

type submitRequest struct {
	Answers map[string]string `json:"answers"`
}

type questionRequest struct {
	Text          string            `json:"text"`
	Options       []string          `json:"options"`
	CorrectAnswer string            `json:"correctAnswer"`
	Marks         int               `json:"marks"`
	Difficulty    domain.Difficulty `json:"difficulty"`
}

type examQuestionRequest struct {
	ID string `json:"id"`
	questionRequest
}

type examRequest struct {
	CourseID        string                `json:"courseId"`
	ScheduleID      string                `json:"scheduleId"`
	Title           string                `json:"title"`
	DurationSeconds int                   `json:"durationSeconds"`
	Active          bool                  `json:"active"`
	Questions       []examQuestionRequest `json:"questions"`
}

func (q questionRequest) toDomain(examID, questionID string) domain.Question {
	return domain.Question{
		ID:            questionID,
		ExamID:        examID,
		Text:          q.Text,
		Options:       q.Options,
		CorrectAnswer: q.CorrectAnswer,
		Marks:         q.Marks,
		Difficulty:    q.Difficulty,
	}
}

func learnerID(c *gin.Context) (string, bool) {
	id := c.GetHeader(learnerHeader)
	if id == "" {
		failure(c, http.StatusUnauthorized, "missing "+learnerHeader+" header")
		return "", false
	}
	return id, true
}

// StartAttempt handles POST /api/exams/:examId/attempts.
func (h *Handler) StartAttempt(c *gin.Context) {
	learner, ok := learnerID(c)
	if !ok {
		return
	}
	attempt, err := h.attempts.StartAttempt(c.Request.Context(), c.Param("examId"), learner)
	if err != nil {
		h.fail(c, err)
		return
	}
	created(c, attempt)
}

// GetAttempt handles GET /api/exams/:examId/attempts/me.
func (h *Handler) GetAttempt(c *gin.Context) {
	learner, ok := learnerID(c)
	if !ok {
		return
	}
	attempt, err := h.attempts.GetAttempt(c.Request.Context(), c.Param("examId"), learner)
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, attempt)
}

// SubmitAttempt handles POST /api/exams/:examId/attempts/submit.
func (h *Handler) SubmitAttempt(c *gin.Context) {
	learner, ok := learnerID(c)
	if !ok {
		return
	}
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", domain.ErrInvalidAnswerPayload, err))
		return
	}
	result, err := h.attempts.SubmitAttempt(c.Request.Context(), c.Param("examId"), learner, domain.Answers(req.Answers))
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, result)
}

// GetAnalytics handles GET /api/exams/:examId/analytics.
func (h *Handler) GetAnalytics(c *gin.Context) {
	summary, err := h.attempts.GetAnalytics(c.Request.Context(), c.Param("examId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, summary)
}

// GetLeaderboard handles GET /api/exams/:examId/leaderboard?limit=n.
func (h *Handler) GetLeaderboard(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		failure(c, http.StatusBadRequest, err.Error())
		return
	}
	lb, err := h.attempts.GetLeaderboard(c.Request.Context(), c.Param("examId"), c.GetHeader(learnerHeader), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, lb)
}

// SaveExam handles PUT /api/admin/exams/:examId.
func (h *Handler) SaveExam(c *gin.Context) {
	var req examRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failure(c, http.StatusBadRequest, err.Error())
		return
	}
	examID := c.Param("examId")
	exam := domain.Exam{
		ID:         examID,
		CourseID:   req.CourseID,
		ScheduleID: req.ScheduleID,
		Title:      req.Title,
		Duration:   time.Duration(req.DurationSeconds) * time.Second,
		Active:     req.Active,
	}
	for _, q := range req.Questions {
		exam.Questions = append(exam.Questions, q.toDomain(examID, q.ID))
	}
	saved, err := h.catalog.SaveExam(c.Request.Context(), exam)
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, saved)
}

// DeleteExam handles DELETE /api/admin/exams/:examId.
func (h *Handler) DeleteExam(c *gin.Context) {
	if err := h.catalog.DeleteExam(c.Request.Context(), c.Param("examId")); err != nil {
		h.fail(c, err)
		return
	}
	success(c, nil)
}

// SaveQuestion handles PUT /api/admin/exams/:examId/questions/:questionId.
func (h *Handler) SaveQuestion(c *gin.Context) {
	var req questionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failure(c, http.StatusBadRequest, err.Error())
		return
	}
	exam, err := h.catalog.SaveQuestion(c.Request.Context(), req.toDomain(c.Param("examId"), c.Param("questionId")))
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, exam)
}

// DeleteQuestion handles DELETE /api/admin/exams/:examId/questions/:questionId.
func (h *Handler) DeleteQuestion(c *gin.Context) {
	exam, err := h.catalog.DeleteQuestion(c.Request.Context(), c.Param("examId"), c.Param("questionId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, exam)
}

// RecomputeExam handles POST /api/admin/exams/:examId/recompute.
func (h *Handler) RecomputeExam(c *gin.Context) {
	examID := c.Param("examId")
	if err := h.attempts.RecomputeExam(c.Request.Context(), examID); err != nil {
		h.fail(c, err)
		return
	}
	summary, err := h.attempts.GetAnalytics(c.Request.Context(), examID)
	switch {
	case err == nil:
		success(c, summary)
	case domain.IsNotFound(err):
		success(c, nil)
	default:
		h.fail(c, err)
	}
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer")
	}
	return n, nil
}
