// Package api exposes the progress service over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/language"

	"github.com/p-n-ai/pai-progress/internal/progress"
)

const (
	maxBodyBytes = 1 << 20
	checkTimeout = 2 * time.Second
	xlsxType     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ProgressService is the subset of progress.Service the handlers call.
type ProgressService interface {
	GetCourseProgress(ctx context.Context, learnerID, courseID string) (*progress.Record, error)
	UpdateUnit(ctx context.Context, learnerID, courseID, unitID string, upd progress.UnitUpdate) (*progress.Record, error)
	RecordQuizScore(ctx context.Context, learnerID, courseID, quizID string, score float64) (*progress.Record, error)
	RecordAssignmentScore(ctx context.Context, learnerID, courseID, assignmentID string, score float64, feedback string) (*progress.Record, error)
	IssueAchievement(ctx context.Context, learnerID, courseID, achievementID string) (*progress.Record, error)
	RecommendNext(ctx context.Context, learnerID, courseID string) ([]string, error)
	GenerateReport(ctx context.Context, learnerID, courseID string) (progress.Report, error)
}

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

// HandlerConfig holds handler dependencies.
type HandlerConfig struct {
	Service        ProgressService
	ReportLanguage language.Tag
	Checks         map[string]Check // readiness checks by name
}

// Handler serves the progress HTTP API.
type Handler struct {
	svc      ProgressService
	lang     language.Tag
	checks   map[string]Check
	validate *validator.Validate
}

// NewHandler creates a Handler. ReportLanguage defaults to English.
func NewHandler(cfg HandlerConfig) *Handler {
	lang := cfg.ReportLanguage
	if lang == language.Und {
		lang = language.English
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		svc:      cfg.Service,
		lang:     lang,
		checks:   cfg.Checks,
		validate: v,
	}
}

// Register adds all routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /readyz", h.handleReadyz)

	const base = "/v1/learners/{learner}/courses/{course}"
	mux.HandleFunc("GET "+base+"/progress", h.handleGetProgress)
	mux.HandleFunc("GET "+base+"/report", h.handleReport)
	mux.HandleFunc("GET "+base+"/report.xlsx", h.handleReportXLSX)
	mux.HandleFunc("GET "+base+"/recommendations", h.handleRecommendations)
	mux.HandleFunc("PATCH "+base+"/units/{unit}", h.handleUpdateUnit)
	mux.HandleFunc("POST "+base+"/quizzes/{quiz}/scores", h.handleQuizScore)
	mux.HandleFunc("POST "+base+"/assignments/{assignment}/scores", h.handleAssignmentScore)
	mux.HandleFunc("POST "+base+"/achievements", h.handleAchievement)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) handleReadyz(w http.ResponseWriter, r *http.Request) {
	failed := map[string]string{}
	for name, check := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			slog.Warn("readiness check failed", "check", name, "error", err)
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"checks": failed,
		})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func (h *Handler) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetCourseProgress(r.Context(), r.PathValue("learner"), r.PathValue("course"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.GenerateReport(r.Context(), r.PathValue("learner"), r.PathValue("course"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleReportXLSX(w http.ResponseWriter, r *http.Request) {
	lang := h.lang
	if q := r.URL.Query().Get("lang"); q != "" {
		tag, err := language.Parse(q)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid lang %q", q))
			return
		}
		lang = tag
	}

	learnerID, courseID := r.PathValue("learner"), r.PathValue("course")
	report, err := h.svc.GenerateReport(r.Context(), learnerID, courseID)
	if err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := progress.WriteReportXLSX(&buf, report, lang); err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", xlsxType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-%s.xlsx"`, learnerID, courseID))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *Handler) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	ids, err := h.svc.RecommendNext(r.Context(), r.PathValue("learner"), r.PathValue("course"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"units": ids})
}

type unitUpdateRequest struct {
	Status    *string  `json:"status" validate:"omitempty,oneof=not-started in-progress completed"`
	TimeSpent int      `json:"time_spent" validate:"gte=0"`
	Score     *float64 `json:"score" validate:"omitempty,gte=0,lte=100"`
	Attempts  *int     `json:"attempts" validate:"omitempty,gte=0"`
}

func (h *Handler) handleUpdateUnit(w http.ResponseWriter, r *http.Request) {
	var req unitUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}

	upd := progress.UnitUpdate{
		TimeSpent: req.TimeSpent,
		Score:     req.Score,
		Attempts:  req.Attempts,
	}
	if req.Status != nil {
		s := progress.Status(*req.Status)
		upd.Status = &s
	}

	rec, err := h.svc.UpdateUnit(r.Context(), r.PathValue("learner"), r.PathValue("course"), r.PathValue("unit"), upd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type quizScoreRequest struct {
	Score *float64 `json:"score" validate:"required,gte=0,lte=100"`
}

func (h *Handler) handleQuizScore(w http.ResponseWriter, r *http.Request) {
	var req quizScoreRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.svc.RecordQuizScore(r.Context(), r.PathValue("learner"), r.PathValue("course"), r.PathValue("quiz"), *req.Score)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type assignmentScoreRequest struct {
	Score    *float64 `json:"score" validate:"required,gte=0"`
	Feedback string   `json:"feedback" validate:"max=4000"`
}

func (h *Handler) handleAssignmentScore(w http.ResponseWriter, r *http.Request) {
	var req assignmentScoreRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.svc.RecordAssignmentScore(r.Context(), r.PathValue("learner"), r.PathValue("course"),
		r.PathValue("assignment"), *req.Score, req.Feedback)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type achievementRequest struct {
	AchievementID string `json:"achievement_id" validate:"required,max=128"`
}

func (h *Handler) handleAchievement(w http.ResponseWriter, r *http.Request) {
	var req achievementRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.svc.IssueAchievement(r.Context(), r.PathValue("learner"), r.PathValue("course"), req.AchievementID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// decode reads and validates a JSON body, writing the error response itself
// when it returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeMessage(w, http.StatusBadRequest, "invalid request body")
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fieldMessage(fe)
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "validation failed",
			"fields": fields,
		})
		return false
	}
	return true
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "is invalid"
	}
}

// writeError maps service errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, progress.ErrRecordNotFound):
		writeMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, progress.ErrInvalidReference),
		errors.Is(err, progress.ErrInvalidScore),
		errors.Is(err, progress.ErrInvalidUpdate):
		writeMessage(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, progress.ErrConflict):
		writeMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeMessage(w, http.StatusServiceUnavailable, "request canceled")
	default:
		slog.Error("request failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "internal error")
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}
