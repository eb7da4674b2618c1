package gamification

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mandaact/backend/internal/middleware"
	"github.com/mandaact/backend/internal/models"
	"go.uber.org/zap"
)

type Handler struct {
	service *Service
	log     *zap.Logger
}

func NewHandler(service *Service, log *zap.Logger) *Handler {
	return &Handler{service: service, log: log.Named("handler")}
}

// Register mounts the routes on api, which must already carry auth.
// checkMiddleware wraps only the check and uncheck routes.
func (h *Handler) Register(api *mux.Router, checkMiddleware ...mux.MiddlewareFunc) {
	actions := api.PathPrefix("/actions").Subrouter()
	actions.Use(checkMiddleware...)
	actions.HandleFunc("/{id}/check", h.CheckAction).Methods("POST")
	actions.HandleFunc("/{id}/check", h.UncheckAction).Methods("DELETE")

	g := api.PathPrefix("/gamification").Subrouter()
	g.HandleFunc("/level", h.GetLevel).Methods("GET")
	g.HandleFunc("/multipliers", h.GetMultipliers).Methods("GET")
	g.HandleFunc("/streak", h.GetStreak).Methods("GET")
	g.HandleFunc("/completion", h.GetCompletion).Methods("GET")
	g.HandleFunc("/goals", h.GetGoalProgress).Methods("GET")
	g.HandleFunc("/patterns", h.GetPatterns).Methods("GET")
	g.HandleFunc("/heatmap", h.GetHeatmap).Methods("GET")
	g.HandleFunc("/achievements", h.ListAchievements).Methods("GET")
	g.HandleFunc("/achievements/evaluate", h.EvaluateAchievements).Methods("POST")
	g.HandleFunc("/perfect-day", h.ClaimPerfectDay).Methods("POST")
}

func getUserID(r *http.Request) (uuid.UUID, bool) {
	return middleware.UserID(r.Context())
}

// writeError maps engine errors onto HTTP statuses. Anything unexpected is
// logged and reported with fallback.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var verr *ValidationError
	switch {
	case errors.Is(err, ErrActionNotFound), errors.Is(err, ErrNoCheckToday):
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: err.Error()})
	case errors.As(err, &verr):
		writeJSON(w, http.StatusConflict, models.ErrorResponse{Error: verr.Message})
	case errors.Is(err, ErrNotAuthenticated):
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
	default:
		h.log.Error(fallback,
			zap.String("request_id", middleware.RequestID(r.Context())),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: fallback})
	}
}

// ── Check / Uncheck ─────────────────────────────────────

func (h *Handler) CheckAction(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		h.writeError(w, r, ErrNotAuthenticated, "")
		return
	}
	actionID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid action id"})
		return
	}

	now := h.service.Now()
	res, err := h.service.Check(r.Context(), userID, actionID, now)
	if err != nil {
		h.writeError(w, r, err, "Failed to check action")
		return
	}

	// Badge evaluation is opportunistic; the check already committed.
	unlocked, err := h.service.CheckAndUnlockAchievements(r.Context(), userID, now)
	if err != nil {
		h.log.Warn("achievement evaluation failed",
			zap.Stringer("user_id", userID), zap.Error(err))
		unlocked = []models.Achievement{}
	}

	writeJSON(w, http.StatusOK, models.CheckResponse{CheckResult: *res, AchievementsUnlocked: unlocked})
}

func (h *Handler) UncheckAction(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		h.writeError(w, r, ErrNotAuthenticated, "")
		return
	}
	actionID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid action id"})
		return
	}

	resp, err := h.service.Uncheck(r.Context(), userID, actionID, h.service.Now())
	if err != nil {
		h.writeError(w, r, err, "Failed to uncheck action")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// ── Level & Multipliers ─────────────────────────────────

func (h *Handler) GetLevel(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		h.writeError(w, r, ErrNotAuthenticated, "")
		return
	}

	resp, err := h.service.Level(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err, "Failed to get level")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetMultipliers(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		h.writeError(w, r, ErrNotAuthenticated, "")
		return
	}

	resp, err := h.service.Multipliers(r.Context(), userID, h.service.Now())
	if err != nil {
		h.writeError(w, r, err, "Failed to get multipliers")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// ── Statistics ──────────────────────────────────────────

func (h *Handler) GetStreak(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		h.writeError(w, r, ErrNotAuthenticated, "")
		return
	}

	resp, err := h.service.StreakStats(r.Context(), userID, h.service.Now())
	if err != nil {
		h.writeError(w, r, err, "Failed to get streak")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetCompletion(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		h.writeError(w, r, ErrNotAuthenticated, "")
		return
	}

	resp, err := h.service.CompletionStats(r.Context(), userID, h.service.Now())
	if err != nil {
		h.writeError(w, r, err, "Failed to get completion stats")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetGoalProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		h.writeError(w, r, ErrNotAuthenticated, "")
		return
	}

	resp, err := h.service.GoalProgress(r.Context(), userID, h.service.Now())
	if err != nil {
		h.writeError(w, r, err, "Failed to get goal progress")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetPatterns(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		h.writeError(w, r, ErrNotAuthenticated, "")
		return
	}

	resp, err := h.service.Patterns(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err, "Failed to analyse patterns")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetHeatmap(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		h.writeError(w, r, ErrNotAuthenticated, "")
		return
	}

	days := intQueryParam(r.URL.Query(), "days", DefaultHeatmapDays)

	resp, err := h.service.Heatmap(r.Context(), userID, days, h.service.Now())
	if err != nil {
		h.writeError(w, r, err, "Failed to get heatmap")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// ── Achievements ────────────────────────────────────────

func (h *Handler) ListAchievements(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		h.writeError(w, r, ErrNotAuthenticated, "")
		return
	}

	resp, err := h.service.AchievementStatuses(r.Context(), userID, h.service.Now())
	if err != nil {
		h.writeError(w, r, err, "Failed to list achievements")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) EvaluateAchievements(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		h.writeError(w, r, ErrNotAuthenticated, "")
		return
	}

	unlocked, err := h.service.CheckAndUnlockAchievements(r.Context(), userID, h.service.Now())
	if err != nil {
		h.writeError(w, r, err, "Failed to evaluate achievements")
		return
	}

	writeJSON(w, http.StatusOK, map[string][]models.Achievement{"achievements_unlocked": unlocked})
}

func (h *Handler) ClaimPerfectDay(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		h.writeError(w, r, ErrNotAuthenticated, "")
		return
	}

	resp, err := h.service.ClaimPerfectDay(r.Context(), userID, h.service.Now())
	if err != nil {
		h.writeError(w, r, err, "Failed to claim perfect day")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// ── Helpers ─────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func intQueryParam(query url.Values, key string, defaultVal int) int {
	s := query.Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}
