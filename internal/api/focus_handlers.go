package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/Onebit/internal/focus"
	"github.com/BTreeMap/Onebit/internal/genai"
	"github.com/BTreeMap/Onebit/internal/models"
)

// invalidSuggestionNotice is shown when the model's text fails validation.
const invalidSuggestionNotice = "Unable to generate task. Using a suggested alternative."

// compressHandler handles POST /compress.
func (s *Server) compressHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.compressHandler: processing request", "method", r.Method)
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req models.CompressRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	blocker, budget, err := req.Parse()
	if err != nil {
		writeError(w, "Server.compressHandler", err, "Invalid request")
		return
	}
	result := focus.Compress(req.MentalDump, blocker, int(budget))
	slog.Debug("Server.compressHandler: compressed", "has_fallback", result.HasFallback())
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// suggestHandler handles POST /suggest. The local compression always runs
// first; the model is consulted only when configured and enabled, and its
// text replaces the local action only after validation.
func (s *Server) suggestHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.suggestHandler: processing request", "method", r.Method)
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req models.CompressRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	blocker, budget, err := req.Parse()
	if err != nil {
		writeError(w, "Server.suggestHandler", err, "Invalid request")
		return
	}

	local := focus.Compress(req.MentalDump, blocker, int(budget))
	result := models.SuggestResult{CompressionResult: local, Source: models.SuggestSourceLocal}

	if s.suggester == nil || !s.suggestEnabled {
		writeJSONResponse(w, http.StatusOK, models.Success(result))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DefaultSuggestTimeout)
	defer cancel()
	text, err := s.suggester.SuggestTask(ctx, req.MentalDump, blocker, budget)
	if err != nil {
		notice, adminErr := genai.Notice(err)
		if adminErr {
			slog.Error("Server.suggestHandler: suggester misconfigured", "error", err)
		} else {
			slog.Warn("Server.suggestHandler: suggestion failed, keeping local action", "error", err)
		}
		result.Notice = notice
		writeJSONResponse(w, http.StatusOK, models.Success(result))
		return
	}

	action, err := focus.ValidateExternalSuggestion(text)
	if err != nil {
		slog.Warn("Server.suggestHandler: suggestion rejected by validator", "error", err)
		result.Notice = invalidSuggestionNotice
		writeJSONResponse(w, http.StatusOK, models.Success(result))
		return
	}

	result.Action = action
	if action != local.Action {
		result.Fallback = local.Action
	}
	result.Source = models.SuggestSourceGenAI
	slog.Info("Server.suggestHandler: using model suggestion")
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// suggestStatusHandler handles GET /suggest/status.
func (s *Server) suggestStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]bool{
		"configured": s.suggester != nil,
		"enabled":    s.suggester != nil && s.suggestEnabled,
	}))
}

// recoveryHandler handles POST /recovery.
func (s *Server) recoveryHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.recoveryHandler: processing request", "method", r.Method)
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req models.RecoveryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	outcome, err := req.Parse()
	if err != nil {
		writeError(w, "Server.recoveryHandler", err, "Invalid request")
		return
	}
	result := focus.Recover(outcome, req.Task, s.catalog.Get())
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// habitHandler handles GET /habit.
func (s *Server) habitHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	sessions, err := s.st.ListSessions()
	if err != nil {
		writeError(w, "Server.habitHandler", err, "Failed to load sessions")
		return
	}
	timestamps := make([]int64, len(sessions))
	for i, sess := range sessions {
		timestamps[i] = sess.Timestamp
	}
	days := focus.HabitDays(timestamps, s.now())
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]int{"days": days}))
}

// anchorHandler handles GET /anchor.
func (s *Server) anchorHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	now := s.now()
	anchors, err := s.dailyAnchors()
	if err != nil {
		writeError(w, "Server.anchorHandler", err, "Failed to load anchors")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{
		"anchor": focus.TodaysAnchor(anchors, now),
		"date":   now.Format(models.ReflectionDateLayout),
	}))
}

// dailyAnchors returns the admin-configured anchors, or the defaults.
func (s *Server) dailyAnchors() ([]string, error) {
	raw, ok, err := s.st.GetSetting(models.SettingDailyAnchors)
	if err != nil {
		return nil, err
	}
	if !ok {
		return focus.DefaultAnchors, nil
	}
	var anchors []string
	if err := json.Unmarshal([]byte(raw), &anchors); err != nil {
		slog.Warn("Server.dailyAnchors: stored anchors unreadable, using defaults", "error", err)
		return focus.DefaultAnchors, nil
	}
	return anchors, nil
}

// sendDailyAnchor is the scheduled anchor reminder job.
func (s *Server) sendDailyAnchor(ctx context.Context) {
	now := s.now()
	anchors, err := s.dailyAnchors()
	if err != nil {
		slog.Error("Server.sendDailyAnchor: failed to load anchors", "error", err)
		return
	}
	day := now.Format(models.ReflectionDateLayout)
	if _, err := s.notifier.SendAnchor(ctx, day, focus.TodaysAnchor(anchors, now)); err != nil {
		slog.Error("Server.sendDailyAnchor: reminder failed", "day", day, "error", err)
	}
}
