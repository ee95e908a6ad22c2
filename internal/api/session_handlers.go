package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/Onebit/internal/export"
	"github.com/BTreeMap/Onebit/internal/focus"
	"github.com/BTreeMap/Onebit/internal/models"
	"github.com/BTreeMap/Onebit/internal/util"
)

// sessionsHandler handles /sessions (GET list, POST record, DELETE clear).
func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.sessionsHandler: processing request", "method", r.Method)
	switch r.Method {
	case http.MethodGet:
		sessions, err := s.st.ListSessions()
		if err != nil {
			writeError(w, "Server.sessionsHandler", err, "Failed to load sessions")
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(sessions))
	case http.MethodPost:
		s.createSessionHandler(w, r)
	case http.MethodDelete:
		if err := s.st.ClearSessions(); err != nil {
			writeError(w, "Server.sessionsHandler", err, "Failed to clear sessions")
			return
		}
		slog.Info("Server.sessionsHandler: session history cleared")
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session history cleared", nil))
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

// createSessionHandler records a finished session. Stuck and avoided
// sessions without recovery steps get them from the current catalog.
func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := req.ToSession(util.GenerateSessionID(), s.clock().UnixMilli())
	if err != nil {
		writeError(w, "Server.createSessionHandler", err, "Invalid session")
		return
	}
	if (sess.Outcome == models.OutcomeStuck || sess.Outcome == models.OutcomeAvoided) && len(sess.RecoveryMicroSteps) == 0 {
		rec := focus.Recover(sess.Outcome, sess.CompressedAction, s.catalog.Get())
		sess.RecoveryMessage = rec.Message
		sess.RecoveryMicroSteps = rec.MicroSteps
	}
	if err := s.st.AddSession(sess); err != nil {
		writeError(w, "Server.createSessionHandler", err, "Failed to save session")
		return
	}
	if err := s.st.ClearDraft(); err != nil {
		slog.Warn("Server.createSessionHandler: failed to clear draft", "error", err)
	}
	slog.Info("Server.createSessionHandler: session recorded", "id", sess.ID, "outcome", sess.Outcome)
	writeJSONResponse(w, http.StatusCreated, models.Recorded(sess))
}

// sessionRoutesHandler dispatches /sessions/export and /sessions/{id}[/...].
func (s *Server) sessionRoutesHandler(w http.ResponseWriter, r *http.Request) {
	segments, err := pathSegments(r, "/sessions")
	if err != nil || len(segments) == 0 {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown session endpoint"))
		return
	}

	if len(segments) == 1 && segments[0] == "export" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		s.exportSessionsHandler(w, r)
		return
	}

	id := segments[0]
	if len(segments) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		s.getSessionHandler(w, id)
		return
	}
	if len(segments) != 2 {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown session endpoint"))
		return
	}

	switch segments[1] {
	case "outcome":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, http.MethodPut)
			return
		}
		s.updateOutcomeHandler(w, r, id)
	case "task":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, http.MethodPut)
			return
		}
		s.updateTaskHandler(w, r, id)
	case "nudge":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.nudgeHandler(w, r, id)
	default:
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown session endpoint"))
	}
}

func (s *Server) getSessionHandler(w http.ResponseWriter, id string) {
	sess, err := s.st.GetSession(id)
	if err != nil {
		writeError(w, "Server.getSessionHandler", err, "Failed to load session")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sess))
}

// updateOutcomeHandler handles PUT /sessions/{id}/outcome and stores the
// recovery suggestion computed for the new outcome.
func (s *Server) updateOutcomeHandler(w http.ResponseWriter, r *http.Request, id string) {
	var req models.OutcomeUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	outcome, err := req.Parse()
	if err != nil {
		writeError(w, "Server.updateOutcomeHandler", err, "Invalid outcome")
		return
	}
	sess, err := s.st.GetSession(id)
	if err != nil {
		writeError(w, "Server.updateOutcomeHandler", err, "Failed to load session")
		return
	}
	rec := focus.Recover(outcome, sess.CompressedAction, s.catalog.Get())
	if err := s.st.UpdateSessionOutcome(id, outcome, rec, req.Note); err != nil {
		writeError(w, "Server.updateOutcomeHandler", err, "Failed to update session")
		return
	}
	slog.Info("Server.updateOutcomeHandler: outcome recorded", "id", id, "outcome", outcome)
	writeJSONResponse(w, http.StatusOK, models.Success(rec))
}

func (s *Server) updateTaskHandler(w http.ResponseWriter, r *http.Request, id string) {
	var req models.TaskUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, "Server.updateTaskHandler", err, "Invalid task")
		return
	}
	if err := s.st.UpdateSessionTask(id, req.Task); err != nil {
		writeError(w, "Server.updateTaskHandler", err, "Failed to update session")
		return
	}
	sess, err := s.st.GetSession(id)
	if err != nil {
		writeError(w, "Server.updateTaskHandler", err, "Failed to load session")
		return
	}
	slog.Info("Server.updateTaskHandler: task updated", "id", id)
	writeJSONResponse(w, http.StatusOK, models.Success(sess))
}

// nudgeHandler handles POST /sessions/{id}/nudge.
func (s *Server) nudgeHandler(w http.ResponseWriter, r *http.Request, id string) {
	if s.notifier == nil {
		slog.Warn("Server.nudgeHandler: nudges not configured")
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Nudges are not configured"))
		return
	}
	sess, err := s.st.GetSession(id)
	if err != nil {
		writeError(w, "Server.nudgeHandler", err, "Failed to load session")
		return
	}
	delivery, err := s.notifier.SendSessionNudge(r.Context(), *sess)
	if err != nil {
		slog.Error("Server.nudgeHandler: nudge failed", "id", id, "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to send nudge"))
		return
	}
	if delivery.Queued {
		writeJSONResponse(w, http.StatusAccepted, models.SuccessWithMessage("Nudge queued", delivery))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Nudge sent", delivery))
}

// exportSessionsHandler handles GET /sessions/export as a text attachment.
// An empty history has nothing to export.
func (s *Server) exportSessionsHandler(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.st.ListSessions()
	if err != nil {
		writeError(w, "Server.exportSessionsHandler", err, "Failed to load sessions")
		return
	}
	if len(sessions) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(s.clock())))
	w.WriteHeader(http.StatusOK)
	if err := export.WriteText(w, sessions, s.loc); err != nil {
		slog.Error("Server.exportSessionsHandler: failed to write export", "error", err)
		return
	}
	slog.Info("Server.exportSessionsHandler: history exported", "count", len(sessions))
}
