package api

import (
	"log/slog"
	"net/http"

	"github.com/BTreeMap/Onebit/internal/models"
)

// draftHandler handles /draft. PUT merges the given fields into the saved draft.
func (s *Server) draftHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.draftHandler: processing request", "method", r.Method)
	switch r.Method {
	case http.MethodGet:
		d, err := s.st.GetDraft()
		if err != nil {
			writeError(w, "Server.draftHandler", err, "Failed to load draft")
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(d))
	case http.MethodPut:
		var patch models.Draft
		if !decodeJSON(w, r, &patch) {
			return
		}
		if err := patch.Validate(); err != nil {
			writeError(w, "Server.draftHandler", err, "Invalid draft")
			return
		}
		current, err := s.st.GetDraft()
		if err != nil {
			writeError(w, "Server.draftHandler", err, "Failed to load draft")
			return
		}
		merged := current.Merge(patch)
		if err := s.st.SaveDraft(merged); err != nil {
			writeError(w, "Server.draftHandler", err, "Failed to save draft")
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(merged))
	case http.MethodDelete:
		if err := s.st.ClearDraft(); err != nil {
			writeError(w, "Server.draftHandler", err, "Failed to clear draft")
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Draft cleared", nil))
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

// draftAppendHandler handles POST /draft/append (quick add).
func (s *Server) draftAppendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req models.DraftAppendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, "Server.draftAppendHandler", err, "Invalid text")
		return
	}
	current, err := s.st.GetDraft()
	if err != nil {
		writeError(w, "Server.draftAppendHandler", err, "Failed to load draft")
		return
	}
	updated := current.AppendToMentalDump(req.Text)
	if err := updated.Validate(); err != nil {
		writeError(w, "Server.draftAppendHandler", err, "Invalid draft")
		return
	}
	if err := s.st.SaveDraft(updated); err != nil {
		writeError(w, "Server.draftAppendHandler", err, "Failed to save draft")
		return
	}
	slog.Info("Server.draftAppendHandler: text appended to draft")
	writeJSONResponse(w, http.StatusOK, models.Success(updated))
}

// reflectionsHandler handles /reflections (GET list, POST save for a day).
func (s *Server) reflectionsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		refs, err := s.st.ListReflections()
		if err != nil {
			writeError(w, "Server.reflectionsHandler", err, "Failed to load reflections")
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(refs))
	case http.MethodPost:
		var req models.ReflectionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		ref, err := req.ToReflection(s.now())
		if err != nil {
			writeError(w, "Server.reflectionsHandler", err, "Invalid reflection")
			return
		}
		if err := s.st.SaveReflection(ref); err != nil {
			writeError(w, "Server.reflectionsHandler", err, "Failed to save reflection")
			return
		}
		slog.Info("Server.reflectionsHandler: reflection saved", "date", ref.Date)
		writeJSONResponse(w, http.StatusCreated, models.Recorded(ref))
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}
