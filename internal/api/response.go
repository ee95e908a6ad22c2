package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/BTreeMap/Onebit/internal/catalog"
	"github.com/BTreeMap/Onebit/internal/models"
	"github.com/BTreeMap/Onebit/internal/notify"
	"github.com/BTreeMap/Onebit/internal/store"
)

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first so an encoding failure can still change the status code.
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// methodNotAllowed answers with 405 and the allowed methods.
func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
}

// decodeJSON reads a size-limited JSON body into dst. On failure it writes
// the 400 response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Body == nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Request body is required"))
		return false
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes))
	if err := dec.Decode(dst); err != nil {
		slog.Warn("Server.decodeJSON: failed to decode JSON", "path", r.URL.Path, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return false
	}
	return true
}

// statusForError maps domain errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrSessionNotFound),
		errors.Is(err, catalog.ErrCategoryNotFound):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrCategoryExists),
		errors.Is(err, catalog.ErrProtectedCategory),
		errors.Is(err, catalog.ErrLastGenericStep):
		return http.StatusConflict
	case errors.Is(err, catalog.ErrStepIndexRange),
		errors.Is(err, notify.ErrInvalidRecipient),
		isValidationError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func isValidationError(err error) bool {
	for _, target := range []error{
		models.ErrInvalidBlocker,
		models.ErrInvalidTimeBudget,
		models.ErrInvalidOutcome,
		models.ErrOutcomeRequired,
		models.ErrMentalDumpTooLong,
		models.ErrEmptyTask,
		models.ErrTaskTooLong,
		models.ErrNoteTooLong,
		models.ErrEmptyStep,
		models.ErrStepTooLong,
		models.ErrEmptyCategoryName,
		models.ErrCategoryNameTooLong,
		models.ErrEmptyReflection,
		models.ErrReflectionTooLong,
		models.ErrInvalidReflectionDay,
		models.ErrEmptyAppendText,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// writeError writes err with the status statusForError picks. Server
// errors are logged and hidden behind a generic message.
func writeError(w http.ResponseWriter, op string, err error, publicMsg string) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		slog.Error(op+": request failed", "error", err)
		writeJSONResponse(w, status, models.Error(publicMsg))
		return
	}
	slog.Warn(op+": request rejected", "status", status, "error", err)
	writeJSONResponse(w, status, models.Error(err.Error()))
}

// pathSegments splits the escaped path after prefix into unescaped segments.
func pathSegments(r *http.Request, prefix string) ([]string, error) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.EscapedPath(), prefix), "/")
	if rest == "" {
		return nil, nil
	}
	parts := strings.Split(rest, "/")
	for i, p := range parts {
		seg, err := url.PathUnescape(p)
		if err != nil {
			return nil, err
		}
		parts[i] = seg
	}
	return parts, nil
}
