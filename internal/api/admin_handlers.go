package api

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/BTreeMap/Onebit/internal/models"
)

// requireAdmin guards next with the admin bearer token. Without a
// configured token the admin surface is disabled.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			slog.Warn("Server.requireAdmin: admin API disabled", "path", r.URL.Path)
			writeJSONResponse(w, http.StatusForbidden, models.Error("Admin API is disabled"))
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.adminToken)) != 1 {
			slog.Warn("Server.requireAdmin: unauthorized request", "path", r.URL.Path)
			w.Header().Set("WWW-Authenticate", `Bearer realm="onebit-admin"`)
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Unauthorized"))
			return
		}
		next(w, r)
	}
}

// catalogHandler handles GET /catalog.
func (s *Server) catalogHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.catalog.Get()))
}

// catalogRoutesHandler dispatches the admin catalog edits:
//
//	POST   /catalog/reset
//	POST   /catalog/categories
//	DELETE /catalog/categories/{name}
//	POST   /catalog/categories/{name}/steps
//	DELETE /catalog/categories/{name}/steps/{index}
func (s *Server) catalogRoutesHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.catalogRoutesHandler: processing request", "method", r.Method, "path", r.URL.Path)
	segments, err := pathSegments(r, "/catalog")
	if err != nil || len(segments) == 0 {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown catalog endpoint"))
		return
	}

	switch {
	case len(segments) == 1 && segments[0] == "reset":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.applyCatalogEdit(w, "reset", s.catalog.Reset())

	case len(segments) == 1 && segments[0] == "categories":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		var req models.CategoryRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		s.applyCatalogEdit(w, "add category", s.catalog.AddCategory(req.Name))

	case len(segments) == 2 && segments[0] == "categories":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, http.MethodDelete)
			return
		}
		s.applyCatalogEdit(w, "remove category", s.catalog.RemoveCategory(segments[1]))

	case len(segments) == 3 && segments[0] == "categories" && segments[2] == "steps":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		var req models.StepRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		s.applyCatalogEdit(w, "add step", s.catalog.AddStep(segments[1], req.Step))

	case len(segments) == 4 && segments[0] == "categories" && segments[2] == "steps":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, http.MethodDelete)
			return
		}
		index, err := strconv.Atoi(segments[3])
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Step index must be an integer"))
			return
		}
		s.applyCatalogEdit(w, "remove step", s.catalog.RemoveStep(segments[1], index))

	default:
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown catalog endpoint"))
	}
}

// applyCatalogEdit answers a catalog edit with the resulting catalog.
func (s *Server) applyCatalogEdit(w http.ResponseWriter, op string, err error) {
	if err != nil {
		writeError(w, "Server.catalogRoutesHandler", err, "Failed to update catalog")
		return
	}
	slog.Info("Server.catalogRoutesHandler: catalog edited", "op", op)
	writeJSONResponse(w, http.StatusOK, models.Success(s.catalog.Get()))
}

// settingsHandler handles GET and PUT /admin/settings.
func (s *Server) settingsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := s.loadSettings()
		if err != nil {
			writeError(w, "Server.settingsHandler", err, "Failed to load settings")
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(settings))
	case http.MethodPut:
		var updates map[string]string
		if !decodeJSON(w, r, &updates) {
			return
		}
		for key, value := range updates {
			if err := validateSetting(key, value); err != nil {
				slog.Warn("Server.settingsHandler: invalid setting", "key", key, "error", err)
				writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
				return
			}
		}
		for key, value := range updates {
			if err := s.st.SetSetting(key, value); err != nil {
				writeError(w, "Server.settingsHandler", err, "Failed to save settings")
				return
			}
		}
		slog.Info("Server.settingsHandler: settings updated", "count", len(updates))
		settings, err := s.loadSettings()
		if err != nil {
			writeError(w, "Server.settingsHandler", err, "Failed to load settings")
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(settings))
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut)
	}
}

var settingKeys = []string{
	models.SettingDailyAnchors,
	models.SettingSyncEnabled,
	models.SettingDemoVideoLink,
	models.SettingPitchText,
}

// loadSettings returns every stored admin setting.
func (s *Server) loadSettings() (map[string]string, error) {
	out := make(map[string]string, len(settingKeys))
	for _, key := range settingKeys {
		v, ok, err := s.st.GetSetting(key)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = v
		}
	}
	return out, nil
}

// validateSetting checks key is editable and value fits its format.
func validateSetting(key, value string) error {
	if !models.IsKnownSetting(key) {
		return fmt.Errorf("unknown setting %q", key)
	}
	switch key {
	case models.SettingDailyAnchors:
		var anchors []string
		if err := json.Unmarshal([]byte(value), &anchors); err != nil {
			return fmt.Errorf("%s must be a JSON array of strings", key)
		}
		if len(anchors) == 0 {
			return fmt.Errorf("%s must contain at least one phrase", key)
		}
		for _, a := range anchors {
			if strings.TrimSpace(a) == "" {
				return fmt.Errorf("%s cannot contain empty phrases", key)
			}
		}
	case models.SettingSyncEnabled:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("%s must be true or false", key)
		}
	}
	return nil
}
