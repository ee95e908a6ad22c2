// Package testutil provides shared helpers for Onebit handler and service tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/Onebit/internal/models"
)

// SampleSession returns a valid finished session for tests.
func SampleSession(id string, timestamp int64) models.Session {
	return models.Session{
		ID:                 id,
		MentalDump:         "Write report, call mom",
		Blocker:            models.BlockerTooMany,
		TimeBucket:         models.TimeBudget20,
		CompressedAction:   "Write report",
		FallbackAction:     "call mom",
		Outcome:            models.OutcomeDone,
		RecoveryMicroSteps: []string{},
		Completed:          true,
		Timestamp:          timestamp,
	}
}

// DoJSONRequest sends body to h and returns the recorded response. A string
// body is sent verbatim, anything else is JSON-encoded. headers are
// key/value pairs.
func DoJSONRequest(t testing.TB, h http.Handler, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var data []byte
	switch b := body.(type) {
	case nil:
	case string:
		data = []byte(b)
	default:
		data = MustMarshalJSON(t, b)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// DecodeResult unmarshals the response envelope and, when dst is non-nil,
// its result field into dst.
func DecodeResult(t testing.TB, rec *httptest.ResponseRecorder, dst interface{}) models.APIResponse {
	t.Helper()
	var envelope struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode JSON response %q: %v", rec.Body.String(), err)
		return models.APIResponse{}
	}
	if dst != nil && len(envelope.Result) > 0 {
		MustUnmarshalJSON(t, envelope.Result, dst)
	}
	return models.APIResponse{Status: envelope.Status, Message: envelope.Message}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t testing.TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t testing.TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
