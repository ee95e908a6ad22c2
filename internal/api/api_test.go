package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/Onebit/internal/catalog"
	"github.com/BTreeMap/Onebit/internal/focus"
	"github.com/BTreeMap/Onebit/internal/genai"
	"github.com/BTreeMap/Onebit/internal/models"
	"github.com/BTreeMap/Onebit/internal/store"
	"github.com/BTreeMap/Onebit/internal/testutil"
)

const testAdminToken = "s3cret"

var testNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

type mockSuggester struct {
	text  string
	err   error
	calls int
}

func (m *mockSuggester) SuggestTask(ctx context.Context, dump string, blocker models.BlockerKind, budget models.TimeBudget) (string, error) {
	m.calls++
	return m.text, m.err
}

func newTestServer(t *testing.T, opts ...Option) (*Server, store.Store) {
	t.Helper()
	st := store.NewInMemoryStore()
	provider := catalog.NewProvider(catalog.WithSaver(st))
	base := []Option{
		WithAdminToken(testAdminToken),
		WithLocation(time.UTC),
		WithClock(func() time.Time { return testNow }),
	}
	srv, err := NewServer(st, provider, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return srv, st
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	if _, err := NewServer(nil, catalog.NewProvider()); err == nil {
		t.Error("expected error for nil store")
	}
	if _, err := NewServer(store.NewInMemoryStore(), nil); err == nil {
		t.Error("expected error for nil catalog provider")
	}
	srv, err := NewServer(store.NewInMemoryStore(), catalog.NewProvider())
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if srv.addr != DefaultServerAddr {
		t.Errorf("expected default addr %q, got %q", DefaultServerAddr, srv.addr)
	}
}

func TestHealthHandler(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := testutil.DoJSONRequest(t, srv.Handler(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, rec.Code)
	}
	rec = testutil.DoJSONRequest(t, srv.Handler(), http.MethodPost, "/health", nil)
	if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") != http.MethodGet {
		t.Errorf("Expected 405 with Allow header, got %d %q", rec.Code, rec.Header().Get("Allow"))
	}
}

func TestCompressHandler(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := testutil.DoJSONRequest(t, h, http.MethodPost, "/compress", models.CompressRequest{
		MentalDump: "Write blog post\nReply to emails\nCall dentist\nReview budget",
		Blocker:    "too_many",
		TimeBucket: 20,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	var got models.CompressionResult
	resp := testutil.DecodeResult(t, rec, &got)
	if resp.Status != string(models.APIStatusOK) {
		t.Errorf("Expected status ok, got %q", resp.Status)
	}
	if got.Action != "Call dentist" || got.Fallback != "Write blog post" {
		t.Errorf("unexpected compression %+v", got)
	}
}

func TestCompressHandler_Validation(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	tests := []struct {
		name string
		body interface{}
	}{
		{"bad json", "{"},
		{"bad blocker", models.CompressRequest{MentalDump: "x", Blocker: "sleepy", TimeBucket: 10}},
		{"bad bucket", models.CompressRequest{MentalDump: "x", Blocker: "urgent", TimeBucket: 15}},
		{"dump too long", models.CompressRequest{MentalDump: strings.Repeat("a", models.MaxMentalDumpLength+1), TimeBucket: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testutil.DoJSONRequest(t, h, http.MethodPost, "/compress", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected status %d, got %d", http.StatusBadRequest, rec.Code)
			}
			resp := testutil.DecodeResult(t, rec, nil)
			if resp.Status != string(models.APIStatusError) || resp.Message == "" {
				t.Errorf("Expected error envelope, got %+v", resp)
			}
		})
	}

	rec := testutil.DoJSONRequest(t, h, http.MethodGet, "/compress", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}

func TestSuggestHandler(t *testing.T) {
	body := models.CompressRequest{MentalDump: "Call dentist", Blocker: "avoiding", TimeBucket: 10}

	t.Run("not configured uses local", func(t *testing.T) {
		srv, _ := newTestServer(t)
		var got models.SuggestResult
		testutil.DecodeResult(t, testutil.DoJSONRequest(t, srv.Handler(), http.MethodPost, "/suggest", body), &got)
		if got.Source != models.SuggestSourceLocal || got.Action != "Call dentist" || got.Notice != "" {
			t.Errorf("unexpected result %+v", got)
		}
	})

	t.Run("disabled does not call suggester", func(t *testing.T) {
		mock := &mockSuggester{text: "Write the intro paragraph."}
		srv, _ := newTestServer(t, WithSuggester(mock, false))
		var got models.SuggestResult
		testutil.DecodeResult(t, testutil.DoJSONRequest(t, srv.Handler(), http.MethodPost, "/suggest", body), &got)
		if mock.calls != 0 || got.Source != models.SuggestSourceLocal {
			t.Errorf("expected local result without calls, got %+v (calls=%d)", got, mock.calls)
		}
	})

	t.Run("valid suggestion replaces action", func(t *testing.T) {
		mock := &mockSuggester{text: "Sure! Call the dentist to book a cleaning. Then relax."}
		srv, _ := newTestServer(t, WithSuggester(mock, true))
		var got models.SuggestResult
		testutil.DecodeResult(t, testutil.DoJSONRequest(t, srv.Handler(), http.MethodPost, "/suggest", body), &got)
		if got.Source != models.SuggestSourceGenAI {
			t.Fatalf("expected genai source, got %+v", got)
		}
		if got.Action != "Call the dentist to book a cleaning." || got.Fallback != "Call dentist" {
			t.Errorf("unexpected result %+v", got)
		}
	})

	t.Run("invalid suggestion keeps local", func(t *testing.T) {
		mock := &mockSuggester{text: "Hello! Have a nice day."}
		srv, _ := newTestServer(t, WithSuggester(mock, true))
		var got models.SuggestResult
		testutil.DecodeResult(t, testutil.DoJSONRequest(t, srv.Handler(), http.MethodPost, "/suggest", body), &got)
		if got.Source != models.SuggestSourceLocal || got.Action != "Call dentist" || got.Notice != invalidSuggestionNotice {
			t.Errorf("unexpected result %+v", got)
		}
	})

	t.Run("error keeps local with notice", func(t *testing.T) {
		mock := &mockSuggester{err: genai.ErrAPIKeyMissing}
		srv, _ := newTestServer(t, WithSuggester(mock, true))
		rec := testutil.DoJSONRequest(t, srv.Handler(), http.MethodPost, "/suggest", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d", http.StatusOK, rec.Code)
		}
		var got models.SuggestResult
		testutil.DecodeResult(t, rec, &got)
		want, _ := genai.Notice(genai.ErrAPIKeyMissing)
		if got.Source != models.SuggestSourceLocal || got.Notice != want {
			t.Errorf("unexpected result %+v", got)
		}
	})

	t.Run("timeout notice", func(t *testing.T) {
		mock := &mockSuggester{err: context.DeadlineExceeded}
		srv, _ := newTestServer(t, WithSuggester(mock, true))
		var got models.SuggestResult
		testutil.DecodeResult(t, testutil.DoJSONRequest(t, srv.Handler(), http.MethodPost, "/suggest", body), &got)
		if !strings.Contains(got.Notice, "too long") {
			t.Errorf("expected timeout notice, got %q", got.Notice)
		}
	})
}

func TestSuggestStatusHandler(t *testing.T) {
	srv, _ := newTestServer(t)
	var got map[string]bool
	testutil.DecodeResult(t, testutil.DoJSONRequest(t, srv.Handler(), http.MethodGet, "/suggest/status", nil), &got)
	if got["configured"] || got["enabled"] {
		t.Errorf("expected unconfigured status, got %v", got)
	}

	srv, _ = newTestServer(t, WithSuggester(&mockSuggester{}, true))
	testutil.DecodeResult(t, testutil.DoJSONRequest(t, srv.Handler(), http.MethodGet, "/suggest/status", nil), &got)
	if !got["configured"] || !got["enabled"] {
		t.Errorf("expected enabled status, got %v", got)
	}
}

func TestRecoveryHandler(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	var got models.RecoveryResult
	rec := testutil.DoJSONRequest(t, h, http.MethodPost, "/recovery", models.RecoveryRequest{Outcome: "stuck", Task: "Write report"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, rec.Code)
	}
	testutil.DecodeResult(t, rec, &got)
	if got.Message != focus.StuckMessage || len(got.MicroSteps) != 2 {
		t.Errorf("unexpected recovery %+v", got)
	}
	writing := srv.catalog.Get()[0]
	for _, step := range got.MicroSteps {
		if !containsString(writing.Steps, step) {
			t.Errorf("step %q not from the Writing category", step)
		}
	}

	testutil.DecodeResult(t, testutil.DoJSONRequest(t, h, http.MethodPost, "/recovery", models.RecoveryRequest{Outcome: "done"}), &got)
	if got.Message != focus.DoneMessage || len(got.MicroSteps) != 0 {
		t.Errorf("unexpected done recovery %+v", got)
	}

	for _, outcome := range []string{"", "maybe"} {
		rec := testutil.DoJSONRequest(t, h, http.MethodPost, "/recovery", models.RecoveryRequest{Outcome: outcome})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("outcome %q: expected 400, got %d", outcome, rec.Code)
		}
	}
}

func TestRecoveryHandler_UsesEditedCatalog(t *testing.T) {
	srv, _ := newTestServer(t)
	if err := srv.catalog.RemoveCategory(focus.CategoryWriting); err != nil {
		t.Fatalf("RemoveCategory failed: %v", err)
	}
	var got models.RecoveryResult
	testutil.DecodeResult(t, testutil.DoJSONRequest(t, srv.Handler(), http.MethodPost, "/recovery", models.RecoveryRequest{Outcome: "avoided", Task: "Write report"}), &got)
	generic := catalog.Default()[4]
	for _, step := range got.MicroSteps {
		if !containsString(generic.Steps, step) {
			t.Errorf("expected Generic steps after Writing was removed, got %q", step)
		}
	}
}

func TestHabitAndAnchorHandlers(t *testing.T) {
	srv, st := newTestServer(t)
	h := srv.Handler()

	var habit map[string]int
	testutil.DecodeResult(t, testutil.DoJSONRequest(t, h, http.MethodGet, "/habit", nil), &habit)
	if habit["days"] != 0 {
		t.Errorf("expected 0 days, got %d", habit["days"])
	}

	for i, ts := range []time.Time{testNow, testNow.Add(-time.Hour), testNow.Add(-48 * time.Hour), testNow.Add(-20 * 24 * time.Hour)} {
		sess := models.Session{ID: string(rune('a' + i)), Blocker: models.BlockerUrgent, TimeBucket: 10, CompressedAction: "x", Timestamp: ts.UnixMilli()}
		if err := st.AddSession(sess); err != nil {
			t.Fatalf("AddSession failed: %v", err)
		}
	}
	testutil.DecodeResult(t, testutil.DoJSONRequest(t, h, http.MethodGet, "/habit", nil), &habit)
	if habit["days"] != 2 {
		t.Errorf("expected 2 distinct days in window, got %d", habit["days"])
	}

	var anchor map[string]string
	testutil.DecodeResult(t, testutil.DoJSONRequest(t, h, http.MethodGet, "/anchor", nil), &anchor)
	if anchor["anchor"] != focus.TodaysAnchor(focus.DefaultAnchors, testNow) || anchor["date"] != "2026-03-15" {
		t.Errorf("unexpected anchor %v", anchor)
	}

	if err := st.SetSetting(models.SettingDailyAnchors, `["One", "Two"]`); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	testutil.DecodeResult(t, testutil.DoJSONRequest(t, h, http.MethodGet, "/anchor", nil), &anchor)
	if anchor["anchor"] != focus.TodaysAnchor([]string{"One", "Two"}, testNow) {
		t.Errorf("expected configured anchor, got %v", anchor)
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{store.ErrSessionNotFound, http.StatusNotFound},
		{catalog.ErrCategoryNotFound, http.StatusNotFound},
		{catalog.ErrProtectedCategory, http.StatusConflict},
		{catalog.ErrCategoryExists, http.StatusConflict},
		{catalog.ErrStepIndexRange, http.StatusBadRequest},
		{models.ErrInvalidBlocker, http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForError(tt.err); got != tt.want {
			t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	srv, _ := newTestServer(t, WithAddr("127.0.0.1:0"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
