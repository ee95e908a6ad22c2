package models

import (
	"errors"
	"strings"
	"time"
)

// ReflectionDateLayout is the calendar date format used for reflections.
const ReflectionDateLayout = "2006-01-02"

// Request validation errors.
var (
	ErrOutcomeRequired      = errors.New("outcome is required")
	ErrEmptyAppendText      = errors.New("text to append cannot be empty")
	ErrInvalidReflectionDay = errors.New("date must use the YYYY-MM-DD format")
	ErrReflectionTooLong    = errors.New("reflection exceeds maximum length")
)

// MaxReflectionLength is the maximum accepted reflection size in bytes.
const MaxReflectionLength = 4096

// CompressRequest is the body of POST /compress and POST /suggest.
type CompressRequest struct {
	MentalDump string `json:"mental_dump"`
	Blocker    string `json:"blocker"`
	TimeBucket int    `json:"time_bucket"`
}

// Parse validates the request and returns its closed-enumeration values.
// An empty blocker defaults to BlockerTooMany.
func (r CompressRequest) Parse() (BlockerKind, TimeBudget, error) {
	if len(r.MentalDump) > MaxMentalDumpLength {
		return "", 0, ErrMentalDumpTooLong
	}
	blocker, err := ParseBlocker(r.Blocker)
	if err != nil {
		return "", 0, err
	}
	budget := TimeBudget(r.TimeBucket)
	if !IsValidTimeBudget(budget) {
		return "", 0, ErrInvalidTimeBudget
	}
	return blocker, budget, nil
}

// RecoveryRequest is the body of POST /recovery.
type RecoveryRequest struct {
	Outcome string `json:"outcome"`
	Task    string `json:"task"`
}

// Parse validates the request and returns the outcome.
func (r RecoveryRequest) Parse() (Outcome, error) {
	outcome, err := ParseOutcome(r.Outcome)
	if err != nil {
		return "", err
	}
	if outcome == OutcomeUnset {
		return "", ErrOutcomeRequired
	}
	if len(r.Task) > MaxTaskLength {
		return "", ErrTaskTooLong
	}
	return outcome, nil
}

// SessionRequest is the body of POST /sessions.
type SessionRequest struct {
	MentalDump         string   `json:"mental_dump"`
	Blocker            string   `json:"blocker"`
	TimeBucket         int      `json:"time_bucket"`
	CompressedAction   string   `json:"compressed_action"`
	FallbackAction     string   `json:"fallback_action,omitempty"`
	Outcome            string   `json:"outcome"`
	RecoveryMessage    string   `json:"recovery_message,omitempty"`
	RecoveryMicroSteps []string `json:"recovery_micro_steps,omitempty"`
	QuickNote          string   `json:"quick_note,omitempty"`
	LLMCallCount       int      `json:"llm_call_count"`
}

// ToSession converts the request into a completed Session and validates it.
func (r SessionRequest) ToSession(id string, timestamp int64) (Session, error) {
	blocker, err := ParseBlocker(r.Blocker)
	if err != nil {
		return Session{}, err
	}
	outcome, err := ParseOutcome(r.Outcome)
	if err != nil {
		return Session{}, err
	}
	steps := r.RecoveryMicroSteps
	if steps == nil {
		steps = []string{}
	}
	s := Session{
		ID:                 id,
		MentalDump:         r.MentalDump,
		Blocker:            blocker,
		TimeBucket:         TimeBudget(r.TimeBucket),
		CompressedAction:   strings.TrimSpace(r.CompressedAction),
		FallbackAction:     strings.TrimSpace(r.FallbackAction),
		Outcome:            outcome,
		RecoveryMessage:    r.RecoveryMessage,
		RecoveryMicroSteps: steps,
		QuickNote:          r.QuickNote,
		LLMCallCount:       r.LLMCallCount,
		Completed:          true,
		Timestamp:          timestamp,
	}
	if err := s.Validate(); err != nil {
		return Session{}, err
	}
	return s, nil
}

// OutcomeUpdateRequest is the body of PUT /sessions/{id}/outcome.
type OutcomeUpdateRequest struct {
	Outcome string `json:"outcome"`
	Note    string `json:"note,omitempty"`
}

// Parse validates the request and returns the outcome.
func (r OutcomeUpdateRequest) Parse() (Outcome, error) {
	outcome, err := ParseOutcome(r.Outcome)
	if err != nil {
		return "", err
	}
	if outcome == OutcomeUnset {
		return "", ErrOutcomeRequired
	}
	if len(r.Note) > MaxNoteLength {
		return "", ErrNoteTooLong
	}
	return outcome, nil
}

// TaskUpdateRequest is the body of PUT /sessions/{id}/task.
type TaskUpdateRequest struct {
	Task string `json:"task"`
}

// Validate checks the edited task text.
func (r *TaskUpdateRequest) Validate() error {
	r.Task = strings.TrimSpace(r.Task)
	if r.Task == "" {
		return ErrEmptyTask
	}
	if len(r.Task) > MaxTaskLength {
		return ErrTaskTooLong
	}
	return nil
}

// Validate checks the fields a draft patch sets.
func (d Draft) Validate() error {
	if d.MentalDump != nil && len(*d.MentalDump) > MaxMentalDumpLength {
		return ErrMentalDumpTooLong
	}
	if d.Blocker != nil && !IsValidBlocker(*d.Blocker) {
		return ErrInvalidBlocker
	}
	if d.TimeBucket != nil && !IsValidTimeBudget(*d.TimeBucket) {
		return ErrInvalidTimeBudget
	}
	if d.CompressedAction != nil && len(*d.CompressedAction) > MaxTaskLength {
		return ErrTaskTooLong
	}
	if d.FallbackAction != nil && len(*d.FallbackAction) > MaxTaskLength {
		return ErrTaskTooLong
	}
	return nil
}

// AppendToMentalDump returns d with text added as a new line of the mental dump.
func (d Draft) AppendToMentalDump(text string) Draft {
	updated := text
	if d.MentalDump != nil && *d.MentalDump != "" {
		updated = *d.MentalDump + "\n" + text
	}
	d.MentalDump = &updated
	return d
}

// DraftAppendRequest is the body of POST /draft/append.
type DraftAppendRequest struct {
	Text string `json:"text"`
}

// Validate checks the quick-add text.
func (r *DraftAppendRequest) Validate() error {
	r.Text = strings.TrimSpace(r.Text)
	if r.Text == "" {
		return ErrEmptyAppendText
	}
	if len(r.Text) > MaxMentalDumpLength {
		return ErrMentalDumpTooLong
	}
	return nil
}

// ReflectionRequest is the body of POST /reflections. An empty date means today.
type ReflectionRequest struct {
	Date string `json:"date,omitempty"`
	Text string `json:"text"`
}

// ToReflection validates the request, resolving an empty date against now.
func (r ReflectionRequest) ToReflection(now time.Time) (Reflection, error) {
	text := strings.TrimSpace(r.Text)
	if text == "" {
		return Reflection{}, ErrEmptyReflection
	}
	if len(text) > MaxReflectionLength {
		return Reflection{}, ErrReflectionTooLong
	}
	date := strings.TrimSpace(r.Date)
	if date == "" {
		date = now.Format(ReflectionDateLayout)
	} else if _, err := time.Parse(ReflectionDateLayout, date); err != nil {
		return Reflection{}, ErrInvalidReflectionDay
	}
	return Reflection{Date: date, Text: text}, nil
}

// CategoryRequest is the body of POST /catalog/categories.
type CategoryRequest struct {
	Name string `json:"name"`
}

// StepRequest is the body of POST /catalog/categories/{name}/steps.
type StepRequest struct {
	Step string `json:"step"`
}

// SuggestResult is the result of POST /suggest.
type SuggestResult struct {
	CompressionResult
	Source string `json:"source"`
	Notice string `json:"notice,omitempty"`
}

// Suggestion sources reported by SuggestResult.
const (
	SuggestSourceLocal = "local"
	SuggestSourceGenAI = "genai"
)
