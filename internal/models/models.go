// Package models defines the core data structures for Onebit.
//
// It includes the closed enumerations accepted at the API boundary (blockers,
// time buckets, outcomes), the engine result records, and the persisted
// session, draft and reflection types shared across modules.
package models

import (
	"errors"
	"strings"
)

// BlockerKind is the user-declared reason focus is hard right now.
type BlockerKind string

const (
	// BlockerTooMany means the user has too many things on their mind.
	BlockerTooMany BlockerKind = "too_many"
	// BlockerLowEnergy means the user has little energy available.
	BlockerLowEnergy BlockerKind = "low_energy"
	// BlockerAvoiding means the user is avoiding a task.
	BlockerAvoiding BlockerKind = "avoiding"
	// BlockerUrgent means something is pressing.
	BlockerUrgent BlockerKind = "urgent"
)

// TimeBudget is the number of minutes the user commits to a session.
type TimeBudget int

// Supported time buckets.
const (
	TimeBudget10 TimeBudget = 10
	TimeBudget20 TimeBudget = 20
	TimeBudget30 TimeBudget = 30
)

// Outcome is how an action attempt ended.
type Outcome string

const (
	// OutcomeDone means the user completed the action.
	OutcomeDone Outcome = "done"
	// OutcomeStuck means the user started but got stuck.
	OutcomeStuck Outcome = "stuck"
	// OutcomeAvoided means the user did not start.
	OutcomeAvoided Outcome = "avoided"
	// OutcomeUnset means no outcome was recorded yet.
	OutcomeUnset Outcome = ""
)

// Validation constants for input validation
const (
	// MaxMentalDumpLength is the maximum accepted mental dump size in bytes.
	MaxMentalDumpLength = 16384
	// MaxTaskLength is the maximum accepted task text size in bytes.
	MaxTaskLength = 1024
	// MaxNoteLength is the maximum accepted quick note size in bytes.
	MaxNoteLength = 2048
	// MaxStepLength is the maximum accepted micro-step size in bytes.
	MaxStepLength = 200
	// MaxCategoryNameLength is the maximum accepted category name size in bytes.
	MaxCategoryNameLength = 64
)

// Error variables for better error handling and testability
var (
	ErrInvalidBlocker      = errors.New("invalid blocker")
	ErrInvalidTimeBudget   = errors.New("time bucket must be one of 10, 20 or 30")
	ErrInvalidOutcome      = errors.New("invalid outcome")
	ErrMentalDumpTooLong   = errors.New("mental dump exceeds maximum length")
	ErrEmptyTask           = errors.New("task cannot be empty")
	ErrTaskTooLong         = errors.New("task exceeds maximum length")
	ErrNoteTooLong         = errors.New("note exceeds maximum length")
	ErrEmptyStep           = errors.New("step cannot be empty")
	ErrStepTooLong         = errors.New("step exceeds maximum length")
	ErrEmptyCategoryName   = errors.New("category name cannot be empty")
	ErrCategoryNameTooLong = errors.New("category name exceeds maximum length")
	ErrEmptyReflection     = errors.New("reflection text cannot be empty")
)

// IsValidBlocker checks if the given blocker kind is supported.
func IsValidBlocker(b BlockerKind) bool {
	switch b {
	case BlockerTooMany, BlockerLowEnergy, BlockerAvoiding, BlockerUrgent:
		return true
	default:
		return false
	}
}

// IsValidTimeBudget checks if the given time bucket is one of the offered values.
func IsValidTimeBudget(t TimeBudget) bool {
	switch t {
	case TimeBudget10, TimeBudget20, TimeBudget30:
		return true
	default:
		return false
	}
}

// IsValidOutcome checks if the given outcome is a recognised value, including unset.
func IsValidOutcome(o Outcome) bool {
	switch o {
	case OutcomeDone, OutcomeStuck, OutcomeAvoided, OutcomeUnset:
		return true
	default:
		return false
	}
}

// ParseBlocker normalizes raw input into a BlockerKind.
func ParseBlocker(raw string) (BlockerKind, error) {
	b := BlockerKind(strings.ToLower(strings.TrimSpace(raw)))
	if b == "" {
		return BlockerTooMany, nil
	}
	if !IsValidBlocker(b) {
		return "", ErrInvalidBlocker
	}
	return b, nil
}

// ParseOutcome normalizes raw input into an Outcome.
func ParseOutcome(raw string) (Outcome, error) {
	o := Outcome(strings.ToLower(strings.TrimSpace(raw)))
	if !IsValidOutcome(o) {
		return "", ErrInvalidOutcome
	}
	return o, nil
}

// Candidate is one extracted, scorable unit of text. Candidates are built
// per call and never persisted.
type Candidate struct {
	Text             string `json:"text"`
	Score            int    `json:"score"`
	EstimatedMinutes int    `json:"estimated_minutes"`
}

// CompressionResult is the outcome of focus compression.
type CompressionResult struct {
	Action    string `json:"action"`
	Fallback  string `json:"fallback,omitempty"` // empty when fewer than two candidates survive
	Rationale string `json:"rationale"`
}

// HasFallback reports whether a fallback action was produced.
func (r CompressionResult) HasFallback() bool {
	return r.Fallback != ""
}

// StepCategory is a named, ordered list of micro-steps.
type StepCategory struct {
	Name  string   `json:"name" yaml:"name"`
	Steps []string `json:"steps" yaml:"steps"`
}

// RecoveryResult is the suggestion shown after an attempt.
type RecoveryResult struct {
	Message    string   `json:"message"`
	MicroSteps []string `json:"micro_steps"`
	Options    []string `json:"options,omitempty"`
}

// Session is a completed focus session as stored in history.
type Session struct {
	ID                 string      `json:"id"`
	MentalDump         string      `json:"mental_dump"`
	Blocker            BlockerKind `json:"blocker"`
	TimeBucket         TimeBudget  `json:"time_bucket"`
	CompressedAction   string      `json:"compressed_action"`
	FallbackAction     string      `json:"fallback_action,omitempty"`
	Outcome            Outcome     `json:"outcome"`
	RecoveryMessage    string      `json:"recovery_message,omitempty"`
	RecoveryMicroSteps []string    `json:"recovery_micro_steps"`
	QuickNote          string      `json:"quick_note,omitempty"`
	LLMCallCount       int         `json:"llm_call_count"`
	Completed          bool        `json:"completed"`
	Timestamp          int64       `json:"timestamp"` // unix milliseconds
}

// Validate performs boundary validation on a Session before it is stored.
func (s *Session) Validate() error {
	if len(s.MentalDump) > MaxMentalDumpLength {
		return ErrMentalDumpTooLong
	}
	if !IsValidBlocker(s.Blocker) {
		return ErrInvalidBlocker
	}
	if !IsValidTimeBudget(s.TimeBucket) {
		return ErrInvalidTimeBudget
	}
	if strings.TrimSpace(s.CompressedAction) == "" {
		return ErrEmptyTask
	}
	if len(s.CompressedAction) > MaxTaskLength {
		return ErrTaskTooLong
	}
	if !IsValidOutcome(s.Outcome) {
		return ErrInvalidOutcome
	}
	if len(s.QuickNote) > MaxNoteLength {
		return ErrNoteTooLong
	}
	return nil
}

// Draft is the in-progress session the user has not finished yet. All
// fields are optional so that partial updates can be merged.
type Draft struct {
	MentalDump       *string      `json:"mental_dump,omitempty"`
	Blocker          *BlockerKind `json:"blocker,omitempty"`
	TimeBucket       *TimeBudget  `json:"time_bucket,omitempty"`
	CompressedAction *string      `json:"compressed_action,omitempty"`
	FallbackAction   *string      `json:"fallback_action,omitempty"`
}

// Merge overlays the non-nil fields of patch onto d.
func (d Draft) Merge(patch Draft) Draft {
	if patch.MentalDump != nil {
		d.MentalDump = patch.MentalDump
	}
	if patch.Blocker != nil {
		d.Blocker = patch.Blocker
	}
	if patch.TimeBucket != nil {
		d.TimeBucket = patch.TimeBucket
	}
	if patch.CompressedAction != nil {
		d.CompressedAction = patch.CompressedAction
	}
	if patch.FallbackAction != nil {
		d.FallbackAction = patch.FallbackAction
	}
	return d
}

// Reflection is a free-text note, at most one per calendar date.
type Reflection struct {
	Date string `json:"date"` // YYYY-MM-DD
	Text string `json:"text"`
}

// Setting keys persisted in the key-value settings table.
const (
	SettingDailyAnchors  = "daily_anchors"
	SettingSyncEnabled   = "sync_enabled"
	SettingDemoVideoLink = "demo_video_link"
	SettingPitchText     = "pitch_text"
)

// IsKnownSetting reports whether key is a setting the admin surface may edit.
func IsKnownSetting(key string) bool {
	switch key {
	case SettingDailyAnchors, SettingSyncEnabled, SettingDemoVideoLink, SettingPitchText:
		return true
	default:
		return false
	}
}
