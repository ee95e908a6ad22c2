package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/Onebit/internal/models"
)

// sessionColumns is the column list read by scanSession, in scan order.
const sessionColumns = `id, mental_dump, blocker, time_bucket, compressed_action, fallback_action, outcome,
	recovery_message, recovery_micro_steps, quick_note, llm_call_count, completed, created_ms`

// outboxColumns is the column list read by scanOutboxMessage, in scan order.
const outboxColumns = `id, recipient, kind, payload_json, status, attempts, next_attempt_at, dedupe_key,
	locked_at, last_error, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func encodeSteps(steps []string) (string, error) {
	if steps == nil {
		steps = []string{}
	}
	b, err := json.Marshal(steps)
	if err != nil {
		return "", fmt.Errorf("failed to encode micro-steps: %w", err)
	}
	return string(b), nil
}

func decodeSteps(raw string) ([]string, error) {
	steps := []string{}
	if raw == "" {
		return steps, nil
	}
	if err := json.Unmarshal([]byte(raw), &steps); err != nil {
		return nil, fmt.Errorf("failed to decode micro-steps: %w", err)
	}
	return steps, nil
}

// scanSession scans a Session from a row selected with sessionColumns.
func scanSession(row rowScanner) (models.Session, error) {
	var s models.Session
	var blocker, outcome, steps string
	var bucket int
	err := row.Scan(
		&s.ID, &s.MentalDump, &blocker, &bucket, &s.CompressedAction, &s.FallbackAction, &outcome,
		&s.RecoveryMessage, &steps, &s.QuickNote, &s.LLMCallCount, &s.Completed, &s.Timestamp,
	)
	if err != nil {
		return s, err
	}
	s.Blocker = models.BlockerKind(blocker)
	s.TimeBucket = models.TimeBudget(bucket)
	s.Outcome = models.Outcome(outcome)
	if s.RecoveryMicroSteps, err = decodeSteps(steps); err != nil {
		return s, err
	}
	return s, nil
}

// collectSessions drains rows into a slice, closing rows.
func collectSessions(rows *sql.Rows) ([]models.Session, error) {
	defer rows.Close()
	sessions := []models.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	return sessions, nil
}

// collectReflections drains rows of (date, text) into a slice, closing rows.
func collectReflections(rows *sql.Rows) ([]models.Reflection, error) {
	defer rows.Close()
	out := []models.Reflection{}
	for rows.Next() {
		var r models.Reflection
		if err := rows.Scan(&r.Date, &r.Text); err != nil {
			return nil, fmt.Errorf("failed to scan reflection row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reflection rows: %w", err)
	}
	return out, nil
}

func encodeDraft(d models.Draft) (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to encode draft: %w", err)
	}
	return string(b), nil
}

func decodeDraft(raw string) (models.Draft, error) {
	var d models.Draft
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return d, fmt.Errorf("failed to decode draft: %w", err)
	}
	return d, nil
}

func encodeCatalog(categories []models.StepCategory) (string, error) {
	b, err := json.Marshal(cloneCatalog(categories))
	if err != nil {
		return "", fmt.Errorf("failed to encode catalog: %w", err)
	}
	return string(b), nil
}

func decodeCatalog(raw string) ([]models.StepCategory, error) {
	var cats []models.StepCategory
	if err := json.Unmarshal([]byte(raw), &cats); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return cats, nil
}

// scanOutboxMessage scans an OutboxMessage from a row selected with outboxColumns.
func scanOutboxMessage(row rowScanner) (OutboxMessage, error) {
	var m OutboxMessage
	var payloadJSON, dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := row.Scan(
		&m.ID, &m.Recipient, &m.Kind, &payloadJSON, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan outbox message failed: %w", err)
	}
	m.PayloadJSON = payloadJSON.String
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}

func collectOutboxMessages(rows *sql.Rows) ([]OutboxMessage, error) {
	defer rows.Close()
	var msgs []OutboxMessage
	for rows.Next() {
		m, err := scanOutboxMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox iteration failed: %w", err)
	}
	return msgs, nil
}
