// This file implements a PostgreSQL-backed store.

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/Onebit/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, ErrEmptyDSN
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres ping successful")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) AddSession(sess models.Session) error {
	steps, err := encodeSteps(sess.RecoveryMicroSteps)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin session insert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO sessions (id, mental_dump, blocker, time_bucket, compressed_action, fallback_action, outcome,
		recovery_message, recovery_micro_steps, quick_note, llm_call_count, completed, created_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sess.ID, sess.MentalDump, string(sess.Blocker), int(sess.TimeBucket), sess.CompressedAction, sess.FallbackAction,
		string(sess.Outcome), sess.RecoveryMessage, steps, sess.QuickNote, sess.LLMCallCount, sess.Completed, sess.Timestamp)
	if err != nil {
		slog.Error("PostgresStore AddSession failed", "error", err, "id", sess.ID)
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE seq NOT IN (SELECT seq FROM sessions ORDER BY seq DESC LIMIT $1)`, MaxStoredSessions); err != nil {
		return fmt.Errorf("failed to trim session history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session insert: %w", err)
	}
	slog.Debug("PostgresStore AddSession succeeded", "id", sess.ID)
	return nil
}

func (s *PostgresStore) GetSession(id string) (*models.Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *PostgresStore) ListSessions() ([]models.Session, error) {
	rows, err := s.db.Query(`SELECT ` + sessionColumns + ` FROM sessions ORDER BY seq DESC`)
	if err != nil {
		slog.Error("PostgresStore ListSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	sessions, err := collectSessions(rows)
	if err != nil {
		return nil, err
	}
	slog.Debug("PostgresStore ListSessions succeeded", "count", len(sessions))
	return sessions, nil
}

func (s *PostgresStore) UpdateSessionOutcome(id string, outcome models.Outcome, recovery models.RecoveryResult, note string) error {
	steps, err := encodeSteps(recovery.MicroSteps)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE sessions SET outcome = $1, recovery_message = $2, recovery_micro_steps = $3, quick_note = $4, completed = TRUE WHERE id = $5`,
		string(outcome), recovery.Message, steps, note, id)
	if err != nil {
		return fmt.Errorf("failed to update outcome for session %s: %w", id, err)
	}
	return requireOneRow(res, id)
}

func (s *PostgresStore) UpdateSessionTask(id, action string) error {
	res, err := s.db.Exec(`UPDATE sessions SET compressed_action = $1 WHERE id = $2`, action, id)
	if err != nil {
		return fmt.Errorf("failed to update task for session %s: %w", id, err)
	}
	return requireOneRow(res, id)
}

func (s *PostgresStore) ClearSessions() error {
	if _, err := s.db.Exec(`DELETE FROM sessions`); err != nil {
		return fmt.Errorf("failed to clear sessions: %w", err)
	}
	slog.Info("PostgresStore ClearSessions succeeded")
	return nil
}

func (s *PostgresStore) SaveDraft(d models.Draft) error {
	data, err := encodeDraft(d)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO drafts (id, data, updated_at) VALUES (1, $1, NOW())
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`, data)
	if err != nil {
		return fmt.Errorf("failed to save draft: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDraft() (models.Draft, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM drafts WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Draft{}, nil
	}
	if err != nil {
		return models.Draft{}, fmt.Errorf("failed to get draft: %w", err)
	}
	return decodeDraft(data)
}

func (s *PostgresStore) ClearDraft() error {
	if _, err := s.db.Exec(`DELETE FROM drafts`); err != nil {
		return fmt.Errorf("failed to clear draft: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveCatalog(categories []models.StepCategory) error {
	data, err := encodeCatalog(categories)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO step_catalog (id, data, updated_at) VALUES (1, $1, NOW())
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`, data)
	if err != nil {
		return fmt.Errorf("failed to save catalog: %w", err)
	}
	slog.Debug("PostgresStore SaveCatalog succeeded", "categories", len(categories))
	return nil
}

func (s *PostgresStore) LoadCatalog() ([]models.StepCategory, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM step_catalog WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return decodeCatalog(data)
}

func (s *PostgresStore) SaveReflection(r models.Reflection) error {
	_, err := s.db.Exec(`INSERT INTO reflections (date, text, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT(date) DO UPDATE SET text = excluded.text, updated_at = excluded.updated_at`, r.Date, r.Text)
	if err != nil {
		return fmt.Errorf("failed to save reflection for %s: %w", r.Date, err)
	}
	return nil
}

func (s *PostgresStore) ListReflections() ([]models.Reflection, error) {
	rows, err := s.db.Query(`SELECT date, text FROM reflections ORDER BY date DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reflections: %w", err)
	}
	return collectReflections(rows)
}

func (s *PostgresStore) SetSetting(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) GetSetting(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, true, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
