// This file implements an SQLite-backed store.

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "embed"

	"github.com/BTreeMap/Onebit/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, ErrEmptyDSN
	}

	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			slog.Error("Failed to create database directory", "error", err, "dir", dir)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		slog.Debug("SQLite database directory verified/created", "dir", dir)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) AddSession(sess models.Session) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.MentalDump, string(sess.Blocker), int(sess.TimeBucket), sess.CompressedAction, sess.FallbackAction,
		string(sess.Outcome), sess.RecoveryMessage, steps, sess.QuickNote, sess.LLMCallCount, sess.Completed, sess.Timestamp)
	if err != nil {
		slog.Error("SQLiteStore AddSession failed", "error", err, "id", sess.ID)
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE seq NOT IN (SELECT seq FROM sessions ORDER BY seq DESC LIMIT ?)`, MaxStoredSessions); err != nil {
		return fmt.Errorf("failed to trim session history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session insert: %w", err)
	}
	slog.Debug("SQLiteStore AddSession succeeded", "id", sess.ID)
	return nil
}

func (s *SQLiteStore) GetSession(id string) (*models.Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *SQLiteStore) ListSessions() ([]models.Session, error) {
	rows, err := s.db.Query(`SELECT ` + sessionColumns + ` FROM sessions ORDER BY seq DESC`)
	if err != nil {
		slog.Error("SQLiteStore ListSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	sessions, err := collectSessions(rows)
	if err != nil {
		return nil, err
	}
	slog.Debug("SQLiteStore ListSessions succeeded", "count", len(sessions))
	return sessions, nil
}

func (s *SQLiteStore) UpdateSessionOutcome(id string, outcome models.Outcome, recovery models.RecoveryResult, note string) error {
	steps, err := encodeSteps(recovery.MicroSteps)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE sessions SET outcome = ?, recovery_message = ?, recovery_micro_steps = ?, quick_note = ?, completed = 1 WHERE id = ?`,
		string(outcome), recovery.Message, steps, note, id)
	if err != nil {
		return fmt.Errorf("failed to update outcome for session %s: %w", id, err)
	}
	return requireOneRow(res, id)
}

func (s *SQLiteStore) UpdateSessionTask(id, action string) error {
	res, err := s.db.Exec(`UPDATE sessions SET compressed_action = ? WHERE id = ?`, action, id)
	if err != nil {
		return fmt.Errorf("failed to update task for session %s: %w", id, err)
	}
	return requireOneRow(res, id)
}

func (s *SQLiteStore) ClearSessions() error {
	if _, err := s.db.Exec(`DELETE FROM sessions`); err != nil {
		return fmt.Errorf("failed to clear sessions: %w", err)
	}
	slog.Info("SQLiteStore ClearSessions succeeded")
	return nil
}

func (s *SQLiteStore) SaveDraft(d models.Draft) error {
	data, err := encodeDraft(d)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO drafts (id, data, updated_at) VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`, data)
	if err != nil {
		return fmt.Errorf("failed to save draft: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDraft() (models.Draft, error) {
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

func (s *SQLiteStore) ClearDraft() error {
	if _, err := s.db.Exec(`DELETE FROM drafts`); err != nil {
		return fmt.Errorf("failed to clear draft: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveCatalog(categories []models.StepCategory) error {
	data, err := encodeCatalog(categories)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO step_catalog (id, data, updated_at) VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`, data)
	if err != nil {
		return fmt.Errorf("failed to save catalog: %w", err)
	}
	slog.Debug("SQLiteStore SaveCatalog succeeded", "categories", len(categories))
	return nil
}

func (s *SQLiteStore) LoadCatalog() ([]models.StepCategory, error) {
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

func (s *SQLiteStore) SaveReflection(r models.Reflection) error {
	_, err := s.db.Exec(`INSERT INTO reflections (date, text, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(date) DO UPDATE SET text = excluded.text, updated_at = excluded.updated_at`, r.Date, r.Text)
	if err != nil {
		return fmt.Errorf("failed to save reflection for %s: %w", r.Date, err)
	}
	return nil
}

func (s *SQLiteStore) ListReflections() ([]models.Reflection, error) {
	rows, err := s.db.Query(`SELECT date, text FROM reflections ORDER BY date DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reflections: %w", err)
	}
	return collectReflections(rows)
}

func (s *SQLiteStore) SetSetting(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) GetSetting(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, true, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

func requireOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}
