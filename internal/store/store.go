// Package store provides storage backends for Onebit.
//
// It includes an in-memory store used by tests and ephemeral runs, plus
// SQLite and PostgreSQL stores that keep session history, the current draft,
// the step catalog, reflections and settings across restarts.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/BTreeMap/Onebit/internal/models"
)

// MaxStoredSessions is the number of most recent sessions kept in history.
const MaxStoredSessions = 50

// Error variables for store lookups.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyDSN        = errors.New("database DSN not set")
)

// Store is the persistence contract shared by all backends.
type Store interface {
	// AddSession prepends a session to history and trims history to MaxStoredSessions.
	AddSession(s models.Session) error
	GetSession(id string) (*models.Session, error)
	// ListSessions returns history newest first.
	ListSessions() ([]models.Session, error)
	UpdateSessionOutcome(id string, outcome models.Outcome, recovery models.RecoveryResult, note string) error
	UpdateSessionTask(id, action string) error
	ClearSessions() error

	SaveDraft(d models.Draft) error
	// GetDraft returns the zero Draft when none is saved.
	GetDraft() (models.Draft, error)
	ClearDraft() error

	SaveCatalog(categories []models.StepCategory) error
	// LoadCatalog returns nil when no catalog was ever saved.
	LoadCatalog() ([]models.StepCategory, error)

	// SaveReflection inserts or replaces the reflection for r.Date.
	SaveReflection(r models.Reflection) error
	// ListReflections returns reflections newest date first.
	ListReflections() ([]models.Reflection, error)

	SetSetting(key, value string) error
	GetSetting(key string) (string, bool, error)

	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithPostgresDSN sets the DSN for the PostgreSQL store.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the file path (or file: URI) for the SQLite store.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns the database/sql driver name for dsn:
// "postgres" for URLs and key=value connection strings, "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(d, "host=") || strings.Contains(d, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// New opens the backend matching the DSN type.
func New(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, ErrEmptyDSN
	}
	if DetectDSNType(dsn) == "postgres" {
		slog.Debug("store.New: detected PostgreSQL DSN")
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	slog.Debug("store.New: detected SQLite DSN", "path", dsn)
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}

// InMemoryStore keeps everything in process memory.
type InMemoryStore struct {
	mu          sync.RWMutex
	sessions    []models.Session // newest first
	draft       models.Draft
	catalog     []models.StepCategory
	reflections map[string]string
	settings    map[string]string
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		reflections: make(map[string]string),
		settings:    make(map[string]string),
	}
}

func (s *InMemoryStore) AddSession(sess models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.RecoveryMicroSteps = cloneSteps(sess.RecoveryMicroSteps)
	s.sessions = append([]models.Session{sess}, s.sessions...)
	if len(s.sessions) > MaxStoredSessions {
		s.sessions = s.sessions[:MaxStoredSessions]
	}
	return nil
}

func (s *InMemoryStore) GetSession(id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess := s.sessions[i]
	sess.RecoveryMicroSteps = cloneSteps(sess.RecoveryMicroSteps)
	return &sess, nil
}

func (s *InMemoryStore) ListSessions() ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Session, len(s.sessions))
	for i, sess := range s.sessions {
		sess.RecoveryMicroSteps = cloneSteps(sess.RecoveryMicroSteps)
		out[i] = sess
	}
	return out, nil
}

func (s *InMemoryStore) UpdateSessionOutcome(id string, outcome models.Outcome, recovery models.RecoveryResult, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.sessions[i].Outcome = outcome
	s.sessions[i].RecoveryMessage = recovery.Message
	s.sessions[i].RecoveryMicroSteps = cloneSteps(recovery.MicroSteps)
	s.sessions[i].QuickNote = note
	s.sessions[i].Completed = true
	return nil
}

func (s *InMemoryStore) UpdateSessionTask(id, action string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.sessions[i].CompressedAction = action
	return nil
}

func (s *InMemoryStore) ClearSessions() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = nil
	return nil
}

func (s *InMemoryStore) SaveDraft(d models.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = d
	return nil
}

func (s *InMemoryStore) GetDraft() (models.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.draft, nil
}

func (s *InMemoryStore) ClearDraft() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = models.Draft{}
	return nil
}

func (s *InMemoryStore) SaveCatalog(categories []models.StepCategory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = cloneCatalog(categories)
	return nil
}

func (s *InMemoryStore) LoadCatalog() ([]models.StepCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.catalog == nil {
		return nil, nil
	}
	return cloneCatalog(s.catalog), nil
}

func (s *InMemoryStore) SaveReflection(r models.Reflection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reflections[r.Date] = r.Text
	return nil
}

func (s *InMemoryStore) ListReflections() ([]models.Reflection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Reflection, 0, len(s.reflections))
	for date, text := range s.reflections {
		out = append(out, models.Reflection{Date: date, Text: text})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out, nil
}

func (s *InMemoryStore) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

func (s *InMemoryStore) GetSetting(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

func (s *InMemoryStore) indexOf(id string) int {
	return slices.IndexFunc(s.sessions, func(sess models.Session) bool { return sess.ID == id })
}

func cloneSteps(steps []string) []string {
	if steps == nil {
		return []string{}
	}
	return append([]string{}, steps...)
}

func cloneCatalog(in []models.StepCategory) []models.StepCategory {
	out := make([]models.StepCategory, len(in))
	for i, c := range in {
		out[i] = models.StepCategory{Name: c.Name, Steps: cloneSteps(c.Steps)}
	}
	return out
}
