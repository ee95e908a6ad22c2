// Package api provides the HTTP server and handlers for Onebit.
//
// It exposes the focus engine (compression, recovery, habit, anchor), the
// session history, the draft, reflections and the admin-managed step catalog
// and settings. Engine calls are pure; the server owns persistence, optional
// suggestion augmentation and nudge delivery.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/Onebit/internal/catalog"
	"github.com/BTreeMap/Onebit/internal/models"
	"github.com/BTreeMap/Onebit/internal/notify"
	"github.com/BTreeMap/Onebit/internal/scheduler"
	"github.com/BTreeMap/Onebit/internal/store"
	"golang.org/x/sync/errgroup"
)

// Default configuration constants
const (
	// DefaultServerAddr is the default HTTP listen address
	DefaultServerAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultReadHeaderTimeout bounds reading request headers
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultSuggestTimeout bounds one suggestion request to the model
	DefaultSuggestTimeout = 25 * time.Second
	// DefaultOutboxPollInterval is how often queued nudges are retried
	DefaultOutboxPollInterval = store.DefaultOutboxPollInterval
	// MaxRequestBodyBytes caps JSON request bodies
	MaxRequestBodyBytes = 1 << 20
)

// Suggester produces a model-written next action for a mental dump.
type Suggester interface {
	SuggestTask(ctx context.Context, dump string, blocker models.BlockerKind, budget models.TimeBudget) (string, error)
}

// Notifier sends session nudges and anchor reminders and delivers queued ones.
type Notifier interface {
	SendSessionNudge(ctx context.Context, s models.Session) (notify.Delivery, error)
	SendAnchor(ctx context.Context, day, phrase string) (notify.Delivery, error)
	Deliver(ctx context.Context, msg store.OutboxMessage) error
}

// Opts holds configuration for the API server.
type Opts struct {
	Addr               string
	AdminToken         string
	Suggester          Suggester
	SuggestEnabled     bool
	Notifier           Notifier
	Outbox             store.OutboxRepo
	OutboxPollInterval time.Duration
	AnchorSchedule     string
	Location           *time.Location
	Clock              func() time.Time
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithAdminToken enables the admin endpoints behind a bearer token.
func WithAdminToken(token string) Option {
	return func(o *Opts) { o.AdminToken = token }
}

// WithSuggester configures suggestion augmentation. It is used only when
// enabled is true.
func WithSuggester(s Suggester, enabled bool) Option {
	return func(o *Opts) {
		o.Suggester = s
		o.SuggestEnabled = enabled
	}
}

// WithNotifier enables session nudges.
func WithNotifier(n Notifier) Option {
	return func(o *Opts) { o.Notifier = n }
}

// WithOutbox runs a background sender for queued nudges.
func WithOutbox(repo store.OutboxRepo, pollInterval time.Duration) Option {
	return func(o *Opts) {
		o.Outbox = repo
		o.OutboxPollInterval = pollInterval
	}
}

// WithAnchorSchedule sends today's anchor phrase to the notifier on a cron
// schedule, e.g. "0 8 * * *".
func WithAnchorSchedule(expr string) Option {
	return func(o *Opts) { o.AnchorSchedule = expr }
}

// WithLocation sets the time zone used for calendar days.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// Server serves the Onebit HTTP API.
type Server struct {
	st             store.Store
	catalog        *catalog.Provider
	addr           string
	adminToken     string
	suggester      Suggester
	suggestEnabled bool
	notifier       Notifier
	outbox         store.OutboxRepo
	outboxPoll     time.Duration
	anchorSpec     string
	loc            *time.Location
	clock          func() time.Time
}

// NewServer creates a Server over st and the catalog provider.
func NewServer(st store.Store, provider *catalog.Provider, opts ...Option) (*Server, error) {
	if st == nil {
		return nil, errors.New("store cannot be nil")
	}
	if provider == nil {
		return nil, errors.New("catalog provider cannot be nil")
	}
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultServerAddr
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.OutboxPollInterval <= 0 {
		cfg.OutboxPollInterval = DefaultOutboxPollInterval
	}
	if cfg.AnchorSchedule != "" {
		if cfg.Notifier == nil {
			return nil, errors.New("anchor schedule requires a notifier")
		}
		if err := scheduler.Validate(cfg.AnchorSchedule); err != nil {
			return nil, err
		}
	}
	slog.Debug("api.NewServer: configured",
		"addr", cfg.Addr,
		"admin_enabled", cfg.AdminToken != "",
		"suggester_set", cfg.Suggester != nil,
		"suggest_enabled", cfg.SuggestEnabled,
		"notifier_set", cfg.Notifier != nil,
		"outbox_set", cfg.Outbox != nil,
		"anchor_schedule", cfg.AnchorSchedule)

	return &Server{
		st:             st,
		catalog:        provider,
		addr:           cfg.Addr,
		adminToken:     cfg.AdminToken,
		suggester:      cfg.Suggester,
		suggestEnabled: cfg.SuggestEnabled,
		notifier:       cfg.Notifier,
		outbox:         cfg.Outbox,
		outboxPoll:     cfg.OutboxPollInterval,
		anchorSpec:     cfg.AnchorSchedule,
		loc:            cfg.Location,
		clock:          cfg.Clock,
	}, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)

	mux.HandleFunc("/compress", s.compressHandler)
	mux.HandleFunc("/suggest", s.suggestHandler)
	mux.HandleFunc("/suggest/status", s.suggestStatusHandler)
	mux.HandleFunc("/recovery", s.recoveryHandler)
	mux.HandleFunc("/habit", s.habitHandler)
	mux.HandleFunc("/anchor", s.anchorHandler)

	mux.HandleFunc("/sessions", s.sessionsHandler)
	mux.HandleFunc("/sessions/", s.sessionRoutesHandler)

	mux.HandleFunc("/draft", s.draftHandler)
	mux.HandleFunc("/draft/append", s.draftAppendHandler)
	mux.HandleFunc("/reflections", s.reflectionsHandler)

	mux.HandleFunc("/catalog", s.catalogHandler)
	mux.HandleFunc("/catalog/", s.requireAdmin(s.catalogRoutesHandler))
	mux.HandleFunc("/admin/settings", s.requireAdmin(s.settingsHandler))
	return mux
}

// Run serves HTTP and, when configured, drains the nudge outbox and runs the
// anchor reminder schedule until ctx is cancelled, then shuts the server
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	if s.outbox != nil && s.notifier != nil {
		sender := store.NewOutboxSender(s.outbox, s.notifier.Deliver, store.WithPollInterval(s.outboxPoll))
		g.Go(func() error {
			sender.Run(gctx)
			return nil
		})
	}

	if s.anchorSpec != "" {
		sched := scheduler.New(s.loc)
		if err := sched.AddJob(s.anchorSpec, "daily_anchor", s.sendDailyAnchor); err != nil {
			return err
		}
		g.Go(func() error {
			sched.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		slog.Info("Server.Run: Onebit API listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Server.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown failed: %w", err)
		}
		return nil
	})

	err := g.Wait()
	slog.Info("Server.Run: stopped", "error", err)
	return err
}

func (s *Server) now() time.Time {
	return s.clock().In(s.loc)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}
