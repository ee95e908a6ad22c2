package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/Onebit/internal/api"
	"github.com/BTreeMap/Onebit/internal/catalog"
	"github.com/BTreeMap/Onebit/internal/genai"
	"github.com/BTreeMap/Onebit/internal/lockfile"
	"github.com/BTreeMap/Onebit/internal/notify"
	"github.com/BTreeMap/Onebit/internal/store"
	"github.com/BTreeMap/Onebit/internal/twiliowhatsapp"
	"github.com/BTreeMap/Onebit/internal/util"
	"github.com/BTreeMap/Onebit/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Onebit state data
	DefaultStateDir = "/var/lib/onebit"
	// DefaultAppDBFileName is the default SQLite database for sessions, drafts and the catalog
	DefaultAppDBFileName = "onebit.db"
	// DefaultWhatsAppDBFileName is the default SQLite database for the whatsmeow device store
	DefaultWhatsAppDBFileName = "whatsapp.db"
)

// Notification backends selectable with ONEBIT_NOTIFY_BACKEND.
const (
	NotifyBackendNone     = "none"
	NotifyBackendWhatsApp = "whatsapp"
	NotifyBackendTwilio   = "twilio"
)

func main() {
	config := loadEnvironmentConfig()
	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Invalid command line", "error", err)
		os.Exit(2)
	}
	initializeLogger(*flags.debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags); err != nil {
		slog.Error("Onebit failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Onebit exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	ApplicationDBDSN string
	WhatsAppDBDSN    string
	APIAddr          string
	AdminToken       string
	OpenAIKey        string
	OpenAIModel      string
	SuggestEnabled   bool
	CatalogFile      string
	Timezone         string
	NotifyBackend    string
	NudgeRecipient   string
	AnchorSchedule   string
	TwilioSID        string
	TwilioToken      string
	TwilioFrom       string
	Debug            bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir       *string
	dbDSN          *string
	waDSN          *string
	apiAddr        *string
	adminToken     *string
	openaiKey      *string
	openaiModel    *string
	suggestEnabled *bool
	catalogFile    *string
	timezone       *string
	notifyBackend  *string
	recipient      *string
	anchorSpec     *string
	twilioSID      *string
	twilioToken    *string
	twilioFrom     *string
	qrOutput       *string
	numeric        *bool
	debug          *bool
}

// initializeLogger sets up structured logging on stdout.
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		StateDir:         util.EnvOr("ONEBIT_STATE_DIR", DefaultStateDir),
		ApplicationDBDSN: os.Getenv("DATABASE_URL"),
		WhatsAppDBDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		APIAddr:          os.Getenv("API_ADDR"),
		AdminToken:       os.Getenv("ONEBIT_ADMIN_TOKEN"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      os.Getenv("OPENAI_MODEL"),
		SuggestEnabled:   util.ParseBoolEnv("ONEBIT_SUGGEST_ENABLED", true),
		CatalogFile:      os.Getenv("ONEBIT_CATALOG_FILE"),
		Timezone:         os.Getenv("ONEBIT_TIMEZONE"),
		NotifyBackend:    strings.ToLower(util.EnvOr("ONEBIT_NOTIFY_BACKEND", NotifyBackendNone)),
		NudgeRecipient:   os.Getenv("ONEBIT_NUDGE_RECIPIENT"),
		AnchorSchedule:   os.Getenv("ONEBIT_ANCHOR_SCHEDULE"),
		TwilioSID:        os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM"),
		Debug:            util.ParseBoolEnv("ONEBIT_DEBUG", false),
	}

	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = defaultWhatsAppDSN(config.StateDir)
	}

	slog.Debug("environment variables loaded",
		"ONEBIT_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", os.Getenv("DATABASE_URL") != "",
		"API_ADDR", config.APIAddr,
		"ONEBIT_ADMIN_TOKEN_SET", config.AdminToken != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"ONEBIT_NOTIFY_BACKEND", config.NotifyBackend)

	return config
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// parseCommandLineFlags parses args into fs with environment defaults.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{
		stateDir:       fs.String("state-dir", config.StateDir, "state directory for Onebit data (overrides $ONEBIT_STATE_DIR)"),
		dbDSN:          fs.String("db-dsn", config.ApplicationDBDSN, "application database DSN, SQLite path or PostgreSQL URL (overrides $DATABASE_URL)"),
		waDSN:          fs.String("whatsapp-db-dsn", config.WhatsAppDBDSN, "whatsmeow device database DSN (overrides $WHATSAPP_DB_DSN)"),
		apiAddr:        fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		adminToken:     fs.String("admin-token", config.AdminToken, "bearer token for the admin API (overrides $ONEBIT_ADMIN_TOKEN)"),
		openaiKey:      fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:    fs.String("openai-model", config.OpenAIModel, "OpenAI chat model (overrides $OPENAI_MODEL)"),
		suggestEnabled: fs.Bool("suggest", config.SuggestEnabled, "enable model-backed task suggestions (overrides $ONEBIT_SUGGEST_ENABLED)"),
		catalogFile:    fs.String("catalog-file", config.CatalogFile, "YAML step library to seed the catalog (overrides $ONEBIT_CATALOG_FILE)"),
		timezone:       fs.String("timezone", config.Timezone, "IANA time zone for calendar days (overrides $ONEBIT_TIMEZONE)"),
		notifyBackend:  fs.String("notify", config.NotifyBackend, "nudge backend: none, whatsapp or twilio (overrides $ONEBIT_NOTIFY_BACKEND)"),
		recipient:      fs.String("nudge-recipient", config.NudgeRecipient, "phone number receiving session nudges (overrides $ONEBIT_NUDGE_RECIPIENT)"),
		anchorSpec:     fs.String("anchor-schedule", config.AnchorSchedule, "cron schedule for the daily anchor reminder, e.g. \"0 8 * * *\" (overrides $ONEBIT_ANCHOR_SCHEDULE)"),
		twilioSID:      fs.String("twilio-account-sid", config.TwilioSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioToken:    fs.String("twilio-auth-token", config.TwilioToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFrom:     fs.String("twilio-from", config.TwilioFrom, "Twilio sender, e.g. whatsapp:+15550001111 (overrides $TWILIO_FROM)"),
		qrOutput:       fs.String("qr-output", "", "path to write the WhatsApp login QR code"),
		numeric:        fs.Bool("numeric-code", false, "print the raw WhatsApp pairing code instead of a QR code"),
		debug:          fs.Bool("debug", config.Debug, "enable debug logging and model call dumps (overrides $ONEBIT_DEBUG)"),
	}
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	// Database paths follow a state directory given on the command line
	// unless they were set explicitly.
	if *flags.stateDir != config.StateDir {
		if *flags.dbDSN == filepath.Join(config.StateDir, DefaultAppDBFileName) {
			*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultAppDBFileName)
		}
		if *flags.waDSN == defaultWhatsAppDSN(config.StateDir) {
			*flags.waDSN = defaultWhatsAppDSN(*flags.stateDir)
		}
	}

	switch *flags.notifyBackend {
	case NotifyBackendNone, NotifyBackendWhatsApp, NotifyBackendTwilio:
	default:
		return Flags{}, fmt.Errorf("unknown notify backend %q", *flags.notifyBackend)
	}
	return flags, nil
}

// ensureDirectoriesExist creates the parent directory of a file-based database.
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return nil
	}
	dir := filepath.Dir(strings.TrimPrefix(*flags.dbDSN, "file:"))
	slog.Debug("Creating directory for file-based database", "dir", dir)
	return os.MkdirAll(dir, 0o755)
}

// run wires every module and serves until ctx is cancelled.
func run(ctx context.Context, flags Flags) error {
	lock, err := lockfile.Acquire(*flags.stateDir, *flags.apiAddr)
	if err != nil {
		return err
	}
	defer lock.Release()

	if err := ensureDirectoriesExist(flags); err != nil {
		return fmt.Errorf("failed to create state directories: %w", err)
	}

	st, err := store.New(*flags.dbDSN)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	provider, err := buildCatalogProvider(flags, st)
	if err != nil {
		return err
	}

	apiOpts, err := buildAPIOptions(flags)
	if err != nil {
		return err
	}
	if client := buildGenAIClient(flags); client != nil {
		apiOpts = append(apiOpts, api.WithSuggester(client, *flags.suggestEnabled))
	}

	sender, closeSender, err := buildNotifySender(ctx, flags)
	if err != nil {
		return err
	}
	defer closeSender()
	if sender != nil {
		svc, err := buildNotifyService(sender, flags, st)
		if err != nil {
			return err
		}
		apiOpts = append(apiOpts, api.WithNotifier(svc))
		if repo, ok := st.(store.OutboxRepo); ok {
			apiOpts = append(apiOpts, api.WithOutbox(repo, api.DefaultOutboxPollInterval))
		}
		if *flags.anchorSpec != "" {
			apiOpts = append(apiOpts, api.WithAnchorSchedule(*flags.anchorSpec))
		}
	} else if *flags.anchorSpec != "" {
		slog.Warn("Anchor schedule ignored without a notification backend", "schedule", *flags.anchorSpec)
	}

	srv, err := api.NewServer(st, provider, apiOpts...)
	if err != nil {
		return err
	}
	slog.Info("Bootstrapping Onebit", "state_dir", *flags.stateDir, "api_addr", *flags.apiAddr, "notify", *flags.notifyBackend)
	return srv.Run(ctx)
}

// buildCatalogProvider seeds the catalog from the store, falling back to the
// YAML file and then the built-in library. Edits are saved back to the store.
func buildCatalogProvider(flags Flags, st store.Store) (*catalog.Provider, error) {
	initial, err := st.LoadCatalog()
	if err != nil {
		return nil, fmt.Errorf("failed to load saved catalog: %w", err)
	}
	if len(initial) == 0 && *flags.catalogFile != "" {
		initial, err = catalog.LoadFile(*flags.catalogFile)
		if err != nil {
			return nil, err
		}
		slog.Info("Catalog seeded from file", "path", *flags.catalogFile, "categories", len(initial))
	}
	return catalog.NewProvider(catalog.WithInitial(initial), catalog.WithSaver(st)), nil
}

// buildGenAIClient returns nil when no API key is configured.
func buildGenAIClient(flags Flags) *genai.Client {
	if *flags.openaiKey == "" {
		slog.Info("No OpenAI API key configured; suggestions use local heuristics only")
		return nil
	}
	client, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		slog.Warn("GenAI client unavailable; suggestions use local heuristics only", "error", err)
		return nil
	}
	return client
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	opts := []genai.Option{genai.WithAPIKey(*flags.openaiKey)}
	if *flags.openaiModel != "" {
		opts = append(opts, genai.WithModel(*flags.openaiModel))
	}
	if *flags.debug {
		opts = append(opts, genai.WithDebugMode(true), genai.WithStateDir(*flags.stateDir))
	}
	return opts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) ([]api.Option, error) {
	var opts []api.Option
	if *flags.apiAddr != "" {
		opts = append(opts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.adminToken != "" {
		opts = append(opts, api.WithAdminToken(*flags.adminToken))
	} else {
		slog.Warn("No admin token configured; admin API disabled")
	}
	if *flags.timezone != "" {
		loc, err := time.LoadLocation(*flags.timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", *flags.timezone, err)
		}
		opts = append(opts, api.WithLocation(loc))
	}
	return opts, nil
}

// buildNotifySender connects the configured nudge backend. The returned
// cleanup is always safe to call.
func buildNotifySender(ctx context.Context, flags Flags) (notify.Sender, func(), error) {
	noop := func() {}
	switch *flags.notifyBackend {
	case NotifyBackendWhatsApp:
		opts := []whatsapp.Option{whatsapp.WithDBDSN(*flags.waDSN)}
		if *flags.qrOutput != "" {
			opts = append(opts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			opts = append(opts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(ctx, opts...)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to start WhatsApp client: %w", err)
		}
		return client, client.Disconnect, nil
	case NotifyBackendTwilio:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(*flags.twilioSID),
			twiliowhatsapp.WithAuthToken(*flags.twilioToken),
			twiliowhatsapp.WithFrom(*flags.twilioFrom),
		)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to configure Twilio client: %w", err)
		}
		return client, noop, nil
	default:
		slog.Info("No notification backend configured; nudges disabled")
		return nil, noop, nil
	}
}

// buildNotifyService wraps sender with the nudge recipient, queueing through
// the store's outbox when it has one.
func buildNotifyService(sender notify.Sender, flags Flags, st store.Store) (*notify.Service, error) {
	if *flags.recipient == "" {
		return nil, errors.New("a nudge recipient is required when a notification backend is configured")
	}
	opts := []notify.Option{notify.WithRecipient(*flags.recipient)}
	if repo, ok := st.(store.OutboxRepo); ok {
		opts = append(opts, notify.WithOutbox(repo))
	}
	return notify.NewService(sender, opts...)
}
