// Package whatsapp delivers Onebit nudges through a linked WhatsApp account
// using whatsmeow.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/BTreeMap/Onebit/internal/store"
)

const (
	// DefaultDeviceDSN matches the path cmd/onebit derives from its default
	// state directory.
	DefaultDeviceDSN = "file:/var/lib/onebit/whatsapp.db?_foreign_keys=on"
	// userServer is the JID server for personal accounts.
	userServer = "s.whatsapp.net"

	loginEventCode    = "code"
	loginEventSuccess = "success"
)

var (
	ErrNotInitialized = errors.New("whatsapp client not initialized")
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	ErrEmptyBody      = errors.New("message body cannot be empty")
	// ErrPairingFailed is returned when the login QR flow ends without a
	// successful link.
	ErrPairingFailed = errors.New("whatsapp pairing failed")
)

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string // whatsmeow device store
	QRPath      string // login code destination, stdout when empty
	NumericCode bool
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

func WithDBDSN(dsn string) Option {
	return func(o *Opts) { o.DBDSN = dsn }
}

// WithQRCodeOutput writes the login code to path instead of stdout.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) { o.QRPath = path }
}

// WithNumericCode prints the raw pairing code rather than rendering a QR.
func WithNumericCode() Option {
	return func(o *Opts) { o.NumericCode = true }
}

// Client sends text messages from the linked device.
type Client struct {
	wa *whatsmeow.Client
}

// NewClient opens the device store and connects, pairing first when the
// store holds no linked device yet.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := Opts{DBDSN: DefaultDeviceDSN}
	for _, opt := range opts {
		opt(&cfg)
	}

	device, err := openDevice(ctx, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	wa := whatsmeow.NewClient(device, waLog.Stdout("Client", "INFO", true))

	if wa.Store.ID != nil {
		slog.Debug("whatsapp.NewClient: device already linked")
		if err := wa.Connect(); err != nil {
			return nil, fmt.Errorf("connect to whatsapp: %w", err)
		}
	} else if err := pair(ctx, wa, cfg); err != nil {
		wa.Disconnect()
		return nil, err
	}

	slog.Info("whatsapp.NewClient: connected")
	return &Client{wa: wa}, nil
}

func openDevice(ctx context.Context, dsn string) (*wastore.Device, error) {
	if needsForeignKeyWarning(dsn) {
		slog.Warn("whatsapp.openDevice: SQLite DSN without foreign keys; add ?_foreign_keys=on", "dsn", dsn)
	}
	container, err := sqlstore.New(ctx, store.DetectDSNType(dsn), dsn, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		return nil, fmt.Errorf("open whatsapp device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load whatsapp device: %w", err)
	}
	return device, nil
}

// pair runs the QR login flow and blocks until it finishes.
func pair(ctx context.Context, wa *whatsmeow.Client, cfg Opts) error {
	slog.Info("whatsapp.pair: device not linked, starting login")
	events, err := wa.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("start whatsapp login: %w", err)
	}
	if err := wa.Connect(); err != nil {
		return fmt.Errorf("connect to whatsapp for login: %w", err)
	}

	out := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			return fmt.Errorf("create login code file: %w", err)
		}
		defer f.Close()
		out = f
	}
	return awaitPairing(events, out, cfg.NumericCode)
}

// awaitPairing writes each login code to out and reports how the flow ended.
func awaitPairing(events <-chan whatsmeow.QRChannelItem, out io.Writer, numeric bool) error {
	last := ""
	for evt := range events {
		last = evt.Event
		switch evt.Event {
		case loginEventCode:
			writeLoginCode(out, evt.Code, numeric)
		case loginEventSuccess:
			return nil
		default:
			slog.Warn("whatsapp.awaitPairing: login event", "event", evt.Event, "error", evt.Error)
		}
	}
	return fmt.Errorf("%w: last event %q", ErrPairingFailed, last)
}

// SendMessage sends body to a phone number in international format.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.wa == nil || c.wa.Store == nil {
		return ErrNotInitialized
	}
	user, err := validateMessage(to, body)
	if err != nil {
		return err
	}
	if _, err := c.wa.SendMessage(ctx, types.NewJID(user, userServer), &waE2E.Message{Conversation: &body}); err != nil {
		return fmt.Errorf("send whatsapp message to %s: %w", user, err)
	}
	slog.Debug("Client.SendMessage: sent", "to", user, "length", len(body))
	return nil
}

// Disconnect closes the websocket connection.
func (c *Client) Disconnect() {
	if c.wa != nil {
		c.wa.Disconnect()
	}
}

// validateMessage checks inputs and returns the JID user part of to.
func validateMessage(to, body string) (string, error) {
	user := strings.TrimPrefix(strings.TrimSpace(to), "+")
	if user == "" {
		return "", ErrEmptyRecipient
	}
	if strings.TrimSpace(body) == "" {
		return "", ErrEmptyBody
	}
	return user, nil
}

func needsForeignKeyWarning(dsn string) bool {
	return store.DetectDSNType(dsn) == "sqlite3" && !strings.Contains(dsn, "foreign_keys")
}

func writeLoginCode(w io.Writer, code string, numeric bool) {
	if numeric {
		fmt.Fprintln(w, code)
		return
	}
	qrterminal.GenerateHalfBlock(code, qrterminal.L, w)
}

// MockClient records messages instead of sending them.
type MockClient struct {
	Sent []SentMessage
	Err  error
}

// SentMessage is one message captured by MockClient.
type SentMessage struct {
	To   string
	Body string
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	if m.Err != nil {
		return m.Err
	}
	if _, err := validateMessage(to, body); err != nil {
		return err
	}
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	return nil
}
