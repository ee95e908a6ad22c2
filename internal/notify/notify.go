// Package notify delivers session nudges (a short message carrying the
// session's one action and any recovery steps) and the daily anchor reminder.
//
// A Service either sends immediately through its Sender or, when an outbox is
// configured, enqueues the message so a store.OutboxSender delivers it with
// retries across restarts.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/BTreeMap/Onebit/internal/models"
	"github.com/BTreeMap/Onebit/internal/store"
)

// Outbox message kinds.
const (
	KindSessionNudge = "session_nudge"
	KindDailyAnchor  = "daily_anchor"
)

// Error variables for nudge delivery.
var (
	ErrNoRecipient      = errors.New("no nudge recipient configured")
	ErrInvalidRecipient = errors.New("recipient must be a phone number in international format")
	ErrUnknownKind      = errors.New("unknown outbox message kind")
)

var phonePattern = regexp.MustCompile(`^\+?[1-9]\d{6,14}$`)

// Sender delivers a text message to a recipient.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration for the notification service.
type Opts struct {
	Recipient string
	Outbox    store.OutboxRepo
}

// Option defines a configuration option for the notification service.
type Option func(*Opts)

// WithRecipient sets the phone number nudges are sent to.
func WithRecipient(recipient string) Option {
	return func(o *Opts) { o.Recipient = recipient }
}

// WithOutbox queues nudges durably instead of sending inline.
func WithOutbox(repo store.OutboxRepo) Option {
	return func(o *Opts) { o.Outbox = repo }
}

// Service formats and delivers session nudges.
type Service struct {
	sender    Sender
	recipient string
	outbox    store.OutboxRepo
}

// Delivery reports what a send did.
type Delivery struct {
	Recipient string `json:"recipient"`
	Queued    bool   `json:"queued"`
	OutboxID  string `json:"outbox_id,omitempty"`
}

// outboxPayload is the queued form of every message kind.
type outboxPayload struct {
	SessionID string `json:"session_id,omitempty"`
	Day       string `json:"day,omitempty"`
	Body      string `json:"body"`
}

// NewService creates a Service. The recipient is validated and canonicalized.
func NewService(sender Sender, opts ...Option) (*Service, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if sender == nil {
		return nil, errors.New("sender cannot be nil")
	}
	if strings.TrimSpace(cfg.Recipient) == "" {
		return nil, ErrNoRecipient
	}
	recipient, err := CanonicalizeRecipient(cfg.Recipient)
	if err != nil {
		return nil, err
	}
	slog.Debug("notify.NewService: service ready", "outbox", cfg.Outbox != nil)
	return &Service{sender: sender, recipient: recipient, outbox: cfg.Outbox}, nil
}

// CanonicalizeRecipient strips formatting from a phone number and returns it
// in "+<digits>" form.
func CanonicalizeRecipient(recipient string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(recipient))
	if !phonePattern.MatchString(cleaned) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecipient, recipient)
	}
	return "+" + strings.TrimPrefix(cleaned, "+"), nil
}

// FormatNudge renders the message sent for a session.
func FormatNudge(s models.Session) string {
	var b strings.Builder
	if s.TimeBucket > 0 {
		fmt.Fprintf(&b, "Onebit: your one thing for the next %d minutes\n", int(s.TimeBucket))
	} else {
		b.WriteString("Onebit: your one thing\n")
	}
	fmt.Fprintf(&b, "Next: %s", strings.TrimSpace(s.CompressedAction))
	if len(s.RecoveryMicroSteps) > 0 {
		b.WriteString("\nIf it feels too big, try:")
		for i, step := range s.RecoveryMicroSteps {
			fmt.Fprintf(&b, "\n%d. %s", i+1, step)
		}
	}
	return b.String()
}

// FormatAnchor renders the daily anchor reminder.
func FormatAnchor(phrase string) string {
	return "Onebit anchor for today: " + strings.TrimSpace(phrase)
}

// SendSessionNudge sends or enqueues the nudge for s. Repeated calls for the
// same session while a nudge is still pending return the pending one.
func (svc *Service) SendSessionNudge(ctx context.Context, s models.Session) (Delivery, error) {
	p := outboxPayload{SessionID: s.ID, Body: FormatNudge(s)}
	d, err := svc.dispatch(ctx, KindSessionNudge, "nudge:"+s.ID, p)
	if err != nil {
		slog.Error("Service.SendSessionNudge: delivery failed", "session_id", s.ID, "error", err)
		return d, fmt.Errorf("failed to deliver nudge: %w", err)
	}
	slog.Info("Service.SendSessionNudge: nudge handled", "session_id", s.ID, "queued", d.Queued)
	return d, nil
}

// SendAnchor sends or enqueues the anchor reminder for day (YYYY-MM-DD).
// At most one reminder per day is pending at a time.
func (svc *Service) SendAnchor(ctx context.Context, day, phrase string) (Delivery, error) {
	if strings.TrimSpace(phrase) == "" {
		return Delivery{Recipient: svc.recipient}, errors.New("anchor phrase cannot be empty")
	}
	p := outboxPayload{Day: day, Body: FormatAnchor(phrase)}
	d, err := svc.dispatch(ctx, KindDailyAnchor, "anchor:"+day, p)
	if err != nil {
		slog.Error("Service.SendAnchor: delivery failed", "day", day, "error", err)
		return d, fmt.Errorf("failed to deliver anchor: %w", err)
	}
	slog.Info("Service.SendAnchor: anchor handled", "day", day, "queued", d.Queued)
	return d, nil
}

func (svc *Service) dispatch(ctx context.Context, kind, dedupeKey string, p outboxPayload) (Delivery, error) {
	d := Delivery{Recipient: svc.recipient}
	if svc.outbox == nil {
		return d, svc.sender.SendMessage(ctx, svc.recipient, p.Body)
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return d, fmt.Errorf("failed to encode payload: %w", err)
	}
	id, err := svc.outbox.EnqueueOutboxMessage(svc.recipient, kind, string(payload), dedupeKey)
	if err != nil {
		return d, fmt.Errorf("failed to queue message: %w", err)
	}
	d.Queued = true
	d.OutboxID = id
	return d, nil
}

// Deliver sends one outbox message. It is the store.OutboxSendFunc used by
// the background outbox sender.
func (svc *Service) Deliver(ctx context.Context, msg store.OutboxMessage) error {
	switch msg.Kind {
	case KindSessionNudge, KindDailyAnchor:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, msg.Kind)
	}
	var p outboxPayload
	if err := json.Unmarshal([]byte(msg.PayloadJSON), &p); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", msg.Kind, err)
	}
	return svc.sender.SendMessage(ctx, msg.Recipient, p.Body)
}

// Recipient returns the canonical recipient nudges are sent to.
func (svc *Service) Recipient() string {
	return svc.recipient
}
