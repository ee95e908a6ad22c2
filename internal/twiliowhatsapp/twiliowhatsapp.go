// Package twiliowhatsapp sends Onebit nudges through the Twilio messaging API.
package twiliowhatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Error variables for client configuration and sends.
var (
	ErrMissingCredentials = errors.New("account SID and auth token must be provided")
	ErrMissingFrom        = errors.New("from number must be provided")
	ErrEmptyRecipient     = errors.New("recipient cannot be empty")
)

// messageCreator is the subset of the Twilio REST API the client uses.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Opts holds configuration options for the Twilio client.
type Opts struct {
	AccountSID string
	AuthToken  string
	From       string // "whatsapp:+1234567890" for WhatsApp, "+1234567890" for SMS
}

// Option defines a configuration option for the Twilio client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFrom sets the sender address. A "whatsapp:" prefix selects WhatsApp
// delivery; a bare number sends SMS.
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// Client wraps the Twilio REST API.
type Client struct {
	api  messageCreator
	from string
}

// NewClient validates credentials and builds a REST client.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.From == "" {
		return nil, ErrMissingFrom
	}

	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{api: rest.Api, from: cfg.From}, nil
}

// SendMessage delivers body to a phone number in international format,
// using the same channel as the configured sender address.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return ErrEmptyRecipient
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(c.addressFor(to))
	params.SetFrom(c.from)
	params.SetBody(body)

	resp, err := c.api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	if resp != nil && resp.Sid != nil {
		slog.Debug("Twilio message sent", "to", to, "sid", *resp.Sid)
	}
	return nil
}

func (c *Client) addressFor(to string) string {
	if strings.HasPrefix(c.from, "whatsapp:") && !strings.HasPrefix(to, "whatsapp:") {
		return "whatsapp:" + to
	}
	return to
}

// MockClient records messages instead of sending them.
type MockClient struct {
	SentMessages []SentMessage
	Err          error
}

// SentMessage is one message captured by MockClient.
type SentMessage struct {
	To   string
	Body string
}

func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	if m.Err != nil {
		return m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}
