// Package genai provides the optional model-backed task suggestion using the
// OpenAI API. Everything it returns is untrusted text that callers must run
// through focus.ValidateExternalSuggestion before showing it.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BTreeMap/Onebit/internal/models"
)

// Default configuration values for the client.
const (
	DefaultModel               = string(openai.ChatModelGPT4oMini)
	DefaultTemperature         = 0.3
	DefaultMaxCompletionTokens = 120
	DefaultCacheSize           = 256
	DefaultTimeout             = 20 * time.Second
)

// Error variables for suggestion failures.
var (
	ErrNoChoicesReturned = errors.New("no choices returned")
	ErrAPIKeyMissing     = errors.New("OpenAI API key not set")
	ErrEmptySuggestion   = errors.New("model returned empty content")
)

const suggestSystemPrompt = `You help a person who is struggling to focus pick ONE next action.
Reply with a single imperative sentence of at most 25 words that starts with a verb.
No greetings, no preamble, no lists, no encouragement.`

// blockerContext phrases each blocker for the prompt.
var blockerContext = map[models.BlockerKind]string{
	models.BlockerTooMany:   "too many things on their mind",
	models.BlockerLowEnergy: "low energy",
	models.BlockerAvoiding:  "avoiding something",
	models.BlockerUrgent:    "something urgent",
}

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter exposes the SDK completion service as a chatService.
type completionsAdapter struct {
	svc *openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey              string
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	CacheSize           int
	Timeout             time.Duration
	DebugMode           bool
	StateDir            string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxCompletionTokens caps the completion length.
func WithMaxCompletionTokens(n int64) Option {
	return func(o *Opts) { o.MaxCompletionTokens = n }
}

// WithCacheSize sets how many suggestions are memoized.
func WithCacheSize(n int) Option {
	return func(o *Opts) { o.CacheSize = n }
}

// WithTimeout bounds each API call.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithDebugMode writes every request and response under StateDir/debug.
func WithDebugMode(enabled bool) Option {
	return func(o *Opts) { o.DebugMode = enabled }
}

// WithStateDir sets the directory used for debug logs.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// Client generates task suggestions through the OpenAI chat API.
type Client struct {
	chat                chatService
	model               string
	temperature         float64
	maxCompletionTokens int64
	timeout             time.Duration
	cache               *lru.Cache[string, string]
	debugMode           bool
	stateDir            string
}

// NewClient creates a GenAI client. An API key is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:               DefaultModel,
		Temperature:         DefaultTemperature,
		MaxCompletionTokens: DefaultMaxCompletionTokens,
		CacheSize:           DefaultCacheSize,
		Timeout:             DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrAPIKeyMissing
	}

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	c := &Client{
		chat:                completionsAdapter{svc: &cli.Chat.Completions},
		model:               cfg.Model,
		temperature:         cfg.Temperature,
		maxCompletionTokens: cfg.MaxCompletionTokens,
		timeout:             cfg.Timeout,
		debugMode:           cfg.DebugMode,
		stateDir:            cfg.StateDir,
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, string](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create suggestion cache: %w", err)
		}
		c.cache = cache
	}
	slog.Debug("genai.NewClient: client ready", "model", c.model, "cache_size", cfg.CacheSize, "debug", c.debugMode)
	return c, nil
}

// SuggestTask asks the model for one next action given the raw dump, the
// declared blocker and the time budget. Identical inputs are served from cache.
func (c *Client) SuggestTask(ctx context.Context, dump string, blocker models.BlockerKind, budget models.TimeBudget) (string, error) {
	key := cacheKey(dump, blocker, budget)
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			slog.Debug("Client.SuggestTask: cache hit", "blocker", blocker, "budget", int(budget))
			return v, nil
		}
	}

	reason, ok := blockerContext[blocker]
	if !ok {
		reason = blockerContext[models.BlockerTooMany]
	}
	user := fmt.Sprintf("Brain dump:\n%s\n\nWhat makes focusing hard: %s\nTime available: %d minutes", strings.TrimSpace(dump), reason, int(budget))

	out, err := c.complete(ctx, "SuggestTask", suggestSystemPrompt, user)
	if err != nil {
		return "", err
	}
	if c.cache != nil {
		c.cache.Add(key, out)
	}
	return out, nil
}

// complete runs one system+user chat completion and returns the first choice.
func (c *Client) complete(ctx context.Context, method, system, user string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	if c.maxCompletionTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.maxCompletionTokens)
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("Client.complete: chat completion failed", "method", method, "error", err, "elapsed", time.Since(start))
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	c.writeDebugLog(method, params, resp)

	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptySuggestion
	}
	slog.Debug("Client.complete: chat completion succeeded", "method", method, "elapsed", time.Since(start))
	return content, nil
}

// writeDebugLog records one exchange as JSON when debug mode is on.
func (c *Client) writeDebugLog(method string, params openai.ChatCompletionNewParams, resp openai.ChatCompletion) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("Client.writeDebugLog: failed to create debug dir", "error", err)
		return
	}
	now := time.Now()
	entry := map[string]interface{}{
		"timestamp": now.Format(time.RFC3339Nano),
		"method":    method,
		"model":     c.model,
		"params":    params,
		"response":  resp,
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("Client.writeDebugLog: failed to marshal entry", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.json", now.Format("20060102T150405.000000000"), method)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		slog.Warn("Client.writeDebugLog: failed to write entry", "error", err)
	}
}

func cacheKey(dump string, blocker models.BlockerKind, budget models.TimeBudget) string {
	return fmt.Sprintf("%s\x00%d\x00%s", blocker, int(budget), strings.TrimSpace(dump))
}

// Notice maps a suggestion failure to the message shown next to the local
// fallback. Key problems are reported as configuration errors.
func Notice(err error) (message string, adminError bool) {
	var apiErr *openai.Error
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, ErrAPIKeyMissing):
		return "OpenAI API key is missing or invalid. Please contact the administrator to configure the API key.", true
	case errors.As(err, &apiErr) && (apiErr.StatusCode == 401 || apiErr.StatusCode == 403):
		return "OpenAI API key is missing or invalid. Please contact the administrator to configure the API key.", true
	case errors.Is(err, context.DeadlineExceeded):
		return "Request took too long. Using a suggested task.", false
	case errors.As(err, &apiErr) && apiErr.StatusCode >= 500:
		return "AI service temporarily unavailable. Using a suggested task.", false
	case errors.As(err, &apiErr):
		return "AI service error. Using a suggested task.", false
	default:
		return "Unable to generate task. Using a suggested alternative.", false
	}
}
