// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/gradchat/internal/gradient"
	"github.com/jeranaias/gradchat/internal/model"
)

// Context window defaults, counted in user/assistant pairs.
const (
	DefaultContextSize    = 5
	DefaultMaxContextSize = 20
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Transport performs the HTTP exchange with the chat service.
type Transport interface {
	// Post sends the payload and returns the raw response body.
	Post(ctx context.Context, payload gradient.Payload) (string, error)

	// ListModels returns the available model names, or an empty slice when
	// the list cannot be fetched.
	ListModels(ctx context.Context) []string
}

// Exchange is one successful request/response round-trip.
type Exchange struct {
	Time    time.Time
	Message string
	Payload gradient.Payload
	Lines   []string
	Outcome gradient.Outcome
}

// Recorder persists exchanges. Errors are logged by the caller and never
// fail a generate call.
type Recorder interface {
	Record(ex Exchange) error
}

// Observer receives request measurements.
type Observer interface {
	RequestDone(model string, elapsed time.Duration, err error)
	LinesSkipped(n int)
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds the defaults applied to every generate call.
type Config struct {
	Model          string
	ClusterMode    string
	ContextSize    int
	MaxContextSize int
	EnableThinking bool
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Model:          gradient.DefaultModel,
		ClusterMode:    gradient.DefaultClusterMode,
		ContextSize:    DefaultContextSize,
		MaxContextSize: DefaultMaxContextSize,
	}
}

// normalize fills zero fields with defaults and caps ContextSize.
func (c Config) normalize() Config {
	if c.Model == "" {
		c.Model = gradient.DefaultModel
	}
	if c.ClusterMode == "" {
		c.ClusterMode = gradient.DefaultClusterMode
	}
	if c.MaxContextSize <= 0 {
		c.MaxContextSize = DefaultMaxContextSize
	}
	if c.ContextSize <= 0 {
		c.ContextSize = DefaultContextSize
	}
	if c.ContextSize > c.MaxContextSize {
		c.ContextSize = c.MaxContextSize
	}
	return c
}

// =============================================================================
// CLIENT
// =============================================================================

// Client drives one request at a time: it appends the user turn, sends the
// recent context and appends the decoded reply.
//
// A Client is not safe for concurrent use when callers rely on its default
// conversation. Concurrent sessions should pass their own Conversation with
// WithConversation.
type Client struct {
	transport Transport
	cfg       Config
	conv      *model.Conversation
	recorder  Recorder
	observer  Observer
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithRecorder sets where successful exchanges are recorded.
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDefaultConversation replaces the client-owned conversation.
func WithDefaultConversation(conv *model.Conversation) Option {
	return func(c *Client) {
		if conv != nil {
			c.conv = conv
		}
	}
}

// WithClock overrides the time source used for exchange timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient creates a client sending through t.
func NewClient(t Transport, cfg Config, opts ...Option) *Client {
	c := &Client{
		transport: t,
		cfg:       cfg.normalize(),
		conv:      model.NewConversation(),
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective defaults.
func (c *Client) Config() Config {
	return c.cfg
}

// Conversation returns the client-owned conversation.
func (c *Client) Conversation() *model.Conversation {
	return c.conv
}

// =============================================================================
// GENERATE
// =============================================================================

// GenerateOption overrides a default for a single call.
type GenerateOption func(*request)

type request struct {
	contextSize *int
	model       string
	clusterMode string
	thinking    *bool
	conv        *model.Conversation
}

// WithContextSize sets how many recent pairs are sent. Negative values fall
// back to the configured default; values above the maximum are clamped.
func WithContextSize(n int) GenerateOption {
	return func(r *request) { r.contextSize = &n }
}

// WithModel overrides the model. Empty means the configured default.
func WithModel(name string) GenerateOption {
	return func(r *request) { r.model = name }
}

// WithClusterMode overrides the cluster mode. Empty means the configured
// default.
func WithClusterMode(mode string) GenerateOption {
	return func(r *request) { r.clusterMode = mode }
}

// WithThinking turns reasoning output on or off.
func WithThinking(enabled bool) GenerateOption {
	return func(r *request) { r.thinking = &enabled }
}

// WithConversation sends against conv instead of the client-owned
// conversation.
func WithConversation(conv *model.Conversation) GenerateOption {
	return func(r *request) { r.conv = conv }
}

// resolveContextSize applies the default and the hard maximum.
func (c *Client) resolveContextSize(requested *int) int {
	n := c.cfg.ContextSize
	if requested != nil && *requested >= 0 {
		n = *requested
	}
	if n > c.cfg.MaxContextSize {
		n = c.cfg.MaxContextSize
	}
	return n
}

// Generate sends message with the recent conversation context and returns
// the decoded reply.
//
// The user message is appended before the request is sent and stays in the
// conversation even when the call fails. The assistant reply is appended
// only on success.
func (c *Client) Generate(ctx context.Context, message string, opts ...GenerateOption) (*gradient.Outcome, error) {
	req := request{}
	for _, opt := range opts {
		opt(&req)
	}

	conv := req.conv
	if conv == nil {
		conv = c.conv
	}

	conv.AddUserMessage(message)

	size := c.resolveContextSize(req.contextSize)
	window := conv.GetContext(size)
	if len(window) == 0 {
		window = model.ContextWindow{model.NewUserMessage(message)}
	}

	payload := gradient.Payload{
		Model:          firstNonEmpty(req.model, c.cfg.Model),
		ClusterMode:    firstNonEmpty(req.clusterMode, c.cfg.ClusterMode),
		Messages:       window,
		EnableThinking: c.cfg.EnableThinking,
	}
	if req.thinking != nil {
		payload.EnableThinking = *req.thinking
	}

	c.logger.Debug("sending generate request",
		zap.String("model", payload.Model),
		zap.String("cluster_mode", payload.ClusterMode),
		zap.Int("context_pairs", size),
		zap.Int("messages", len(window)),
		zap.Bool("thinking", payload.EnableThinking))

	start := c.now()
	outcome, lines, err := c.roundTrip(ctx, payload)
	c.observe(payload.Model, c.now().Sub(start), err)
	if err != nil {
		return nil, err
	}

	conv.AddAssistantMessage(outcome.Reply, outcome.Reasoning)

	c.record(Exchange{
		Time:    start,
		Message: message,
		Payload: payload,
		Lines:   lines,
		Outcome: *outcome,
	})

	return outcome, nil
}

// roundTrip posts the payload and decodes the body.
func (c *Client) roundTrip(ctx context.Context, payload gradient.Payload) (*gradient.Outcome, []string, error) {
	body, err := c.transport.Post(ctx, payload)
	if err != nil {
		return nil, nil, fmt.Errorf("generate request: %w", err)
	}

	lines := gradient.SplitLines(body)
	dec := gradient.NewDecoder()
	for _, line := range lines {
		dec.Feed(line)
	}
	if skipped := dec.Skipped(); skipped > 0 {
		c.logger.Debug("skipped malformed stream lines", zap.Int("count", skipped))
		if c.observer != nil {
			c.observer.LinesSkipped(skipped)
		}
	}

	outcome, err := dec.Finish()
	if err != nil {
		c.logger.Warn("generation did not complete",
			zap.String("model", payload.Model),
			zap.Int("lines", len(lines)),
			zap.Error(err))
		return nil, lines, fmt.Errorf("decode response: %w", err)
	}
	return outcome, lines, nil
}

func (c *Client) observe(modelName string, elapsed time.Duration, err error) {
	if c.observer != nil {
		c.observer.RequestDone(modelName, elapsed, err)
	}
}

func (c *Client) record(ex Exchange) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.Record(ex); err != nil {
		c.logger.Warn("failed to record exchange", zap.Error(err))
	}
}

// AvailableModels returns the models the service offers, or an empty slice
// when the list is unavailable.
func (c *Client) AvailableModels(ctx context.Context) []string {
	models := c.transport.ListModels(ctx)
	if models == nil {
		return []string{}
	}
	return models
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
