// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/gradchat/internal/gradient"
	"github.com/jeranaias/gradchat/internal/model"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

type fakeTransport struct {
	body     string
	err      error
	models   []string
	payloads []gradient.Payload
}

func (f *fakeTransport) Post(ctx context.Context, payload gradient.Payload) (string, error) {
	f.payloads = append(f.payloads, payload)
	return f.body, f.err
}

func (f *fakeTransport) ListModels(ctx context.Context) []string {
	return f.models
}

func (f *fakeTransport) last() gradient.Payload {
	return f.payloads[len(f.payloads)-1]
}

type fakeRecorder struct {
	exchanges []Exchange
	err       error
}

func (f *fakeRecorder) Record(ex Exchange) error {
	f.exchanges = append(f.exchanges, ex)
	return f.err
}

type fakeObserver struct {
	requests int
	errs     []error
	skipped  int
}

func (f *fakeObserver) RequestDone(model string, elapsed time.Duration, err error) {
	f.requests++
	f.errs = append(f.errs, err)
}

func (f *fakeObserver) LinesSkipped(n int) {
	f.skipped += n
}

func replyBody(reply, reasoning string) string {
	return strings.Join([]string{
		`{"type":"clusterInfo","data":{"model":"resolved"}}`,
		fmt.Sprintf(`{"type":"reply","data":{"content":%q,"reasoningContent":%q}}`, reply, reasoning),
		`{"type":"jobInfo","data":{"status":"completed"}}`,
	}, "\n")
}

// =============================================================================
// GENERATE TESTS
// =============================================================================

func TestGenerate_AppendsBothTurns(t *testing.T) {
	tr := &fakeTransport{body: replyBody("Hello!", "greeting")}
	client := NewClient(tr, DefaultConfig())

	out, err := client.Generate(context.Background(), "Hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello!", out.Reply)
	assert.Equal(t, "greeting", out.Reasoning)
	assert.Equal(t, "resolved", out.Model)

	msgs := client.Conversation().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.NewUserMessage("Hi"), msgs[0])
	assert.Equal(t, model.NewAssistantMessage("Hello!", "greeting"), msgs[1])

	p := tr.last()
	assert.Equal(t, gradient.DefaultModel, p.Model)
	assert.Equal(t, gradient.DefaultClusterMode, p.ClusterMode)
	assert.False(t, p.EnableThinking)
	assert.Equal(t, model.ContextWindow{model.NewUserMessage("Hi")}, p.Messages)
}

func TestGenerate_ContextSizeIsClamped(t *testing.T) {
	tr := &fakeTransport{body: replyBody("ok", "")}
	conv := model.NewConversation()
	for i := 0; i < 30; i++ {
		conv.AddUserMessage(fmt.Sprintf("u%d", i))
		conv.AddAssistantMessage(fmt.Sprintf("a%d", i), "")
	}
	client := NewClient(tr, DefaultConfig())

	_, err := client.Generate(context.Background(), "next", WithContextSize(100), WithConversation(conv))
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxContextSize, tr.last().Messages.AssistantTurns())
}

func TestGenerate_ContextSizeResolution(t *testing.T) {
	tests := []struct {
		name string
		opts []GenerateOption
		want int
	}{
		{name: "absent uses default", want: DefaultContextSize},
		{name: "negative uses default", opts: []GenerateOption{WithContextSize(-3)}, want: DefaultContextSize},
		{name: "explicit", opts: []GenerateOption{WithContextSize(2)}, want: 2},
		{name: "above maximum", opts: []GenerateOption{WithContextSize(21)}, want: DefaultMaxContextSize},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := NewClient(&fakeTransport{}, DefaultConfig())
			req := request{}
			for _, opt := range tc.opts {
				opt(&req)
			}
			assert.Equal(t, tc.want, client.resolveContextSize(req.contextSize))
		})
	}
}

func TestGenerate_ZeroContextFallsBackToMessage(t *testing.T) {
	tr := &fakeTransport{body: replyBody("ok", "")}
	client := NewClient(tr, DefaultConfig())
	_, err := client.Generate(context.Background(), "first")
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "second", WithContextSize(0))
	require.NoError(t, err)

	assert.Equal(t, model.ContextWindow{model.NewUserMessage("second")}, tr.last().Messages)
}

func TestGenerate_Overrides(t *testing.T) {
	tr := &fakeTransport{body: replyBody("ok", "")}
	cfg := DefaultConfig()
	cfg.EnableThinking = true
	client := NewClient(tr, cfg)

	_, err := client.Generate(context.Background(), "q",
		WithModel("Qwen3 235B"),
		WithClusterMode("amd"),
		WithThinking(false))
	require.NoError(t, err)

	p := tr.last()
	assert.Equal(t, "Qwen3 235B", p.Model)
	assert.Equal(t, "amd", p.ClusterMode)
	assert.False(t, p.EnableThinking)

	_, err = client.Generate(context.Background(), "q2", WithModel(""))
	require.NoError(t, err)
	assert.Equal(t, gradient.DefaultModel, tr.last().Model)
	assert.True(t, tr.last().EnableThinking)
}

func TestGenerate_TransportFailureKeepsUserMessage(t *testing.T) {
	transportErr := &gradient.TransportError{Op: "generate", StatusCode: 502, Status: "Bad Gateway"}
	tr := &fakeTransport{err: transportErr}
	obs := &fakeObserver{}
	rec := &fakeRecorder{}
	client := NewClient(tr, DefaultConfig(), WithObserver(obs), WithRecorder(rec))

	out, err := client.Generate(context.Background(), "Hi")
	assert.Nil(t, out)

	var te *gradient.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 502, te.StatusCode)

	msgs := client.Conversation().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleUser, msgs[0].Role)

	assert.Equal(t, 1, obs.requests)
	assert.Error(t, obs.errs[0])
	assert.Empty(t, rec.exchanges)
}

func TestGenerate_IncompleteJob(t *testing.T) {
	tr := &fakeTransport{body: `{"type":"reply","data":{"content":"partial"}}` + "\ngarbage\n"}
	obs := &fakeObserver{}
	client := NewClient(tr, DefaultConfig(), WithObserver(obs))

	_, err := client.Generate(context.Background(), "Hi")
	require.ErrorIs(t, err, gradient.ErrJobIncomplete)

	msgs := client.Conversation().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hi", msgs[0].Content)
	assert.Equal(t, 1, obs.skipped)
}

func TestGenerate_SuppliedConversation(t *testing.T) {
	tr := &fakeTransport{body: replyBody("ok", "")}
	client := NewClient(tr, DefaultConfig())
	conv := model.NewConversation()

	_, err := client.Generate(context.Background(), "Hi", WithConversation(conv))
	require.NoError(t, err)

	assert.Equal(t, 2, conv.Len())
	assert.True(t, client.Conversation().IsEmpty())
}

func TestGenerate_RecordsExchange(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := &fakeTransport{body: replyBody("ok", "why")}
	rec := &fakeRecorder{err: errors.New("disk full")}
	client := NewClient(tr, DefaultConfig(), WithRecorder(rec), WithClock(func() time.Time { return fixed }))

	out, err := client.Generate(context.Background(), "Hi")
	require.NoError(t, err, "recorder errors must not fail the call")
	require.Len(t, rec.exchanges, 1)

	ex := rec.exchanges[0]
	assert.Equal(t, fixed, ex.Time)
	assert.Equal(t, "Hi", ex.Message)
	assert.Equal(t, *out, ex.Outcome)
	assert.Len(t, ex.Lines, 3)
	assert.Equal(t, tr.last(), ex.Payload)
}

func TestGenerate_SendsRecentPairs(t *testing.T) {
	tr := &fakeTransport{body: replyBody("I'm fine.", "")}
	client := NewClient(tr, DefaultConfig())
	conv := client.Conversation()
	conv.AddUserMessage("Hi")
	conv.AddAssistantMessage("Hello!", "")

	_, err := client.Generate(context.Background(), "How are you?", WithContextSize(1))
	require.NoError(t, err)

	want := model.ContextWindow{
		model.NewUserMessage("Hi"),
		model.NewAssistantMessage("Hello!", ""),
		model.NewUserMessage("How are you?"),
	}
	assert.Equal(t, want, tr.last().Messages)
}

func TestAvailableModels(t *testing.T) {
	client := NewClient(&fakeTransport{models: []string{"a", "b"}}, DefaultConfig())
	assert.Equal(t, []string{"a", "b"}, client.AvailableModels(context.Background()))

	empty := NewClient(&fakeTransport{}, DefaultConfig())
	assert.Equal(t, []string{}, empty.AvailableModels(context.Background()))
}

func TestConfig_Normalize(t *testing.T) {
	cfg := Config{ContextSize: 50, MaxContextSize: 10}.normalize()
	assert.Equal(t, 10, cfg.ContextSize)
	assert.Equal(t, gradient.DefaultModel, cfg.Model)
	assert.Equal(t, gradient.DefaultClusterMode, cfg.ClusterMode)

	cfg = Config{ContextSize: -1}.normalize()
	assert.Equal(t, DefaultContextSize, cfg.ContextSize)
	assert.Equal(t, DefaultMaxContextSize, cfg.MaxContextSize)
}
