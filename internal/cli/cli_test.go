// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jeranaias/gradchat/internal/chat"
	"github.com/jeranaias/gradchat/internal/config"
	"github.com/jeranaias/gradchat/internal/gradient"
	"github.com/jeranaias/gradchat/internal/model"
	"github.com/jeranaias/gradchat/internal/runlog"
	"github.com/jeranaias/gradchat/internal/session"
	"github.com/jeranaias/gradchat/internal/storage"
)

const exampleBody = `{"type":"clusterInfo","data":{"model":"X"}}
{"type":"reply","data":{"content":"ab","reasoningContent":"r1"}}
{"type":"reply","data":{"content":"cd"}}
{"type":"jobInfo","data":{"status":"completed"}}`

// =============================================================================
// TEST HELPERS
// =============================================================================

type fakeTransport struct {
	mu       sync.Mutex
	body     string
	err      error
	models   []string
	payloads []gradient.Payload
}

func (f *fakeTransport) Post(ctx context.Context, payload gradient.Payload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return f.body, f.err
}

func (f *fakeTransport) ListModels(ctx context.Context) []string {
	return f.models
}

func (f *fakeTransport) last(t *testing.T) gradient.Payload {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.payloads)
	return f.payloads[len(f.payloads)-1]
}

type testEnv struct {
	home      string
	app       *app
	stdout    *bytes.Buffer
	stderr    *bytes.Buffer
	transport *fakeTransport
}

// newTestEnv isolates configuration in a temp dir and routes the chat
// service to a fake transport.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	home := t.TempDir()
	t.Setenv("GRADCHAT_HOME", home)
	for _, v := range []string{
		"GRADCHAT_BASE_URL", "GRADCHAT_MODEL", "GRADCHAT_CLUSTER_MODE", "GRADCHAT_THINKING",
		"GRADCHAT_LOG_DIR", "GRADCHAT_LOG_LEVEL", "GRADCHAT_DB", "GRADCHAT_METRICS_ADDR",
	} {
		t.Setenv(v, "")
	}
	t.Cleanup(config.ResetGlobalForTesting)

	env := &testEnv{
		home:      home,
		stdout:    &bytes.Buffer{},
		stderr:    &bytes.Buffer{},
		transport: &fakeTransport{body: exampleBody},
	}
	env.app = newApp(env.stdout, env.stderr)
	env.app.interactive = false
	env.app.newTransport = func(*config.Config, *zap.Logger) chat.Transport { return env.transport }
	return env
}

// run executes one command line against a fresh root command.
func (e *testEnv) run(t *testing.T, stdin string, args ...string) error {
	t.Helper()
	e.stdout.Reset()
	e.stderr.Reset()
	e.app.configPath, e.app.logLevel, e.app.logDir = "", "", ""

	root := newRootCommand(e.app)
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	return root.ExecuteContext(context.Background())
}

func (e *testEnv) loadConfig(t *testing.T) {
	t.Helper()
	require.NoError(t, e.app.setup(&cobra.Command{Use: "test"}))
}

// =============================================================================
// ASK TESTS
// =============================================================================

func TestAsk_PrintsReply(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.run(t, "", "ask", "What", "is", "up?"))
	assert.Contains(t, env.stdout.String(), "Reasoning: r1")
	assert.Contains(t, env.stdout.String(), "abcd")

	payload := env.transport.last(t)
	assert.Equal(t, gradient.DefaultModel, payload.Model)
	assert.Equal(t, gradient.DefaultClusterMode, payload.ClusterMode)
	assert.False(t, payload.EnableThinking)
	require.Len(t, payload.Messages, 1)
	assert.Equal(t, "What is up?", payload.Messages[0].Content)
}

func TestAsk_FlagOverrides(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.run(t, "", "ask", "--model", "Other", "--cluster", "amd", "--thinking", "--context", "3", "hi"))
	payload := env.transport.last(t)
	assert.Equal(t, "Other", payload.Model)
	assert.Equal(t, "amd", payload.ClusterMode)
	assert.True(t, payload.EnableThinking)
}

func TestAsk_JSON(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.run(t, "", "ask", "--json", "hi"))

	var resp struct {
		Success bool      `json:"success"`
		Data    AskResult `json:"data"`
		Command string    `json:"command"`
	}
	require.NoError(t, json.Unmarshal(env.stdout.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "ask", resp.Command)
	assert.Equal(t, AskResult{Model: "X", Reply: "abcd", Reasoning: "r1"}, resp.Data)
}

func TestAsk_JSONError(t *testing.T) {
	env := newTestEnv(t)
	env.transport.err = errors.New("connection refused")

	err := env.run(t, "", "ask", "--json", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	var resp JSONResponse
	require.NoError(t, json.Unmarshal(env.stdout.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Contains(t, *resp.Error, "connection refused")
}

func TestAsk_IncompleteJob(t *testing.T) {
	env := newTestEnv(t)
	env.transport.body = `{"type":"reply","data":{"content":"partial"}}`

	err := env.run(t, "", "ask", "hi")
	assert.ErrorIs(t, err, gradient.ErrJobIncomplete)
	assert.NotContains(t, env.stdout.String(), "partial")
}

func TestAsk_Stdin(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.run(t, "  from stdin\n", "ask", "-"))
	assert.Equal(t, "from stdin", env.transport.last(t).Messages[0].Content)

	assert.Error(t, env.run(t, "   ", "ask", "-"))
}

func TestAsk_WritesRunLog(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.run(t, "", "ask", "hello there"))

	runs, err := os.ReadDir(filepath.Join(env.home, "logs"))
	require.NoError(t, err)
	require.Len(t, runs, 1)

	runDir := filepath.Join(env.home, "logs", runs[0].Name())
	transcript, err := os.ReadFile(filepath.Join(runDir, runlog.TranscriptName))
	require.NoError(t, err)
	assert.Contains(t, string(transcript), "Question: hello there\n")
	assert.Contains(t, string(transcript), "Reply: abcd\n")

	files, err := runlog.ExchangeFiles(runDir)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestAsk_LogDirFlag(t *testing.T) {
	env := newTestEnv(t)
	dir := filepath.Join(t.TempDir(), "runs")

	require.NoError(t, env.run(t, "", "--log-dir", dir, "ask", "hi"))
	runs, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRoot_InvalidLogLevel(t *testing.T) {
	env := newTestEnv(t)
	assert.Error(t, env.run(t, "", "--log-level", "loud", "models"))
}

// =============================================================================
// MODELS TESTS
// =============================================================================

func TestModels(t *testing.T) {
	env := newTestEnv(t)
	env.transport.models = []string{"A", gradient.DefaultModel}

	require.NoError(t, env.run(t, "", "models"))
	assert.Equal(t, "  A\n* "+gradient.DefaultModel+"\n", env.stdout.String())
}

func TestModels_Empty(t *testing.T) {
	env := newTestEnv(t)
	env.transport.models = []string{}

	require.NoError(t, env.run(t, "", "models"))
	assert.Empty(t, env.stdout.String())
	assert.Contains(t, env.stderr.String(), "No models available")

	require.NoError(t, env.run(t, "", "models", "--json"))
	var resp struct {
		Data []string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(env.stdout.Bytes(), &resp))
	assert.NotNil(t, resp.Data)
	assert.Empty(t, resp.Data)
}

// =============================================================================
// CONFIG TESTS
// =============================================================================

func TestConfig_InitSetGet(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.run(t, "", "config", "path"))
	assert.Equal(t, filepath.Join(env.home, "config.toml")+"\n", env.stdout.String())

	require.NoError(t, env.run(t, "", "config", "init"))
	assert.FileExists(t, filepath.Join(env.home, "config.toml"))
	assert.Error(t, env.run(t, "", "config", "init"), "init must not overwrite")
	require.NoError(t, env.run(t, "", "config", "init", "--force"))

	require.NoError(t, env.run(t, "", "config", "set", "generation.context_size", "8"))
	require.NoError(t, env.run(t, "", "config", "get", "generation.context_size"))
	assert.Equal(t, "8\n", env.stdout.String())

	err := env.run(t, "", "config", "set", "generation.nope", "1")
	assert.ErrorIs(t, err, config.ErrUnknownKey)

	err = env.run(t, "", "config", "set", "generation.context_size", "99")
	assert.Error(t, err, "values failing validation are not written")
	require.NoError(t, env.run(t, "", "config", "get", "generation.context_size"))
	assert.Equal(t, "8\n", env.stdout.String())
}

func TestConfig_Show(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.run(t, "", "config", "show"))
	out := env.stdout.String()
	assert.Contains(t, out, "# defaults (no config file)")
	assert.Contains(t, out, "[generation]")
	assert.Contains(t, out, `cluster_mode = "nvidia"`)

	require.NoError(t, env.run(t, "", "config", "show", "--json"))
	var resp struct {
		Data config.Config `json:"data"`
	}
	require.NoError(t, json.Unmarshal(env.stdout.Bytes(), &resp))
	assert.Equal(t, 20, resp.Data.Generation.MaxContextSize)
}

func TestConfig_ExplicitFileMustBeValid(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nformat = \"xml\"\n"), 0600))

	err := env.run(t, "", "--config", path, "models")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.format")
}

func TestConfig_DefaultFileInvalidWarns(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.home, "config.toml"), []byte("[log]\nformat = \"xml\"\n"), 0600))
	env.transport.models = []string{"A"}

	require.NoError(t, env.run(t, "", "models"))
	assert.Contains(t, env.stderr.String(), "using defaults")
	assert.Contains(t, env.stdout.String(), "A")
}

// =============================================================================
// SESSIONS TESTS
// =============================================================================

func seedSession(t *testing.T, env *testEnv, name string) {
	t.Helper()
	env.loadConfig(t)
	store, err := env.app.openStore()
	require.NoError(t, err)
	defer store.Close()

	conv := model.NewConversation()
	conv.AddUserMessage("Hi")
	conv.AddAssistantMessage("Hello!", "greeting")
	require.NoError(t, store.Save(context.Background(), name, conv))
}

func TestSessions_ListShowDelete(t *testing.T) {
	env := newTestEnv(t)
	seedSession(t, env, "work")

	require.NoError(t, env.run(t, "", "sessions", "list"))
	assert.Contains(t, env.stdout.String(), "work")

	require.NoError(t, env.run(t, "", "sessions", "show", "work"))
	out := env.stdout.String()
	assert.Contains(t, out, "You: Hi")
	assert.Contains(t, out, "Assistant: Hello!")
	assert.Contains(t, out, "reasoning: greeting")

	require.NoError(t, env.run(t, "", "sessions", "delete", "work"))
	assert.ErrorIs(t, env.run(t, "", "sessions", "delete", "work"), storage.ErrSessionNotFound)
	assert.ErrorIs(t, env.run(t, "", "sessions", "show", "work"), storage.ErrSessionNotFound)
}

func TestSessions_ListJSON(t *testing.T) {
	env := newTestEnv(t)
	seedSession(t, env, "work")

	require.NoError(t, env.run(t, "", "sessions", "list", "--json"))
	var resp struct {
		Data []storage.SessionMeta `json:"data"`
	}
	require.NoError(t, json.Unmarshal(env.stdout.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "work", resp.Data[0].Name)
	assert.Equal(t, 2, resp.Data[0].MessageCount)
}

// =============================================================================
// REPL TESTS
// =============================================================================

// scriptedInput replays lines, then reports EOF.
type scriptedInput struct {
	lines []string
}

func (s *scriptedInput) Prompt(string) (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func TestChat_REPL(t *testing.T) {
	env := newTestEnv(t)
	env.loadConfig(t)

	in := &scriptedInput{lines: []string{
		"hello",
		"",
		"/context 3",
		"/thinking",
		"/model Other",
		"second",
		"/history",
		"/bogus",
		"/quit",
		"never sent",
	}}
	require.NoError(t, env.app.runChat(context.Background(), in, "work", true))

	out := env.stdout.String()
	assert.Contains(t, out, "Context set to 3 pairs.")
	assert.Contains(t, out, "Thinking on.")
	assert.Contains(t, out, "Model set to Other.")
	assert.Contains(t, out, "You: hello")
	assert.Contains(t, out, "Assistant: abcd")
	assert.Contains(t, env.stderr.String(), "unknown command /bogus")

	require.Len(t, env.transport.payloads, 2)
	first, second := env.transport.payloads[0], env.transport.payloads[1]
	assert.Equal(t, gradient.DefaultModel, first.Model)
	assert.False(t, first.EnableThinking)
	assert.Equal(t, "Other", second.Model)
	assert.True(t, second.EnableThinking)
	assert.Len(t, second.Messages, 3, "previous pair plus the new message")

	store, err := env.app.openStore()
	require.NoError(t, err)
	defer store.Close()
	conv, err := store.Load(context.Background(), "work")
	require.NoError(t, err)
	assert.Equal(t, 4, conv.Len())
}

func TestChat_ResumesSession(t *testing.T) {
	env := newTestEnv(t)
	seedSession(t, env, "work")

	in := &scriptedInput{lines: []string{"again"}}
	require.NoError(t, env.app.runChat(context.Background(), in, "work", true))
	assert.Contains(t, env.stdout.String(), "2 messages restored")

	payload := env.transport.last(t)
	require.Len(t, payload.Messages, 3)
	assert.Equal(t, "Hi", payload.Messages[0].Content)
	assert.Equal(t, "again", payload.Messages[2].Content)
}

func TestChat_ClearAndFailure(t *testing.T) {
	env := newTestEnv(t)
	env.loadConfig(t)
	env.transport.err = errors.New("boom")

	in := &scriptedInput{lines: []string{"hello", "/history", "/clear", "/history"}}
	require.NoError(t, env.app.runChat(context.Background(), in, "", true))

	out := env.stdout.String()
	assert.Contains(t, env.stderr.String(), "boom")
	assert.Contains(t, out, "You: hello", "a failed request keeps the user turn")
	assert.Contains(t, out, "Conversation cleared.")
	assert.Contains(t, out, "No messages yet.")
}

func TestChat_ContextCappedByClientAfterReload(t *testing.T) {
	env := newTestEnv(t)
	env.loadConfig(t)

	client, cleanup := env.app.newChatClient(nil)
	defer cleanup()
	limit := client.Config().MaxContextSize

	r := newREPL(env.app, client, session.NewManager(nil, env.app.cfg.SessionConfig(), nil), "work", &scriptedInput{})

	reloaded := config.Default()
	reloaded.Generation.MaxContextSize = limit * 2
	reloaded.Generation.ContextSize = limit * 2
	r.applyConfig(reloaded)
	assert.Equal(t, limit, r.current().maxContextSize)
	assert.Equal(t, limit, r.current().contextSize)

	r.contextCommand(fmt.Sprint(limit + 5))
	assert.Contains(t, env.stdout.String(), fmt.Sprintf("Context set to %d pairs.", limit))
	assert.Contains(t, env.stderr.String(), fmt.Sprintf("capped at %d", limit))

	reloaded.Generation.MaxContextSize = 2
	r.applyConfig(reloaded)
	assert.Equal(t, 2, r.current().maxContextSize)
	assert.Equal(t, 2, r.current().contextSize)
}

// =============================================================================
// DOCTOR TESTS
// =============================================================================

func TestDoctor_Healthy(t *testing.T) {
	env := newTestEnv(t)
	env.transport.models = []string{gradient.DefaultModel}

	require.NoError(t, env.run(t, "", "doctor", "--json"))

	var resp struct {
		Success bool       `json:"success"`
		Data    DoctorData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(env.stdout.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.True(t, resp.Data.Summary.Healthy)
	assert.Equal(t, 6, resp.Data.Summary.Passed)
	for _, check := range resp.Data.Checks {
		assert.Equal(t, "pass", check.Status, check.Name)
	}
}

func TestDoctor_ServiceDown(t *testing.T) {
	env := newTestEnv(t)

	err := env.run(t, "", "doctor")
	require.Error(t, err)
	out := env.stdout.String()
	assert.Contains(t, out, "[FAIL] No model list from "+gradient.DefaultBaseURL)
	assert.Contains(t, out, "[!!] Could not confirm model")
	assert.Contains(t, out, "1 failed")
}

func TestDoctor_UnknownModelWarns(t *testing.T) {
	env := newTestEnv(t)
	env.transport.models = []string{"A"}

	require.NoError(t, env.run(t, "", "doctor"))
	assert.Contains(t, env.stdout.String(), "not in the model list")
}

// =============================================================================
// EXIT CODE TESTS
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"usage", usageErrorf("bad"), ExitUsageError},
		{"unknown key", fmt.Errorf("set: %w", config.ErrUnknownKey), ExitUsageError},
		{"invalid name", storage.ErrInvalidName, ExitUsageError},
		{"config", &ConfigError{Err: errors.New("bad toml")}, ExitConfigError},
		{"validation", config.ValidateErrors{{Field: "log.level", Message: "bad"}}, ExitConfigError},
		{"not found", fmt.Errorf("load: %w", storage.ErrSessionNotFound), ExitNotFoundError},
		{"deadline", context.DeadlineExceeded, ExitTimeoutError},
		{"transport", &gradient.TransportError{Op: "generate", StatusCode: 502, Status: "Bad Gateway"}, ExitNetworkError},
		{"incomplete", gradient.ErrJobIncomplete, ExitServiceError},
		{"job failed", &gradient.JobFailedError{Status: "failed"}, ExitServiceError},
		{"other", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

// =============================================================================
// FORMATTING TESTS
// =============================================================================

func TestFormatModelList(t *testing.T) {
	assert.Equal(t, "* a\n  b\n", formatModelList([]string{"a", "b"}, "a"))
	assert.Empty(t, formatModelList(nil, "a"))
}

func TestFormatHistoryLine(t *testing.T) {
	msg := model.NewUserMessage("line one\nline two")
	assert.Equal(t, "You: line one\nline two", formatHistoryLine(msg, 0))
	assert.Equal(t, "You: line one...", formatHistoryLine(msg, 11))
}

func TestVersion(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.run(t, "", "version"))
	assert.True(t, strings.HasPrefix(env.stdout.String(), "gradchat "+Version+"\n"))
}
