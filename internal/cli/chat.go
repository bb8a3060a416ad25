// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/gradchat/internal/chat"
	"github.com/jeranaias/gradchat/internal/config"
	"github.com/jeranaias/gradchat/internal/gradient"
	"github.com/jeranaias/gradchat/internal/model"
	"github.com/jeranaias/gradchat/internal/session"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// HistoryFileName is the REPL input history inside the config directory.
const HistoryFileName = "chat_history"

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a line editor and loads the saved input history.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(config.ConfigDir(), HistoryFileName),
	}
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
	return c
}

// Prompt reads one line, recording non-empty input in the history.
func (c *ChatCLI) Prompt(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves the history and restores the terminal.
// SECURITY: The history file is owner-only (0600).
func (c *ChatCLI) Close() {
	if err := config.EnsureConfigDir(); err == nil {
		if f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			c.line.WriteHistory(f)
			f.Close()
		}
	}
	c.line.Close()
}

// =============================================================================
// CHAT COMMAND
// =============================================================================

func newChatCommand(a *app) *cobra.Command {
	var sessionName string
	var noRender bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat. Type /help inside the session for commands.

With --session the conversation is saved under NAME after every reply and
resumed the next time the same name is used.`,
		Example: `  gradchat chat
  gradchat chat --session work`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !IsTTY() {
				return errors.New("stdin is not a terminal; use `gradchat ask -` for piped input")
			}
			in := NewChatCLI()
			defer in.Close()
			return a.runChat(cmd.Context(), in, sessionName, noRender)
		},
	}

	cmd.Flags().StringVarP(&sessionName, "session", "s", "", "save and resume the conversation under NAME")
	cmd.Flags().BoolVar(&noRender, "no-render", false, "print replies without markdown rendering")
	return cmd
}

// runChat opens the session, starts the metrics listener and config watcher,
// and runs the REPL until the user quits.
func (a *app) runChat(ctx context.Context, in lineReader, sessionName string, noRender bool) error {
	var archive session.Archive
	if sessionName != "" {
		store, err := a.openStore()
		if err != nil {
			return fmt.Errorf("open session archive: %w", err)
		}
		defer store.Close()
		archive = store
	}

	mgr := session.NewManager(archive, a.cfg.SessionConfig(), a.logger)
	conv, name, resumed, err := mgr.Open(ctx, sessionName)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	a.startMetrics(gctx, g)

	client, cleanup := a.newChatClient(conv)
	defer cleanup()

	r := newREPL(a, client, mgr, name, in)
	r.persist = archive != nil
	r.render = !noRender && a.stdoutIsTerminal()

	if path := a.activeConfigFile(); path != "" {
		g.Go(func() error {
			err := config.Watch(gctx, path, func(cfg *config.Config, err error) {
				if err != nil {
					a.logger.Warn("config reload failed", zap.Error(err))
					return
				}
				config.SetGlobal(cfg)
				r.applyConfig(cfg)
			})
			if err != nil {
				a.logger.Warn("config watcher stopped", zap.Error(err))
			}
			return nil
		})
	}

	r.printWelcome(resumed)
	g.Go(func() error {
		defer cancel()
		return r.run(gctx)
	})
	return g.Wait()
}

// =============================================================================
// REPL
// =============================================================================

// lineReader reads one line of input. *ChatCLI implements it.
type lineReader interface {
	Prompt(prompt string) (string, error)
}

// settings are the per-turn generate parameters the REPL can change.
type settings struct {
	model          string
	cluster        string
	contextSize    int
	maxContextSize int
	thinking       bool
}

// repl is one interactive chat session.
type repl struct {
	a      *app
	client *chat.Client
	mgr    *session.Manager
	name   string
	conv   *model.Conversation
	in     lineReader
	out    io.Writer
	errOut io.Writer

	persist bool
	render  bool

	mu  sync.Mutex
	cur settings
}

func newREPL(a *app, client *chat.Client, mgr *session.Manager, name string, in lineReader) *repl {
	r := &repl{
		a:      a,
		client: client,
		mgr:    mgr,
		name:   name,
		conv:   client.Conversation(),
		in:     in,
		out:    a.stdout,
		errOut: a.stderr,
	}
	r.applyConfig(a.cfg)
	return r
}

// applyConfig replaces the generate parameters with those of cfg. The context
// limit never exceeds the client's, which is fixed when the client is built.
func (r *repl) applyConfig(cfg *config.Config) {
	maxContext := cfg.Generation.MaxContextSize
	if limit := r.client.Config().MaxContextSize; maxContext <= 0 || maxContext > limit {
		maxContext = limit
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cur = settings{
		model:          cfg.Generation.Model,
		cluster:        cfg.Generation.ClusterMode,
		contextSize:    min(cfg.Generation.ContextSize, maxContext),
		maxContextSize: maxContext,
		thinking:       cfg.Generation.EnableThinking,
	}
}

func (r *repl) current() settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur
}

func (r *repl) update(fn func(s *settings)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.cur)
}

func (r *repl) printWelcome(resumed bool) {
	s := r.current()
	fmt.Fprintln(r.out, TitleStyle.Render("gradchat "+Version))
	fmt.Fprintf(r.out, "%s%s\n", RenderLabel("Model"), s.model)
	fmt.Fprintf(r.out, "%s%s\n", RenderLabel("Session"), r.name)
	if resumed {
		fmt.Fprintf(r.out, "%s%d messages restored\n", RenderLabel("Resumed"), r.conv.Len())
	}
	fmt.Fprintln(r.out, DimStyle.Render("Type /help for commands, /quit to exit."))
	fmt.Fprintln(r.out)
}

// run reads lines until EOF, Ctrl+C at the prompt or /quit.
func (r *repl) run(ctx context.Context) error {
	for {
		input, err := r.in.Prompt(PromptStyle.Render("gradchat> "))
		if err != nil {
			// EOF, Ctrl+D or Ctrl+C at the prompt.
			fmt.Fprintln(r.out)
			return r.finish(ctx)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if quit := r.command(ctx, input); quit {
				return r.finish(ctx)
			}
			continue
		}
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			return r.finish(ctx)
		}

		r.send(ctx, input)
	}
}

// send runs one generate call. Ctrl+C cancels the call, not the session.
func (r *repl) send(ctx context.Context, input string) {
	s := r.current()
	opts := []chat.GenerateOption{
		chat.WithModel(s.model),
		chat.WithClusterMode(s.cluster),
		chat.WithContextSize(s.contextSize),
		chat.WithThinking(s.thinking),
	}

	reqCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	var outcome *gradient.Outcome
	err := runWithSpinner(reqCtx, r.errOut, "Thinking", r.a.interactive, func(ctx context.Context) error {
		var err error
		outcome, err = r.client.Generate(ctx, input, opts...)
		return err
	})
	r.mgr.MarkDirty(r.name)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(r.errOut, WarningStyle.Render("[Cancelled]"))
		} else {
			r.a.errorf("%v", err)
		}
		return
	}

	displayReply(r.out, outcome.Reply, outcome.Reasoning, r.render, s.thinking)
	fmt.Fprintln(r.out)
	r.save(ctx)
}

// save persists the session when it is backed by the archive.
func (r *repl) save(ctx context.Context) {
	if !r.persist {
		return
	}
	if err := r.mgr.Persist(ctx, r.name); err != nil {
		r.a.logger.Warn("failed to save session", zap.String("session", r.name), zap.Error(err))
		fmt.Fprintf(r.errOut, "%s session not saved: %v\n", WarningStyle.Render("[WARN]"), err)
	}
}

func (r *repl) finish(ctx context.Context) error {
	if r.persist {
		if err := r.mgr.PersistAll(ctx); err != nil {
			r.a.logger.Warn("failed to save sessions", zap.Error(err))
			fmt.Fprintf(r.errOut, "%s session not saved: %v\n", WarningStyle.Render("[WARN]"), err)
		}
	}
	if status, err := r.mgr.GetStatus(r.name); err == nil {
		fmt.Fprintln(r.out, DimStyle.Render(fmt.Sprintf("Session %s: %d messages, %s",
			status.Name, status.Messages, session.FormatDuration(status.Duration))))
	}
	return nil
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

const chatHelp = `Commands:
  /help, /h            Show this help
  /clear, /c           Clear the conversation
  /model [name]        Show models or switch model
  /context [n]         Show or set the number of context pairs
  /thinking            Toggle thinking mode
  /history             Show the conversation
  /session             Show session status
  /quit, /q            Exit (also: exit, Ctrl+D)`

// command runs a slash command and reports whether the REPL should exit.
func (r *repl) command(ctx context.Context, input string) bool {
	fields := strings.Fields(input)
	name := strings.ToLower(fields[0])
	arg := strings.TrimSpace(strings.TrimPrefix(input, fields[0]))

	switch name {
	case "/help", "/h", "/?":
		fmt.Fprintln(r.out, chatHelp)

	case "/clear", "/c":
		r.conv.Clear()
		r.mgr.MarkDirty(r.name)
		r.save(ctx)
		fmt.Fprintln(r.out, SuccessStyle.Render("Conversation cleared."))

	case "/model", "/m":
		r.modelCommand(ctx, arg)

	case "/context":
		r.contextCommand(arg)

	case "/thinking", "/think":
		var on bool
		r.update(func(s *settings) {
			s.thinking = !s.thinking
			on = s.thinking
		})
		fmt.Fprintf(r.out, "Thinking %s.\n", onOff(on))

	case "/history":
		r.printHistory()

	case "/session":
		status, err := r.mgr.GetStatus(r.name)
		if err != nil {
			r.a.errorf("%v", err)
			return false
		}
		fmt.Fprintf(r.out, "%s%s\n", RenderLabel("Name"), status.Name)
		fmt.Fprintf(r.out, "%s%d\n", RenderLabel("Messages"), status.Messages)
		fmt.Fprintf(r.out, "%s%s\n", RenderLabel("Open for"), session.FormatDuration(status.Duration))
		fmt.Fprintf(r.out, "%s%t\n", RenderLabel("Saved"), r.persist && !status.IsDirty)

	case "/quit", "/q", "/exit":
		return true

	default:
		fmt.Fprintf(r.errOut, "%s unknown command %s (try /help)\n", WarningStyle.Render("[WARN]"), fields[0])
	}
	return false
}

func (r *repl) modelCommand(ctx context.Context, arg string) {
	if arg != "" {
		r.update(func(s *settings) { s.model = arg })
		fmt.Fprintf(r.out, "Model set to %s.\n", arg)
		return
	}

	current := r.current().model
	fmt.Fprintf(r.out, "Current model: %s\n", current)
	models := r.client.AvailableModels(ctx)
	if len(models) == 0 {
		fmt.Fprintln(r.out, DimStyle.Render("Model list unavailable."))
		return
	}
	fmt.Fprint(r.out, formatModelList(models, current))
}

func (r *repl) contextCommand(arg string) {
	s := r.current()
	if arg == "" {
		fmt.Fprintf(r.out, "Context: %d pairs (max %d).\n", s.contextSize, s.maxContextSize)
		return
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 {
		r.a.errorf("context must be a non-negative integer, got %q", arg)
		return
	}
	if n > s.maxContextSize {
		fmt.Fprintf(r.errOut, "%s capped at %d\n", WarningStyle.Render("[WARN]"), s.maxContextSize)
		n = s.maxContextSize
	}
	r.update(func(s *settings) { s.contextSize = n })
	fmt.Fprintf(r.out, "Context set to %d pairs.\n", n)
}

func (r *repl) printHistory() {
	msgs := r.conv.Messages()
	if len(msgs) == 0 {
		fmt.Fprintln(r.out, DimStyle.Render("No messages yet."))
		return
	}
	for _, msg := range msgs {
		fmt.Fprintln(r.out, formatHistoryLine(msg, 200))
	}
}

// formatHistoryLine renders one message as "Role: text". A positive maxLen
// shortens the text to a single-line preview.
func formatHistoryLine(msg model.Message, maxLen int) string {
	style := UserStyle
	if msg.Role == model.RoleAssistant {
		style = AssistantStyle
	}
	text := msg.Content
	if maxLen > 0 {
		text = strings.ReplaceAll(msg.Preview(maxLen), "\n", " ")
	}
	return style.Render(msg.Role.DisplayName()+":") + " " + text
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
