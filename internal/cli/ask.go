// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/gradchat/internal/chat"
	"github.com/jeranaias/gradchat/internal/gradient"
)

// askFlags holds the flags of the ask command.
type askFlags struct {
	model    string
	cluster  string
	context  int
	thinking bool
	json     bool
	noRender bool
}

func newAskCommand(a *app) *cobra.Command {
	var f askFlags

	cmd := &cobra.Command{
		Use:   "ask [flags] MESSAGE...",
		Short: "Ask a single question",
		Long: `Send one message and print the reply.

The words of MESSAGE are joined with spaces. Use "-" to read the message
from stdin.`,
		Example: `  gradchat ask "What is the capital of France?"
  gradchat ask --model "Qwen3 235B" --thinking Explain monads
  echo "Summarize this" | gradchat ask --json -`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message, err := askMessage(cmd, args)
			if err != nil {
				return err
			}

			opts := f.generateOptions(cmd)
			return a.runAsk(cmd.Context(), message, f, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.model, "model", "m", "", "model name (default from config)")
	flags.StringVar(&f.cluster, "cluster", "", "cluster mode (default from config)")
	flags.IntVar(&f.context, "context", chat.DefaultContextSize, "number of previous user/assistant pairs to send")
	flags.BoolVar(&f.thinking, "thinking", false, "ask the model to think before replying")
	flags.BoolVar(&f.json, "json", false, "print the result as JSON")
	flags.BoolVar(&f.noRender, "no-render", false, "print the reply without markdown rendering")
	return cmd
}

// generateOptions turns the flags the user actually set into overrides.
func (f askFlags) generateOptions(cmd *cobra.Command) []chat.GenerateOption {
	var opts []chat.GenerateOption
	flags := cmd.Flags()
	if flags.Changed("model") {
		opts = append(opts, chat.WithModel(f.model))
	}
	if flags.Changed("cluster") {
		opts = append(opts, chat.WithClusterMode(f.cluster))
	}
	if flags.Changed("context") {
		opts = append(opts, chat.WithContextSize(f.context))
	}
	if flags.Changed("thinking") {
		opts = append(opts, chat.WithThinking(f.thinking))
	}
	return opts
}

// askMessage joins the arguments, reading stdin for a lone "-".
func askMessage(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		args = []string{string(data)}
	}
	message := strings.TrimSpace(strings.Join(args, " "))
	if message == "" {
		return "", usageErrorf("message is empty")
	}
	return message, nil
}

func (a *app) runAsk(ctx context.Context, message string, f askFlags, opts []chat.GenerateOption) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	client, cleanup := a.newChatClient(nil)
	defer cleanup()

	var outcome *gradient.Outcome
	generate := func(ctx context.Context) error {
		var err error
		outcome, err = client.Generate(ctx, message, opts...)
		return err
	}

	if f.json {
		return outputJSON(a.stdout, "ask", func() (any, error) {
			if err := generate(ctx); err != nil {
				return nil, err
			}
			return AskResult{Model: outcome.Model, Reply: outcome.Reply, Reasoning: outcome.Reasoning}, nil
		})
	}

	if err := runWithSpinner(ctx, a.stderr, "Thinking", a.interactive, generate); err != nil {
		return err
	}

	render := !f.noRender && a.stdoutIsTerminal()
	displayReply(a.stdout, outcome.Reply, outcome.Reasoning, render, true)
	return nil
}
